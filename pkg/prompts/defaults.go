package prompts

// DefaultAltText is used whenever the configured alt text template expands to
// a blank string.
const DefaultAltText = "Generate a brief (roughly 150 characters maximum) alt text description " +
	"focusing on the main subject and overall composition. Do not add a prefix of any kind " +
	"(e.g. alt text: AI content) so the value is suitable for the alt text attribute value of the image."

// DefaultAltTextTemplate is the template new installs start with.
const DefaultAltTextTemplate = DefaultAltText + " Output in {site.language}"

// DefaultTitle asks for an asset title.
const DefaultTitle = "Generate a descriptive title for this image that would be appropriate for a website. " +
	"The title should be concise but descriptive, and should not include any special characters or formatting."

// DefaultFilename asks for an SEO friendly filename without an extension.
const DefaultFilename = "Generate a SEO-friendly filename for this image. The filename should be descriptive, " +
	"use hyphens to separate words, and be appropriate for a website. " +
	"Do not include any special characters or file extensions."

// Kind names a prompt slot.
type Kind string

const (
	KindAltText  Kind = "alt_text"
	KindTitle    Kind = "title"
	KindFilename Kind = "filename"
)

var defaultPrompts = map[Kind]string{
	KindAltText:  DefaultAltTextTemplate,
	KindTitle:    DefaultTitle,
	KindFilename: DefaultFilename,
}

var fallbackPrompts = map[Kind]string{
	KindAltText:  DefaultAltText,
	KindTitle:    DefaultTitle,
	KindFilename: DefaultFilename,
}
