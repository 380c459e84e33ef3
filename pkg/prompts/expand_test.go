package prompts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soypete/alttext/pkg/assets"
)

func TestExpand(t *testing.T) {
	asset := &assets.Asset{ID: 42, Filename: "sunset.jpg", Title: "Sunset", Width: 640}
	site := &assets.Site{ID: 1, Handle: "en", Language: "en-US"}

	tests := []struct {
		name string
		tmpl string
		want string
	}{
		{"empty", "", ""},
		{"no placeholders", "Describe the image.", "Describe the image."},
		{"asset field", "Title: {asset.title}", "Title: Sunset"},
		{"site field", "Output in {site.language}", "Output in en-US"},
		{"repeated and mixed", "{asset.title}/{asset.title} {site.handle}", "Sunset/Sunset en"},
		{"unknown field", "[{asset.secret}]", "[]"},
		{"unknown scope", "{entry.title}", "{entry.title}"},
		{"nested braces", "{asset.{site.language}}", "{asset.en-US}"},
		{"unterminated", "{asset.title", "{asset.title"},
		{"bad identifier", "{asset.1abc}", "{asset.1abc}"},
		{"adjacent", "{asset.width}{asset.id}", "64042"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Expand(tt.tmpl, asset, site))
		})
	}
}

func TestExpandDoesNotRescanValues(t *testing.T) {
	asset := &assets.Asset{Title: "{asset.title}"}
	got := Expand("{asset.title} {asset.filename} {site.name}", asset, nil)
	// Substituted values are not rescanned.
	assert.Equal(t, "{asset.title}  ", got)
}

func TestExpandNilResolvers(t *testing.T) {
	assert.Equal(t, "a  b", Expand("a {asset.title} {site.language}b", nil, nil))

	var site *assets.Site
	assert.Equal(t, "x", Expand("x{site.language}", nil, site))
}

func TestOrDefault(t *testing.T) {
	assert.Equal(t, DefaultAltText, OrDefault(KindAltText, "   \n"))
	assert.Equal(t, DefaultTitle, OrDefault(KindTitle, ""))
	assert.Equal(t, "custom", OrDefault(KindAltText, "custom"))
}

func TestManagerTemplate(t *testing.T) {
	t.Run("built-in default", func(t *testing.T) {
		m := NewManager(nil)
		assert.Equal(t, DefaultAltTextTemplate, m.Template(KindAltText))
		assert.Equal(t, DefaultFilename, m.Template(KindFilename))
	})

	t.Run("configured template", func(t *testing.T) {
		m := NewManager(map[Kind]string{KindAltText: "Describe {asset.filename}", KindTitle: "  "})
		assert.Equal(t, "Describe {asset.filename}", m.Template(KindAltText))
		assert.Equal(t, DefaultTitle, m.Template(KindTitle))
	})

	t.Run("file override", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "alt_text.txt"), []byte("From file {site.name}\n"), 0o644))
		m := NewManagerWithDir(map[Kind]string{KindAltText: "configured"}, dir)
		assert.Equal(t, "From file {site.name}", m.Template(KindAltText))
		assert.Equal(t, "From file Main", m.Render(KindAltText, nil, &assets.Site{Name: "Main"}))
	})

	t.Run("render falls back when blank", func(t *testing.T) {
		m := NewManager(map[Kind]string{KindAltText: "{asset.title}"})
		assert.Equal(t, DefaultAltText, m.Render(KindAltText, &assets.Asset{}, nil))
	})
}
