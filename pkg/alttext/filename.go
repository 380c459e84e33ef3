package alttext

import (
	"path/filepath"
	"regexp"
	"strings"
)

var (
	separatorRe = regexp.MustCompile(`[\s_]+`)
	invalidRe   = regexp.MustCompile(`[^a-z0-9-]`)
	dashesRe    = regexp.MustCompile(`-{2,}`)
)

// maxFilenameStem bounds the length of a generated filename stem.
const maxFilenameStem = 80

// CleanFilename turns model output into a lowercase, dash-separated filename
// stem. Any extension the model added is dropped.
func CleanFilename(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.Trim(s, `"'`+"`")
	if ext := filepath.Ext(s); ext != "" && len(ext) <= 5 && !strings.ContainsAny(ext, " -") {
		s = strings.TrimSuffix(s, ext)
	}
	s = strings.ToLower(s)
	s = separatorRe.ReplaceAllString(s, "-")
	s = invalidRe.ReplaceAllString(s, "")
	s = dashesRe.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if len(s) > maxFilenameStem {
		s = strings.TrimRight(s[:maxFilenameStem], "-")
	}
	return s
}
