package prompts

import (
	"regexp"
	"strings"
)

// Resolver looks up a named field for template expansion.
type Resolver interface {
	Resolve(field string) (string, bool)
}

var placeholderRe = regexp.MustCompile(`\{(asset|site)\.([A-Za-z_][A-Za-z0-9_]*)\}`)

// Expand replaces {asset.<field>} and {site.<field>} placeholders in one
// leftmost-first pass. Unknown fields and nil resolvers expand to "".
// Anything that is not a well-formed placeholder is left untouched.
func Expand(tmpl string, asset, site Resolver) string {
	if tmpl == "" {
		return ""
	}
	return placeholderRe.ReplaceAllStringFunc(tmpl, func(m string) string {
		sub := placeholderRe.FindStringSubmatch(m)
		var r Resolver
		switch sub[1] {
		case "asset":
			r = asset
		case "site":
			r = site
		}
		if r == nil {
			return ""
		}
		v, _ := r.Resolve(sub[2])
		return v
	})
}

// OrDefault returns expanded unless it is blank, in which case the fallback
// prompt for kind is returned.
func OrDefault(kind Kind, expanded string) string {
	if strings.TrimSpace(expanded) == "" {
		return fallbackPrompts[kind]
	}
	return expanded
}
