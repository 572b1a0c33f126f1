// Package template substitutes {{path.to.field}} placeholders in message and record templates.
package template

import (
	"regexp"
	"strings"

	"github.com/dukex/fieldflow/pkg/fieldpath"
)

var placeholder = regexp.MustCompile(`\{\{(\w+(?:\.\w+)*)\}\}`)

// Render replaces every placeholder whose path resolves in data with the
// value's plain-text form. Unresolved placeholders are kept verbatim, so the
// output may be partially rendered. Substituted values are not expanded again.
func Render(input string, data map[string]any) string {
	if !strings.Contains(input, "{{") {
		return input
	}

	return placeholder.ReplaceAllStringFunc(input, func(token string) string {
		path := token[2 : len(token)-2]

		value, ok := fieldpath.Resolve(data, path)
		if !ok {
			return token
		}

		return fieldpath.String(value)
	})
}
