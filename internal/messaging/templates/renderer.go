package templates

import (
	"regexp"
	"strings"
)

var placeholder = regexp.MustCompile(`\{([\p{L}\p{N}_]+)\}`)

// Standard variable names filled from the target and its organization.
// Both the Portuguese and English spellings are populated.
const (
	VarName      = "nome"
	VarNameEN    = "name"
	VarFirstName = "primeiro_nome"
	VarFirstEN   = "first_name"
	VarClinic    = "clinica"
	VarClinicEN  = "clinic"
)

// Renderer substitutes {variable} placeholders in follow-up templates.
// Rendering is total: unknown placeholders become the empty string.
type Renderer struct{}

// Render replaces every {name} placeholder with vars[name].
func (Renderer) Render(tmpl string, vars map[string]string) string {
	if tmpl == "" {
		return ""
	}
	return placeholder.ReplaceAllStringFunc(tmpl, func(match string) string {
		key := match[1 : len(match)-1]
		return vars[key]
	})
}

// Placeholders lists the distinct variable names referenced by tmpl, in order of appearance.
func (Renderer) Placeholders(tmpl string) []string {
	seen := make(map[string]struct{})
	var names []string
	for _, m := range placeholder.FindAllStringSubmatch(tmpl, -1) {
		if _, ok := seen[m[1]]; ok {
			continue
		}
		seen[m[1]] = struct{}{}
		names = append(names, m[1])
	}
	return names
}

// StandardVariables builds the variable bag derived from the target display
// name and the organization name.
func StandardVariables(displayName, orgName string) map[string]string {
	displayName = strings.TrimSpace(displayName)
	first := displayName
	if idx := strings.IndexFunc(displayName, isSpace); idx > 0 {
		first = displayName[:idx]
	}
	orgName = strings.TrimSpace(orgName)
	return map[string]string{
		VarName:      displayName,
		VarNameEN:    displayName,
		VarFirstName: first,
		VarFirstEN:   first,
		VarClinic:    orgName,
		VarClinicEN:  orgName,
	}
}

// Merge overlays caller-supplied variables on top of the standard ones.
func Merge(standard, vars map[string]string) map[string]string {
	out := make(map[string]string, len(standard)+len(vars))
	for k, v := range standard {
		out[k] = v
	}
	for k, v := range vars {
		out[k] = v
	}
	return out
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n'
}
