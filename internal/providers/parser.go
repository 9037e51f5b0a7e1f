package providers

import "strings"

// ProviderRef is one entry of a provider list such as "anthropic|groq:team".
type ProviderRef struct {
	Raw      string
	Name     string
	KeyAlias string
}

// ParseProviderList splits on "|" or ",", lowercases names and drops duplicates.
// An empty list yields the mock provider.
func ParseProviderList(raw string) []ProviderRef {
	parts := strings.FieldsFunc(raw, func(r rune) bool { return r == '|' || r == ',' })
	out := make([]ProviderRef, 0, len(parts))
	seen := map[string]bool{}
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" || seen[strings.ToLower(p)] {
			continue
		}
		seen[strings.ToLower(p)] = true
		ref := ProviderRef{Raw: p}
		if name, alias, ok := strings.Cut(p, ":"); ok {
			ref.Name = strings.ToLower(strings.TrimSpace(name))
			ref.KeyAlias = strings.TrimSpace(alias)
		} else {
			ref.Name = strings.ToLower(p)
		}
		out = append(out, ref)
	}
	if len(out) == 0 {
		out = append(out, ProviderRef{Raw: "mock", Name: "mock"})
	}
	return out
}
