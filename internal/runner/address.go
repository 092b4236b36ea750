package runner

import (
	"strings"

	"shipsanity/internal/shopify"
	"shipsanity/internal/store"
)

const fallbackAddress1 = "Sanity Test Address"

// address1For picks the street line: the scenario's own, else "district, city", else a placeholder.
func address1For(d store.Destination) string {
	if a := strings.TrimSpace(d.Address1); a != "" {
		return a
	}
	var parts []string
	for _, p := range []string{d.District, d.City} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) > 0 {
		return strings.Join(parts, ", ")
	}
	return fallbackAddress1
}

// matchProvince maps a free-form name to a subdivision code.
// Exact name or code matches win over an "XX-code" suffix, which wins over a substring of the name.
func matchProvince(provinces []shopify.Province, target string) string {
	target = norm(target)
	if target == "" {
		return ""
	}
	for _, p := range provinces {
		if norm(p.Name) == target || norm(p.Code) == target || strings.HasSuffix(norm(p.Code), "-"+target) {
			return p.Code
		}
	}
	for _, p := range provinces {
		if strings.Contains(norm(p.Name), target) {
			return p.Code
		}
	}
	return ""
}

func norm(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
