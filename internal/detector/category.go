package detector

import "strings"

const (
	catConflict        = "Conflict"
	catNaturalDisaster = "Natural disaster"
	catFoodSecurity    = "Food security"
)

// categorize maps a free-text cause (e.g. a reported displacement
// reason, possibly listing several reasons) to an alert category.
// Priority order when multiple causes appear: conflict, then natural
// disaster, then economic. Unknown or empty causes default to conflict.
func categorize(cause string) string {
	c := strings.ToLower(strings.TrimSpace(cause))
	switch {
	case strings.Contains(c, "conflict"):
		return catConflict
	case strings.Contains(c, "natural disaster"):
		return catNaturalDisaster
	case strings.Contains(c, "economic"):
		return catFoodSecurity
	default:
		return catConflict
	}
}
