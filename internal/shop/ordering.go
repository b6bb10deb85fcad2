package shop

import (
	"fmt"
	"strings"
)

// Sortable fields per entity, as accepted in ListOptions.Ordering.
var (
	ProductOrderingFields = []string{"name", "price", "discount"}
	OrderOrderingFields   = []string{"delivery_address", "created_at", "user"}
)

// ParseOrdering splits an ordering expression like "-price" into its field and
// direction, validating the field against allowed. An empty expression yields
// an empty field.
func ParseOrdering(expr string, allowed []string) (field string, desc bool, err error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return "", false, nil
	}
	if strings.HasPrefix(expr, "-") {
		desc = true
		expr = expr[1:]
	}
	for _, f := range allowed {
		if f == expr {
			return f, desc, nil
		}
	}
	return "", false, fmt.Errorf("%w %q (allowed: %s)", ErrInvalidOrdering, expr, strings.Join(allowed, ", "))
}
