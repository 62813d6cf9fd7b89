package browser

import "strings"

// Text trims s and folds internal whitespace runs to single spaces, which is
// how rendered cell and option text is compared.
func Text(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
