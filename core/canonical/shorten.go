package canonical

import "fmt"

const (
	maxStringLength = 255
	maxListLength   = 20
)

// Shorten canonicalises a value and truncates oversized results: strings
// longer than 255 characters gain a "..." suffix and sequences longer than
// 20 elements are cut with a remainder marker. Mappings are left whole.
func Shorten(v any) any {
	out := Transform(v)
	switch t := out.(type) {
	case string:
		runes := []rune(t)
		if len(runes) > maxStringLength {
			return string(runes[:maxStringLength]) + "..."
		}
	case []any:
		if len(t) > maxListLength {
			trimmed := make([]any, 0, maxListLength+2)
			trimmed = append(trimmed, t[:maxListLength]...)
			trimmed = append(trimmed, "...", fmt.Sprintf("(%d more elements)", len(t)-maxListLength))
			return trimmed
		}
	}
	return out
}
