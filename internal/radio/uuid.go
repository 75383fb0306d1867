package radio

import "strings"

// NormalizeUUID converts a UUID string to the comparison form used across
// backends: lowercase, no dashes, no 0x prefix.
func NormalizeUUID(uuid string) string {
	s := strings.ToLower(strings.TrimSpace(uuid))
	s = strings.TrimPrefix(s, "0x")
	return strings.ReplaceAll(s, "-", "")
}

// SameUUID reports whether two UUID strings denote the same identifier.
func SameUUID(a, b string) bool {
	return NormalizeUUID(a) == NormalizeUUID(b)
}
