package model

import "strings"

// MaskToken renders a credential safe for display and audit: first and last
// four characters visible, rest starred out. Tokens of eight characters or
// fewer are fully masked.
func MaskToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 8 {
		return strings.Repeat("*", len(token))
	}
	return token[:4] + strings.Repeat("*", len(token)-8) + token[len(token)-4:]
}
