package server

import "strings"

const bearerPrefix = "Bearer "

// BearerToken returns the token of an "Authorization: Bearer <token>"
// header value, matching the scheme case-insensitively. Anything else,
// including a blank token, yields "".
func BearerToken(header string) string {
	if len(header) <= len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(header[len(bearerPrefix):])
}
