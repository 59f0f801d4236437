package services

import "strings"

// normalizeEmail canonicalizes an address before any store lookup or insert,
// so the same mailbox written in different case is one identity. Surrounding
// whitespace goes, a quoted local part that does not need quoting loses its
// quotes, and the result is lowercased. Format validation happens at the HTTP
// boundary; this only canonicalizes.
func normalizeEmail(email string) string {
	email = strings.TrimSpace(email)
	if at := strings.LastIndex(email, "@"); at > 0 {
		local, domain := email[:at], email[at+1:]
		if unquoted, ok := unquoteLocalPart(local); ok {
			local = unquoted
		}
		email = local + "@" + domain
	}
	return strings.ToLower(email)
}

// unquoteLocalPart strips the quotes from a quoted local part when the
// content would be valid unquoted. Anything needing quoting keeps its quotes.
func unquoteLocalPart(local string) (string, bool) {
	if len(local) < 3 || local[0] != '"' || local[len(local)-1] != '"' {
		return "", false
	}
	inner := local[1 : len(local)-1]
	for i := 0; i < len(inner); i++ {
		switch inner[i] {
		case '"', '\\', ' ', '@':
			return "", false
		}
	}
	return inner, true
}
