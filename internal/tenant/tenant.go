// Package tenant centralises merchant identity normalisation for the
// multi-tenant (whitelabel/submerchant) ownership checks. The provider
// historically reports submerchant ids with a whitelabel prefix while orders
// store the bare id; both sides are normalised through Normalize before any
// comparison so the two conventions cannot diverge.
package tenant

import "strings"

// WhitelabelPrefix marks merchant identifiers issued under a whitelabel parent
// account. The provider applies it inconsistently across webhook payloads.
const WhitelabelPrefix = "wl_"

// Normalize trims whitespace and strips the whitelabel prefix from a merchant id.
func Normalize(merchantID string) string {
	id := strings.TrimSpace(merchantID)
	return strings.TrimPrefix(id, WhitelabelPrefix)
}

// Match reports whether two merchant identifiers refer to the same tenant
// after normalisation. Two empty identifiers do not match: an absent claim is
// never treated as ownership.
func Match(a, b string) bool {
	na, nb := Normalize(a), Normalize(b)
	if na == "" || nb == "" {
		return false
	}
	return na == nb
}
