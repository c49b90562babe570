package identity

import "strings"

// NormalizeToken lowercases, trims, and strips a leading "@" from a raw
// policy-file sender token or identity field, producing the form used for
// set membership comparisons throughout the policy engine.
func NormalizeToken(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.TrimPrefix(s, "@")
}

// AliasSet returns every normalized token that could plausibly identify
// sender on the given channel. Policy sender lists are written against any
// of these forms; matching is alias-set intersection rather than a single
// canonical comparison, so a policy author can write "@alice",
// "telegram:123", or a bare WhatsApp phone number interchangeably.
func AliasSet(channel string, platformID, username, canonicalID string) map[string]struct{} {
	set := make(map[string]struct{})
	add := func(tok string) {
		tok = NormalizeToken(tok)
		if tok != "" {
			set[tok] = struct{}{}
		}
	}

	add(platformID)
	add(username)
	add(canonicalID)

	channel = strings.ToLower(strings.TrimSpace(channel))

	switch channel {
	case "telegram":
		// "@name" and "name" are equivalent.
		if username != "" {
			add(strings.TrimPrefix(username, "@"))
			add("@" + strings.TrimPrefix(username, "@"))
		}
	case "whatsapp", "whatsapp_native":
		// JID variants: "123:1@s.whatsapp.net", "123@s.whatsapp.net", "123".
		base := platformID
		if idx := strings.IndexByte(base, ':'); idx >= 0 {
			base = base[:idx]
		}
		base = strings.TrimSuffix(base, "@s.whatsapp.net")
		base = strings.TrimSuffix(base, "@g.us")
		if base != "" {
			add(base)
			add(base + "@s.whatsapp.net")
			// Toggle a leading "+" on numeric phone numbers in both directions.
			if strings.HasPrefix(base, "+") {
				add(strings.TrimPrefix(base, "+"))
			} else if isNumeric(base) {
				add("+" + base)
			}
		}
	}

	return set
}

// SetsIntersect reports whether a and b share at least one normalized token.
func SetsIntersect(a, b map[string]struct{}) bool {
	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}
	for tok := range small {
		if _, ok := large[tok]; ok {
			return true
		}
	}
	return false
}

// ContainsToken reports whether set contains the normalized form of raw.
func ContainsToken(set map[string]struct{}, raw string) bool {
	_, ok := set[NormalizeToken(raw)]
	return ok
}
