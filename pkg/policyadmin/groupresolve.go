package policyadmin

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// GroupRef is one resolvable group-chat identity the bridge knows about.
type GroupRef struct {
	ChatID  string // full JID, e.g. "12345@g.us"
	Tag     string // user-set short name
	Comment string // policy-file annotation
	Subject string // bridge-reported group subject
}

// GroupAlias returns the "g-<hex10>" alias derived from SHA-256(chatID).
func GroupAlias(chatID string) string {
	sum := sha256.Sum256([]byte(chatID))
	return "g-" + hex.EncodeToString(sum[:])[:10]
}

// ResolveGroup finds the GroupRef matching query among candidates. query may
// be a full "...@g.us" JID, a "g-<hex10>" alias, a tag, a comment, or a
// substring of any of those (when the normalized query is at least 4
// characters). More than one match is an error enumerating every match.
func ResolveGroup(query string, candidates []GroupRef) (GroupRef, error) {
	norm := strings.ToLower(strings.TrimSpace(query))
	if norm == "" {
		return GroupRef{}, fmt.Errorf("empty group reference")
	}

	if strings.HasSuffix(norm, "@g.us") {
		for _, c := range candidates {
			if strings.ToLower(c.ChatID) == norm {
				return c, nil
			}
		}
		return GroupRef{}, fmt.Errorf("no group matches %q", query)
	}

	if strings.HasPrefix(norm, "g-") {
		for _, c := range candidates {
			if GroupAlias(c.ChatID) == norm {
				return c, nil
			}
		}
		return GroupRef{}, fmt.Errorf("no group matches alias %q", query)
	}

	var exact []GroupRef
	for _, c := range candidates {
		if strings.ToLower(c.Tag) == norm || strings.ToLower(c.Comment) == norm || strings.ToLower(c.Subject) == norm {
			exact = append(exact, c)
		}
	}
	if len(exact) == 1 {
		return exact[0], nil
	}
	if len(exact) > 1 {
		return GroupRef{}, ambiguousErr(query, exact)
	}

	if len(norm) < 4 {
		return GroupRef{}, fmt.Errorf("no group matches %q", query)
	}
	var partial []GroupRef
	for _, c := range candidates {
		if strings.Contains(strings.ToLower(c.Tag), norm) ||
			strings.Contains(strings.ToLower(c.Comment), norm) ||
			strings.Contains(strings.ToLower(c.Subject), norm) ||
			strings.Contains(strings.ToLower(c.ChatID), norm) {
			partial = append(partial, c)
		}
	}
	switch len(partial) {
	case 0:
		return GroupRef{}, fmt.Errorf("no group matches %q", query)
	case 1:
		return partial[0], nil
	default:
		return GroupRef{}, ambiguousErr(query, partial)
	}
}

func ambiguousErr(query string, matches []GroupRef) error {
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		label := m.Tag
		if label == "" {
			label = m.Subject
		}
		if label == "" {
			label = m.ChatID
		}
		names = append(names, fmt.Sprintf("%s (%s)", label, m.ChatID))
	}
	return fmt.Errorf("matches: %s", strings.Join(names, ", "))
}
