package pipeline

import (
	"strings"
	"sync"
	"time"

	"github.com/gomarkdown/markdown/ast"
	"github.com/gomarkdown/markdown/parser"
)

// stripMarkdown renders s to plain text by walking the parsed AST and
// concatenating leaf text/code nodes, dropping formatting markers entirely
// rather than rendering to HTML and stripping tags.
func stripMarkdown(s string) string {
	p := parser.NewWithExtensions(parser.CommonExtensions)
	doc := p.Parse([]byte(s))

	var b strings.Builder
	ast.WalkFunc(doc, func(node ast.Node, entering bool) ast.WalkStatus {
		if !entering {
			return ast.GoToNext
		}
		switch n := node.(type) {
		case *ast.Text:
			b.Write(n.Literal)
		case *ast.Code:
			b.Write(n.Literal)
		case *ast.CodeBlock:
			b.Write(n.Literal)
		case *ast.Hardbreak, *ast.Softbreak:
			b.WriteByte('\n')
		}
		return ast.GoToNext
	})
	return strings.TrimSpace(b.String())
}

// truncateForVoice cuts text to the first maxSentences sentences, then hard
// caps at maxChars. Zero values disable the corresponding limit.
func truncateForVoice(text string, maxSentences, maxChars int) string {
	out := text
	if maxSentences > 0 {
		count := 0
		for i, r := range out {
			if r == '.' || r == '!' || r == '?' {
				count++
				if count >= maxSentences {
					out = out[:i+1]
					break
				}
			}
		}
	}
	if maxChars > 0 && len(out) > maxChars {
		out = strings.TrimSpace(out[:maxChars])
	}
	return out
}

// ownerAlertCooldown gates per-reason owner diagnostics so a burst of
// synthesis failures doesn't spam the owner chat.
type ownerAlertCooldown struct {
	min time.Duration

	mu       sync.Mutex
	lastSent map[string]time.Time
	nowFunc  func() time.Time
}

func newOwnerAlertCooldown(min time.Duration) *ownerAlertCooldown {
	if min <= 0 {
		min = 30 * time.Second
	}
	return &ownerAlertCooldown{min: min, lastSent: map[string]time.Time{}, nowFunc: time.Now}
}

// allow reports whether an alert for reason may fire now. Denied attempts
// don't extend the window, so a steady failure stream still alerts once per
// cooldown period.
func (c *ownerAlertCooldown) allow(reason string) bool {
	now := c.nowFunc()
	c.mu.Lock()
	defer c.mu.Unlock()
	if last, ok := c.lastSent[reason]; ok && now.Sub(last) < c.min {
		return false
	}
	c.lastSent[reason] = now
	return true
}
