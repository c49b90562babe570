package pipeline

import "github.com/sipeed/picoclaw-orchestrator/pkg/policy"

// PolicyEvaluator is the subset of *policy.Engine the policy stage needs.
type PolicyEvaluator interface {
	Evaluate(ev policy.Event) policy.Decision
}

// PolicyStage calls the policy engine and stores the resulting decision on
// the Context for every later stage to read.
func PolicyStage(engine PolicyEvaluator) Middleware {
	return func(c *Context, next func(*Context)) {
		c.Decision = engine.Evaluate(policy.Event{
			Channel:           c.Event.Channel,
			ChatID:            c.Event.ChatID,
			SenderID:          c.Event.SenderID,
			SenderUsername:    c.Event.SenderUsername,
			SenderCanonicalID: c.Event.SenderCanonicalID,
			IsGroup:           c.Event.IsGroup,
			MentionedBot:      c.Event.MentionedBot,
			ReplyToBot:        c.Event.ReplyToBot,
			IsVoice:           c.Event.IsVoice,
			NormalizedContent: c.Event.NormalizedContent(),
		})
		next(c)
	}
}
