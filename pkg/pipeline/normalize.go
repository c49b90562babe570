package pipeline

// NormalizationStage strips whitespace from the event content. Empty
// content after stripping halts the chain — there's nothing for later
// stages to act on.
func NormalizationStage() Middleware {
	return func(c *Context, next func(*Context)) {
		normalized := c.Event.NormalizedContent()
		if normalized == "" {
			c.Emit(metricIntent("event_drop_empty", 1, nil))
			c.Halt()
			return
		}
		c.Event.Content = normalized
		next(c)
	}
}
