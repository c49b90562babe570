package security

import (
	"context"
	"encoding/json"
	"strings"
)

// Classifier is the optional async second input-security layer (an LLM
// risk classifier). Errors fail open: the caller treats them the same as a
// "low" risk result.
type Classifier interface {
	Classify(ctx context.Context, text string) (risk string, err error)
}

// Config controls which stages run and how failures are handled.
type Config struct {
	FailMode           FailMode
	RedactionPlaceholder string
	Classifier         Classifier
}

// Engine runs the staged input/tool/output checks.
type Engine struct {
	cfg Config
}

func NewEngine(cfg Config) *Engine {
	if cfg.FailMode == "" {
		cfg.FailMode = FailMixed
	}
	if cfg.RedactionPlaceholder == "" {
		cfg.RedactionPlaceholder = "[redacted]"
	}
	return &Engine{cfg: cfg}
}

// CheckInput runs the regex stage (and, if regex allows, the optional async
// classifier) against user-authored text.
func (e *Engine) CheckInput(ctx context.Context, text string) Verdict {
	norm := Normalize(text)
	if r, ok := matchHighestSeverity(inputRules, norm.Compact); ok {
		action := severityToInputAction(r.severity)
		if action != ActionAllow {
			return Verdict{Action: action, Severity: r.severity, Rule: r.name}
		}
	}

	if e.cfg.Classifier != nil {
		risk, err := e.cfg.Classifier.Classify(ctx, norm.Original)
		if err != nil {
			// Classifier failures always fail open regardless of FailMode:
			// it is a secondary layer behind the regex stage, which already ran.
			return allowVerdict()
		}
		switch risk {
		case "high":
			return Verdict{Action: ActionBlock, Severity: SeverityHigh, Rule: "classifier"}
		case "medium":
			return Verdict{Action: ActionWarn, Severity: SeverityMedium, Rule: "classifier"}
		}
	}

	return allowVerdict()
}

// CheckTool runs the tool stage against a tool name and its JSON-serializable
// arguments.
func (e *Engine) CheckTool(toolName string, args any) Verdict {
	serialized, err := json.Marshal(args)
	if err != nil {
		return e.toolFailVerdict()
	}
	norm := Normalize(string(serialized))

	if r, ok := matchHighestSeverity(sensitivePathRules, norm.Lowered); ok {
		if toolName == "fs_read" || toolName == "fs_write" || toolName == "exec" || toolName == "shell" {
			return Verdict{Action: ActionBlock, Severity: r.severity, Rule: r.name}
		}
	}

	if toolName == "exec" || toolName == "shell" {
		if r, ok := matchHighestSeverity(execHighRiskRules, norm.Lowered); ok {
			return Verdict{Action: ActionBlock, Severity: r.severity, Rule: r.name}
		}
		if r, ok := matchHighestSeverity(execMediumRiskRules, norm.Lowered); ok {
			return Verdict{Action: ActionWarn, Severity: r.severity, Rule: r.name}
		}
	}

	if toolName == "spawn" {
		if r, ok := matchHighestSeverity(spawnRiskRules, norm.Compact); ok {
			return Verdict{Action: ActionBlock, Severity: r.severity, Rule: r.name}
		}
	}

	return allowVerdict()
}

func (e *Engine) toolFailVerdict() Verdict {
	switch e.cfg.FailMode {
	case FailOpen:
		return allowVerdict()
	case FailClosed, FailMixed:
		return Verdict{Action: ActionBlock, Rule: "fail_mode"}
	default:
		return Verdict{Action: ActionBlock, Rule: "fail_mode"}
	}
}

// CheckOutput scans assistant-authored text for secret-shaped substrings and
// redacts them in place.
func (e *Engine) CheckOutput(text string) Verdict {
	sanitized := text
	matched := false
	var matchedRule string
	for _, r := range outputSecretRules {
		if r.pattern.MatchString(sanitized) {
			matched = true
			matchedRule = r.name
			sanitized = r.pattern.ReplaceAllString(sanitized, e.cfg.RedactionPlaceholder)
		}
	}
	if !matched {
		return allowVerdict()
	}
	return Verdict{Action: ActionSanitize, Severity: SeverityHigh, Rule: matchedRule, Text: sanitized}
}

// sensitiveContextKeys are log-context map keys that get fully redacted
// regardless of value shape.
var sensitiveContextKeys = []string{
	"password", "secret", "token", "api_key", "apikey", "auth",
	"credential", "private_key", "cookie",
}

const maxLogValueChars = 512

// SanitizeContext recursively scrubs a log-context map before it reaches the
// logger: sensitive-named keys are fully redacted, string values are scanned
// against the output-stage secret patterns, and all strings are truncated.
func (e *Engine) SanitizeContext(ctx map[string]any) map[string]any {
	out := make(map[string]any, len(ctx))
	for k, v := range ctx {
		if isSensitiveKey(k) {
			out[k] = e.cfg.RedactionPlaceholder
			continue
		}
		out[k] = e.sanitizeValue(v)
	}
	return out
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range sensitiveContextKeys {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

func (e *Engine) sanitizeValue(v any) any {
	switch val := v.(type) {
	case string:
		return e.sanitizeString(val)
	case map[string]any:
		return e.SanitizeContext(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = e.sanitizeValue(item)
		}
		return out
	default:
		return val
	}
}

func (e *Engine) sanitizeString(s string) string {
	for _, r := range outputSecretRules {
		s = r.pattern.ReplaceAllString(s, e.cfg.RedactionPlaceholder)
	}
	if len(s) > maxLogValueChars {
		s = s[:maxLogValueChars] + "…"
	}
	return s
}
