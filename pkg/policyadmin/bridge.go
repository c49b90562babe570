package policyadmin

import (
	"context"
	"strings"

	"github.com/sipeed/picoclaw-orchestrator/pkg/identity"
	"github.com/sipeed/picoclaw-orchestrator/pkg/pipeline"
	"github.com/sipeed/picoclaw-orchestrator/pkg/policy"
)

// Handler adapts a Service into pipeline.AdminCommandHandler: it recognizes
// "policy ..." DM commands, resolves the caller's owner status directly from
// the on-disk policy document (independent of the compiled/reloadable policy
// used for message evaluation, so a broken reload never locks the owner out
// of admin commands), and executes them.
type Handler struct {
	Service *Service
}

// NewHandler wraps svc for use as a pipeline.AdminCommandHandler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Service: svc}
}

var _ pipeline.AdminCommandHandler = (*Handler)(nil)

// TryHandle implements pipeline.AdminCommandHandler.
func (h *Handler) TryHandle(ctx context.Context, ev pipeline.Event) (bool, string, error) {
	parsed, ok := Parse(ev.Content)
	if !ok {
		return false, "", nil
	}

	actor := ActorContext{
		Source:  ActorDM,
		ActorID: ev.SenderCanonicalID,
		Channel: ev.Channel,
		ChatID:  ev.ChatID,
		IsOwner: h.isOwner(ev),
	}
	if actor.ActorID == "" {
		actor.ActorID = ev.SenderID
	}

	result := h.Service.Execute(actor, parsed.Raw)
	return true, formatReply(result), resultErr(result)
}

func resultErr(r Result) error {
	if r.Outcome == OutcomeError {
		return r.Err
	}
	return nil
}

func formatReply(r Result) string {
	switch r.Outcome {
	case OutcomeApplied:
		if r.Message != "" {
			return r.Message
		}
		return "done"
	case OutcomeNoop:
		return "no change: policy already matches"
	case OutcomeDenied:
		return "denied: " + r.Message
	case OutcomeInvalid:
		return "invalid command: " + r.Message
	case OutcomeUnknown:
		return r.Message
	case OutcomeError:
		return "error: " + r.Message
	default:
		return r.Message
	}
}

// isOwner reads the owners list straight from the on-disk policy file rather
// than going through a CompiledPolicy, so admin commands stay reachable even
// if the live compiled policy is mid-reload or was rejected by validation.
func (h *Handler) isOwner(ev pipeline.Event) bool {
	cfg, err := policy.LoadFile(h.Service.PolicyPath)
	if err != nil {
		return false
	}
	owners, ok := cfg.Owners[strings.ToLower(ev.Channel)]
	if !ok {
		return false
	}
	ownerSet := make(map[string]struct{}, len(owners))
	for _, o := range owners {
		tok := identity.NormalizeToken(o)
		if tok != "" {
			ownerSet[tok] = struct{}{}
		}
	}
	senderAliases := identity.AliasSet(ev.Channel, ev.SenderID, ev.SenderUsername, ev.SenderCanonicalID)
	return identity.SetsIntersect(senderAliases, ownerSet)
}
