package policyadmin

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sipeed/picoclaw-orchestrator/pkg/policy"
)

func testPolicyConfig() *policy.Config {
	return &policy.Config{
		Version:       1,
		Owners:        map[string][]string{"whatsapp": {"490000001"}},
		ApplyChannels: []string{"whatsapp"},
		Defaults: policy.ChatPolicy{
			WhoCanTalk:  policy.WhoCanTalk{Mode: policy.WhoCanTalkEveryone},
			WhenToReply: policy.WhenToReply{Mode: policy.ReplyModeMentionOnly},
		},
	}
}

func newTestService(t *testing.T) (*Service, string) {
	t.Helper()
	dir := t.TempDir()
	policyPath := filepath.Join(dir, "policy.json")
	require.NoError(t, policy.SaveFile(policyPath, testPolicyConfig()))

	svc := NewService(policyPath, filepath.Join(dir, "workspace"), nil, nil, nil, NewJournal(dir), 0, true)
	return svc, policyPath
}

func owner() ActorContext {
	return ActorContext{Source: ActorDM, ActorID: "490000001", Channel: "whatsapp", ChatID: "490000001@s.whatsapp.net", IsOwner: true}
}

func TestParse_AliasesAndFlags(t *testing.T) {
	p, ok := Parse("policy groups")
	require.True(t, ok)
	assert.Equal(t, "list-groups", p.Subcommand)

	p, ok = Parse("policy pause-group g1@g.us --dry-run --confirm")
	require.True(t, ok)
	assert.Equal(t, "block-group", p.Subcommand)
	assert.Equal(t, []string{"g1@g.us"}, p.Args)
	assert.True(t, p.Options.DryRun)
	assert.True(t, p.Options.Confirm)

	_, ok = Parse("weather today")
	assert.False(t, ok)
}

func TestParse_QuotedArgs(t *testing.T) {
	p, ok := Parse(`policy resolve-group "Family Chat"`)
	require.True(t, ok)
	assert.Equal(t, []string{"Family Chat"}, p.Args)
}

func TestExecute_UnknownSubcommand(t *testing.T) {
	svc, _ := newTestService(t)
	res := svc.Execute(owner(), "policy frobnicate")
	assert.Equal(t, OutcomeUnknown, res.Outcome)
}

func TestExecute_NonOwnerDMDenied(t *testing.T) {
	svc, _ := newTestService(t)
	actor := owner()
	actor.IsOwner = false
	res := svc.Execute(actor, "policy allow-group g1@g.us")
	assert.Equal(t, OutcomeDenied, res.Outcome)
}

func TestExecute_RiskyRequiresConfirm(t *testing.T) {
	svc, _ := newTestService(t)
	res := svc.Execute(owner(), "policy rollback deadbeef")
	assert.Equal(t, OutcomeDenied, res.Outcome)
	assert.Contains(t, res.Message, "--confirm")
}

func TestExecute_RateLimit(t *testing.T) {
	svc, _ := newTestService(t)
	svc.RateLimiter = newSlidingWindowLimiter(2)

	assert.NotEqual(t, OutcomeDenied, svc.Execute(owner(), "policy help").Outcome)
	assert.NotEqual(t, OutcomeDenied, svc.Execute(owner(), "policy help").Outcome)
	res := svc.Execute(owner(), "policy help")
	assert.Equal(t, OutcomeDenied, res.Outcome)
	assert.Contains(t, res.Message, "rate limit")
}

// Mutations are atomic: before==after hash iff noop, otherwise the on-disk
// content hash equals the reported after hash.
func TestMutation_AppliedHashMatchesDisk(t *testing.T) {
	svc, policyPath := newTestService(t)

	res := svc.Execute(owner(), "policy allow-group g2@g.us")
	require.Equal(t, OutcomeApplied, res.Outcome, res.Message)
	assert.NotEqual(t, res.BeforeHash, res.AfterHash)
	assert.NotEmpty(t, res.ChangeID)
	assert.False(t, res.AuditWriteFailed)

	onDisk, err := policy.LoadFile(policyPath)
	require.NoError(t, err)
	diskHash, err := policy.ContentHash(onDisk)
	require.NoError(t, err)
	assert.Equal(t, res.AfterHash, diskHash)

	ov := onDisk.Channels["whatsapp"].Chats["g2@g.us"]
	require.NotNil(t, ov.WhoCanTalk)
	assert.Equal(t, policy.WhoCanTalkEveryone, ov.WhoCanTalk.Mode)
}

func TestMutation_RepeatIsNoop(t *testing.T) {
	svc, _ := newTestService(t)

	first := svc.Execute(owner(), "policy allow-group g2@g.us")
	require.Equal(t, OutcomeApplied, first.Outcome)

	second := svc.Execute(owner(), "policy allow-group g2@g.us")
	assert.Equal(t, OutcomeNoop, second.Outcome)
	assert.Equal(t, second.BeforeHash, second.AfterHash)
}

func TestMutation_DryRunLeavesFileUntouched(t *testing.T) {
	svc, policyPath := newTestService(t)
	before, err := os.ReadFile(policyPath)
	require.NoError(t, err)

	res := svc.Execute(owner(), "policy block-group g3@g.us --dry-run")
	require.Equal(t, OutcomeApplied, res.Outcome)
	assert.True(t, res.DryRun)
	assert.Empty(t, res.ChangeID)

	after, err := os.ReadFile(policyPath)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	rows, err := svc.Journal.History(10)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

// Every applied mutation leaves exactly one audit row and one backup file,
// both keyed by the same change id.
func TestMutation_AuditRowAndBackupPairing(t *testing.T) {
	svc, _ := newTestService(t)

	res := svc.Execute(owner(), "policy block-sender @spammer")
	require.Equal(t, OutcomeApplied, res.Outcome)

	rows, err := svc.Journal.History(10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, res.ChangeID, rows[0].ChangeID)
	assert.Equal(t, OutcomeApplied, rows[0].Result)
	assert.Equal(t, res.BeforeHash, rows[0].BeforeHash)
	assert.Equal(t, res.AfterHash, rows[0].AfterHash)
	assert.Equal(t, ActorDM, rows[0].ActorSource)

	require.NotEmpty(t, rows[0].BackupRef)
	assert.True(t, strings.HasSuffix(rows[0].BackupRef, res.ChangeID+".json"))
	_, err = os.Stat(rows[0].BackupRef)
	assert.NoError(t, err)
}

func TestHistory_ReverseChronological(t *testing.T) {
	svc, _ := newTestService(t)

	require.Equal(t, OutcomeApplied, svc.Execute(owner(), "policy block-sender @first").Outcome)
	require.Equal(t, OutcomeApplied, svc.Execute(owner(), "policy block-sender @second").Outcome)

	rows, err := svc.Journal.History(10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Contains(t, rows[0].Command, "@second")
	assert.Contains(t, rows[1].Command, "@first")
}

// rollback <id> then rollback <prior-id> restores the policy hash to the
// pre-first-change value.
func TestRollback_ChainRestoresOriginalHash(t *testing.T) {
	svc, policyPath := newTestService(t)

	original, err := policy.LoadFile(policyPath)
	require.NoError(t, err)
	originalHash, err := policy.ContentHash(original)
	require.NoError(t, err)

	first := svc.Execute(owner(), "policy allow-group g2@g.us")
	require.Equal(t, OutcomeApplied, first.Outcome)

	second := svc.Execute(owner(), "policy block-sender @spammer")
	require.Equal(t, OutcomeApplied, second.Outcome)

	// Rolling back the second change restores the state after the first.
	rb1 := svc.Execute(owner(), "policy rollback "+second.ChangeID+" --confirm")
	require.Equal(t, OutcomeApplied, rb1.Outcome, rb1.Message)
	assert.Equal(t, first.AfterHash, rb1.AfterHash)

	// Rolling back the first change restores the original document.
	rb2 := svc.Execute(owner(), "policy rollback "+first.ChangeID+" --confirm")
	require.Equal(t, OutcomeApplied, rb2.Outcome, rb2.Message)
	assert.Equal(t, originalHash, rb2.AfterHash)

	onDisk, err := policy.LoadFile(policyPath)
	require.NoError(t, err)
	diskHash, err := policy.ContentHash(onDisk)
	require.NoError(t, err)
	assert.Equal(t, originalHash, diskHash)
}

func TestRollback_UnknownChangeID(t *testing.T) {
	svc, _ := newTestService(t)
	res := svc.Execute(owner(), "policy rollback nonexistent --confirm")
	assert.Equal(t, OutcomeInvalid, res.Outcome)
}

func TestMutation_ValidationFailureRejected(t *testing.T) {
	svc, policyPath := newTestService(t)

	// Remove the owners list so switching a chat to owner_only must fail
	// validation.
	cfg := testPolicyConfig()
	cfg.Owners = nil
	require.NoError(t, policy.SaveFile(policyPath, cfg))

	res := svc.Execute(owner(), "policy block-group g9@g.us")
	assert.Equal(t, OutcomeInvalid, res.Outcome)
	assert.Contains(t, res.Message, "owner_only requires a non-empty owners")

	rows, err := svc.Journal.History(10)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestMutation_ReloadCallbackInvoked(t *testing.T) {
	svc, _ := newTestService(t)
	reloaded := false
	svc.Reload = func() error { reloaded = true; return nil }

	res := svc.Execute(owner(), "policy set-when g2@g.us off")
	require.Equal(t, OutcomeApplied, res.Outcome, res.Message)
	assert.True(t, reloaded)
}

func TestGroupResolve_Tiers(t *testing.T) {
	refs := []GroupRef{
		{ChatID: "111@g.us", Tag: "family", Subject: "Family Chat"},
		{ChatID: "222@g.us", Tag: "work", Subject: "Work Updates", Comment: "standup group"},
	}

	byJID, err := ResolveGroup("111@g.us", refs)
	require.NoError(t, err)
	assert.Equal(t, "111@g.us", byJID.ChatID)

	byAlias, err := ResolveGroup(GroupAlias("222@g.us"), refs)
	require.NoError(t, err)
	assert.Equal(t, "222@g.us", byAlias.ChatID)

	byTag, err := ResolveGroup("family", refs)
	require.NoError(t, err)
	assert.Equal(t, "111@g.us", byTag.ChatID)

	bySubstring, err := ResolveGroup("standup", refs)
	require.NoError(t, err)
	assert.Equal(t, "222@g.us", bySubstring.ChatID)

	// Short queries don't fall through to substring matching.
	_, err = ResolveGroup("wor", refs)
	assert.Error(t, err)

	// Ambiguity enumerates the matches.
	ambiguous := []GroupRef{
		{ChatID: "333@g.us", Subject: "project alpha"},
		{ChatID: "444@g.us", Subject: "project beta"},
	}
	_, err = ResolveGroup("project", ambiguous)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "matches:")
}

func TestSlidingWindowLimiter_WindowSlides(t *testing.T) {
	l := newSlidingWindowLimiter(2)
	now := time.Unix(10000, 0)
	l.nowFunc = func() time.Time { return now }

	assert.True(t, l.Allow("caller"))
	assert.True(t, l.Allow("caller"))
	assert.False(t, l.Allow("caller"))

	now = now.Add(61 * time.Second)
	assert.True(t, l.Allow("caller"))
}
