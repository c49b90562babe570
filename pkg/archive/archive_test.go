package archive

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sipeed/picoclaw-orchestrator/pkg/pipeline"
)

func openTestArchive(t *testing.T) *SQLiteArchive {
	t.Helper()
	a, err := Open(filepath.Join(t.TempDir(), "inbound.db"), 30*24*time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func seedEvent(id string, ts time.Time) pipeline.Event {
	return pipeline.Event{
		Channel: "whatsapp", ChatID: "c1", MessageID: id,
		SenderID: "alice", Content: "text " + id, Timestamp: ts,
	}
}

func TestRecordAndLookup(t *testing.T) {
	a := openTestArchive(t)
	ctx := context.Background()

	require.NoError(t, a.RecordInbound(ctx, seedEvent("m1", time.Unix(1000, 0))))

	m, ok, err := a.LookupMessage(ctx, "whatsapp", "c1", "m1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "text m1", m.Text)
	assert.Equal(t, "alice", m.SenderID)
	assert.EqualValues(t, 1000, m.UnixTime)

	_, ok, err = a.LookupMessage(ctx, "whatsapp", "c1", "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRecordInbound_NoMessageIDIsNoop(t *testing.T) {
	a := openTestArchive(t)
	ev := seedEvent("", time.Unix(1000, 0))
	require.NoError(t, a.RecordInbound(context.Background(), ev))
}

// Synthetic seeding never overwrites a real row at the same key; a real
// re-record does replace, so the freshest inbound copy wins.
func TestSyntheticRowDoesNotClobberRealRow(t *testing.T) {
	a := openTestArchive(t)
	ctx := context.Background()

	require.NoError(t, a.RecordInbound(ctx, seedEvent("m1", time.Unix(1000, 0))))
	require.NoError(t, a.RecordSynthetic(ctx, "whatsapp", "c1", "m1", "bob", "stale quoted copy", 900))

	m, ok, err := a.LookupMessage(ctx, "whatsapp", "c1", "m1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "text m1", m.Text)
}

func TestSyntheticRowSeedsMissingMessage(t *testing.T) {
	a := openTestArchive(t)
	ctx := context.Background()

	require.NoError(t, a.RecordSynthetic(ctx, "whatsapp", "c1", "q1", "bob", "the quoted text", 900))

	m, ok, err := a.LookupMessage(ctx, "whatsapp", "c1", "q1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "the quoted text", m.Text)
	assert.Equal(t, "bob", m.Participant)
}

func TestLookupMessagesBefore_NewestFirst(t *testing.T) {
	a := openTestArchive(t)
	ctx := context.Background()

	for i := 1; i <= 8; i++ {
		require.NoError(t, a.RecordInbound(ctx, seedEvent(fmt.Sprintf("m%d", i), time.Unix(int64(1000+i), 0))))
	}

	window, err := a.LookupMessagesBefore(ctx, "whatsapp", "c1", 1005, 4)
	require.NoError(t, err)
	require.Len(t, window, 4)
	assert.Equal(t, "m4", window[0].MessageID)
	assert.Equal(t, "m3", window[1].MessageID)
	assert.Equal(t, "m2", window[2].MessageID)
	assert.Equal(t, "m1", window[3].MessageID)
}

func TestLookupMessageAnyChat_PrefersGivenChat(t *testing.T) {
	a := openTestArchive(t)
	ctx := context.Background()

	evA := seedEvent("shared", time.Unix(1000, 0))
	evB := seedEvent("shared", time.Unix(2000, 0))
	evB.ChatID = "c2"
	evB.Content = "from c2"
	require.NoError(t, a.RecordInbound(ctx, evA))
	require.NoError(t, a.RecordInbound(ctx, evB))

	m, ok, err := a.LookupMessageAnyChat(ctx, "whatsapp", "shared", "c1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "c1", m.ChatID)

	m, ok, err = a.LookupMessageAnyChat(ctx, "whatsapp", "shared", "c3")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "c2", m.ChatID, "falls back to the newest row on any chat")
}

func TestRetentionSweepPurgesOldRows(t *testing.T) {
	a := openTestArchive(t)
	ctx := context.Background()

	now := time.Unix(100_000_000, 0)
	a.nowFunc = func() time.Time { return now }

	old := seedEvent("ancient", now.Add(-31*24*time.Hour))
	recent := seedEvent("fresh", now.Add(-time.Hour))
	require.NoError(t, a.RecordInbound(ctx, old))
	require.NoError(t, a.RecordInbound(ctx, recent))

	// Force the sweep window open and trigger it with another write.
	a.lastSweep = time.Time{}
	require.NoError(t, a.RecordInbound(ctx, seedEvent("trigger", now)))

	_, ok, err := a.LookupMessage(ctx, "whatsapp", "c1", "ancient")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = a.LookupMessage(ctx, "whatsapp", "c1", "fresh")
	require.NoError(t, err)
	assert.True(t, ok)
}
