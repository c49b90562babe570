// Package archive implements the reply archive: a persistent record of
// recent inbound chat events keyed by (channel, chat_id, message_id), used
// to resolve quoted-message text and build ambient/reply-context windows
// for the responder prompt.
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sipeed/picoclaw-orchestrator/pkg/logger"
	"github.com/sipeed/picoclaw-orchestrator/pkg/pipeline"
)

const schema = `
CREATE TABLE IF NOT EXISTS inbound_messages (
	channel     TEXT NOT NULL,
	chat_id     TEXT NOT NULL,
	message_id  TEXT NOT NULL,
	participant TEXT,
	sender_id   TEXT,
	text        TEXT,
	unix_time   INTEGER NOT NULL,
	created_at  TEXT NOT NULL,
	PRIMARY KEY (channel, chat_id, message_id)
);
CREATE INDEX IF NOT EXISTS idx_inbound_messages_chat_time
	ON inbound_messages (channel, chat_id, created_at);
`

const defaultRetention = 30 * 24 * time.Hour
const sweepInterval = time.Hour

// SQLiteArchive is the default Archive port implementation: a single-writer
// SQLite database opened with WAL journaling, matching the retention and
// indexing rules of the reply archive.
type SQLiteArchive struct {
	db        *sql.DB
	retention time.Duration

	mu         sync.Mutex
	lastSweep  time.Time
	nowFunc    func() time.Time
}

// Open opens (creating if needed) the SQLite-backed reply archive at path.
func Open(path string, retention time.Duration) (*SQLiteArchive, error) {
	if retention <= 0 {
		retention = defaultRetention
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create reply archive dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open reply archive: %w", err)
	}
	db.SetMaxOpenConns(1) // single-writer discipline, matches the bus's single-consumer model
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma %q: %w", p, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create reply archive schema: %w", err)
	}
	return &SQLiteArchive{db: db, retention: retention, nowFunc: time.Now}, nil
}

func (a *SQLiteArchive) Close() error {
	return a.db.Close()
}

// RecordInbound writes ev as a new row, replacing any prior row at the same
// key (the dedup stage already guards against real re-delivery within its
// TTL; a replace here only matters for synthetic reply-context seeding —
// see RecordSynthetic).
func (a *SQLiteArchive) RecordInbound(ctx context.Context, ev pipeline.Event) error {
	if ev.MessageID == "" {
		return nil
	}
	now := a.nowFunc()
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO inbound_messages (channel, chat_id, message_id, participant, sender_id, text, unix_time, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (channel, chat_id, message_id) DO UPDATE SET
			participant=excluded.participant, sender_id=excluded.sender_id,
			text=excluded.text, unix_time=excluded.unix_time, created_at=excluded.created_at
	`, ev.Channel, ev.ChatID, ev.MessageID, ev.Participant, ev.SenderID, ev.Content, ev.Timestamp.Unix(), now.UTC().Format(time.RFC3339))
	a.maybeSweep(ctx)
	return err
}

// RecordSynthetic seeds a row for a reply_to_message_id the payload carried
// text for, so later lookups by that message id resolve even though the
// quoted message was never itself processed as an inbound event. Unspecified
// behavior under an id collision with a real row:
// this implementation lets the real row win on conflict, never overwriting
// genuine inbound content with a synthetic placeholder.
func (a *SQLiteArchive) RecordSynthetic(ctx context.Context, channel, chatID, messageID, participant, text string, unixTime int64) error {
	if messageID == "" {
		return nil
	}
	now := a.nowFunc()
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO inbound_messages (channel, chat_id, message_id, participant, sender_id, text, unix_time, created_at)
		VALUES (?, ?, ?, ?, '', ?, ?, ?)
		ON CONFLICT (channel, chat_id, message_id) DO NOTHING
	`, channel, chatID, messageID, participant, text, unixTime, now.UTC().Format(time.RFC3339))
	return err
}

func (a *SQLiteArchive) LookupMessage(ctx context.Context, channel, chatID, messageID string) (pipeline.ArchivedMessage, bool, error) {
	row := a.db.QueryRowContext(ctx, `
		SELECT channel, chat_id, message_id, participant, sender_id, text, unix_time
		FROM inbound_messages WHERE channel=? AND chat_id=? AND message_id=?
	`, channel, chatID, messageID)
	return scanOne(row)
}

// LookupMessageAnyChat looks up a message_id across all chats on channel,
// preferring preferredChatID when more than one chat has the same id.
func (a *SQLiteArchive) LookupMessageAnyChat(ctx context.Context, channel, messageID, preferredChatID string) (pipeline.ArchivedMessage, bool, error) {
	if preferredChatID != "" {
		if m, ok, err := a.LookupMessage(ctx, channel, preferredChatID, messageID); ok || err != nil {
			return m, ok, err
		}
	}
	row := a.db.QueryRowContext(ctx, `
		SELECT channel, chat_id, message_id, participant, sender_id, text, unix_time
		FROM inbound_messages WHERE channel=? AND message_id=?
		ORDER BY unix_time DESC LIMIT 1
	`, channel, messageID)
	return scanOne(row)
}

// LookupMessagesBefore returns up to limit rows strictly older than
// anchorUnixTime in chat_id, newest first.
func (a *SQLiteArchive) LookupMessagesBefore(ctx context.Context, channel, chatID string, anchorUnixTime int64, limit int) ([]pipeline.ArchivedMessage, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT channel, chat_id, message_id, participant, sender_id, text, unix_time
		FROM inbound_messages
		WHERE channel=? AND chat_id=? AND unix_time < ?
		ORDER BY unix_time DESC LIMIT ?
	`, channel, chatID, anchorUnixTime, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []pipeline.ArchivedMessage
	for rows.Next() {
		var m pipeline.ArchivedMessage
		if err := rows.Scan(&m.Channel, &m.ChatID, &m.MessageID, &m.Participant, &m.SenderID, &m.Text, &m.UnixTime); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOne(row rowScanner) (pipeline.ArchivedMessage, bool, error) {
	var m pipeline.ArchivedMessage
	err := row.Scan(&m.Channel, &m.ChatID, &m.MessageID, &m.Participant, &m.SenderID, &m.Text, &m.UnixTime)
	if err == sql.ErrNoRows {
		return pipeline.ArchivedMessage{}, false, nil
	}
	if err != nil {
		return pipeline.ArchivedMessage{}, false, err
	}
	return m, true, nil
}

// maybeSweep runs the retention purge at most once per sweepInterval.
func (a *SQLiteArchive) maybeSweep(ctx context.Context) {
	a.mu.Lock()
	now := a.nowFunc()
	if !a.lastSweep.IsZero() && now.Sub(a.lastSweep) < sweepInterval {
		a.mu.Unlock()
		return
	}
	a.lastSweep = now
	a.mu.Unlock()

	cutoff := now.Add(-a.retention).Unix()
	res, err := a.db.ExecContext(ctx, `DELETE FROM inbound_messages WHERE unix_time < ?`, cutoff)
	if err != nil {
		logger.WarnCF("archive", "retention sweep failed", map[string]any{"error": err.Error()})
		return
	}
	if n, _ := res.RowsAffected(); n > 0 {
		logger.InfoCF("archive", "retention sweep purged rows", map[string]any{"rows": n})
	}
}
