package policyadmin

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sipeed/picoclaw-orchestrator/pkg/fileutil"
	"github.com/sipeed/picoclaw-orchestrator/pkg/policy"
)

// Journal is the append-only JSONL audit log plus the content-addressed
// full-policy backup directory it references.
type Journal struct {
	journalPath string
	backupDir   string

	mu sync.Mutex
}

// NewJournal opens (creating parent dirs as needed) the audit journal at
// policyDir/audit/policy_changes.jsonl with backups under
// policyDir/audit/backups/.
func NewJournal(policyDir string) *Journal {
	auditDir := filepath.Join(policyDir, "audit")
	return &Journal{
		journalPath: filepath.Join(auditDir, "policy_changes.jsonl"),
		backupDir:   filepath.Join(auditDir, "backups"),
	}
}

// Backup writes a full-policy snapshot addressable by changeID and returns
// its reference (the backup file path).
func (j *Journal) Backup(changeID string, cfg *policy.Config) (string, error) {
	if err := os.MkdirAll(j.backupDir, 0o755); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}
	path := filepath.Join(j.backupDir, changeID+".json")
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal backup: %w", err)
	}
	if err := fileutil.WriteFileAtomic(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write backup: %w", err)
	}
	return path, nil
}

// LoadBackup reads back the full-policy snapshot at ref.
func (j *Journal) LoadBackup(ref string) (*policy.Config, error) {
	data, err := os.ReadFile(ref)
	if err != nil {
		return nil, fmt.Errorf("read backup %s: %w", ref, err)
	}
	var cfg policy.Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse backup %s: %w", ref, err)
	}
	return &cfg, nil
}

// Append writes one row to the journal. Never rewrites existing rows; a
// failed commit still gets its own new row with Result=error.
func (j *Journal) Append(entry AuditEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(j.journalPath), 0o755); err != nil {
		return fmt.Errorf("create audit dir: %w", err)
	}
	f, err := os.OpenFile(j.journalPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open audit journal: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

// History returns the last n rows (n clamped to [1,100]) in reverse
// chronological order.
func (j *Journal) History(n int) ([]AuditEntry, error) {
	if n <= 0 {
		n = 10
	}
	if n > 100 {
		n = 100
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.Open(j.journalPath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open audit journal: %w", err)
	}
	defer f.Close()

	var all []AuditEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var e AuditEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		all = append(all, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read audit journal: %w", err)
	}

	if len(all) > n {
		all = all[len(all)-n:]
	}
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	return all, nil
}

// FindByChangeID returns the most recent row with the given change id.
func (j *Journal) FindByChangeID(changeID string) (AuditEntry, bool, error) {
	rows, err := j.History(100)
	if err != nil {
		return AuditEntry{}, false, err
	}
	for _, r := range rows {
		if r.ChangeID == changeID {
			return r, true, nil
		}
	}
	return AuditEntry{}, false, nil
}
