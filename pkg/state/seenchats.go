package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sipeed/picoclaw-orchestrator/pkg/fileutil"
)

// seenChatsFile is the on-disk shape: {"chats": ["whatsapp:g1@g.us", ...]}.
// The file is append-only from the core's perspective; entries are never
// removed.
type seenChatsFile struct {
	Chats []string `json:"chats"`
}

// SeenChats is the persistent registry of chats the core has already sent a
// new-chat notification for.
type SeenChats struct {
	path string

	mu    sync.Mutex
	chats map[string]struct{}
}

// NewSeenChats loads the registry at path, creating parent directories as
// needed. A missing file starts an empty registry.
func NewSeenChats(path string) (*SeenChats, error) {
	s := &SeenChats{path: path, chats: map[string]struct{}{}}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read seen-chats file: %w", err)
	}
	var file seenChatsFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse seen-chats file: %w", err)
	}
	for _, c := range file.Chats {
		s.chats[c] = struct{}{}
	}
	return s, nil
}

// MarkSeen records (channel, chatID) and reports whether this is the first
// time it was observed. The registry is persisted before firstTime=true is
// returned, so a crash between notification and save can at worst skip a
// notification, never duplicate one.
func (s *SeenChats) MarkSeen(channel, chatID string) (firstTime bool, err error) {
	key := channel + ":" + chatID

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.chats[key]; ok {
		return false, nil
	}
	s.chats[key] = struct{}{}
	if err := s.saveLocked(); err != nil {
		delete(s.chats, key)
		return false, err
	}
	return true, nil
}

// saveLocked must be called with s.mu held.
func (s *SeenChats) saveLocked() error {
	file := seenChatsFile{Chats: make([]string, 0, len(s.chats))}
	for c := range s.chats {
		file.Chats = append(file.Chats, c)
	}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	return fileutil.WriteFileAtomic(s.path, data, 0o600)
}
