package state

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeenChats_FirstTimeSemantics(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seen_chats.json")
	s, err := NewSeenChats(path)
	require.NoError(t, err)

	first, err := s.MarkSeen("whatsapp", "g1@g.us")
	require.NoError(t, err)
	assert.True(t, first)

	again, err := s.MarkSeen("whatsapp", "g1@g.us")
	require.NoError(t, err)
	assert.False(t, again)

	other, err := s.MarkSeen("telegram", "g1@g.us")
	require.NoError(t, err)
	assert.True(t, other, "same chat id on a different channel is a new chat")
}

func TestSeenChats_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seen_chats.json")

	s, err := NewSeenChats(path)
	require.NoError(t, err)
	_, err = s.MarkSeen("whatsapp", "g1@g.us")
	require.NoError(t, err)

	reopened, err := NewSeenChats(path)
	require.NoError(t, err)
	first, err := reopened.MarkSeen("whatsapp", "g1@g.us")
	require.NoError(t, err)
	assert.False(t, first)
}
