package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoTool struct {
	channel string
	chatID  string
	closed  bool
}

func (e *echoTool) Name() string           { return "echo" }
func (e *echoTool) Description() string    { return "echoes its input" }
func (e *echoTool) Schema() map[string]any { return map[string]any{} }
func (e *echoTool) Execute(_ context.Context, args map[string]any) (*ToolResult, error) {
	return NewToolResult(args["text"].(string)), nil
}
func (e *echoTool) SetContext(channel, chatID string) { e.channel, e.chatID = channel, chatID }
func (e *echoTool) Close() error                      { e.closed = true; return nil }

func TestRegistry_ExecuteAppliesContext(t *testing.T) {
	r := NewRegistry()
	tool := &echoTool{}
	r.Register(tool)

	res, err := r.Execute(context.Background(), "echo", "whatsapp", "c1", map[string]any{"text": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hi", res.ForLLM)
	assert.Equal(t, "whatsapp", tool.channel)
	assert.Equal(t, "c1", tool.chatID)
}

func TestRegistry_UnknownTool(t *testing.T) {
	r := NewRegistry()
	_, err := r.Execute(context.Background(), "missing", "", "", nil)
	assert.Error(t, err)
}

func TestRegistry_NamesAndCloseAll(t *testing.T) {
	r := NewRegistry()
	tool := &echoTool{}
	r.Register(tool)

	names := r.Names()
	_, ok := names["echo"]
	assert.True(t, ok)

	require.NoError(t, r.CloseAll())
	assert.True(t, tool.closed)
}
