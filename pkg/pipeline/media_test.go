package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sipeed/picoclaw-orchestrator/pkg/policy"
)

func voiceCfg(mode string) policy.VoiceConfig {
	return policy.VoiceConfig{Mode: policy.VoiceOutputMode(mode), Format: "opus"}
}

func TestAnnotateMediaKinds_ExtensionFallback(t *testing.T) {
	ev := Event{Media: []string{"media://abc123.ogg", "media://def456.jpg"}}
	AnnotateMediaKinds(&ev)

	kinds, ok := ev.Metadata["media_kinds"].([]string)
	require.True(t, ok)
	assert.Equal(t, []string{"audio", "image"}, kinds)
	assert.True(t, ev.IsVoice)
}

func TestAnnotateMediaKinds_MetadataFlag(t *testing.T) {
	ev := Event{Metadata: map[string]any{"is_voice": "true"}}
	AnnotateMediaKinds(&ev)
	assert.True(t, ev.IsVoice)

	ev = Event{Metadata: map[string]any{"is_voice": true}}
	AnnotateMediaKinds(&ev)
	assert.True(t, ev.IsVoice)
}

func TestAnnotateMediaKinds_NoMedia(t *testing.T) {
	ev := Event{}
	AnnotateMediaKinds(&ev)
	assert.False(t, ev.IsVoice)
	assert.Nil(t, ev.Metadata)
}

func TestVoiceReady_InKindRequiresVoiceInbound(t *testing.T) {
	cfgInKind := voiceCfg("in_kind")
	assert.False(t, voiceReady(cfgInKind, Event{}))
	assert.True(t, voiceReady(cfgInKind, Event{IsVoice: true}))

	assert.True(t, voiceReady(voiceCfg("always"), Event{}))
	assert.False(t, voiceReady(voiceCfg("off"), Event{IsVoice: true}))
	assert.False(t, voiceReady(voiceCfg("text"), Event{IsVoice: true}))
}
