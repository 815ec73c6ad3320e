package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("SERVER_NAME", "ws-test")

	cfg, err := loadConfig()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.ListenAddr)
	require.Equal(t, 30*time.Second, cfg.SweepInterval)
	require.Equal(t, time.Second, cfg.RePairGrace)
	require.Equal(t, "video", cfg.DefaultChatType)
	require.Equal(t, []string{"video", "text"}, cfg.chatTypeList())
	require.False(t, cfg.TrustForwardedFor)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("SERVER_NAME", "ws-test")
	t.Setenv("REPAIR_GRACE", "250ms")
	t.Setenv("CHAT_TYPES", " text , audio,text,")
	t.Setenv("DEFAULT_CHAT_TYPE", "video")
	t.Setenv("TRUST_FORWARDED_FOR", "true")

	cfg, err := loadConfig()
	require.NoError(t, err)
	require.Equal(t, 250*time.Millisecond, cfg.RePairGrace)
	require.Equal(t, []string{"text", "audio", "video"}, cfg.chatTypeList())
	require.True(t, cfg.TrustForwardedFor)
}

func TestLoadConfigRejectsBadSweep(t *testing.T) {
	t.Setenv("SERVER_NAME", "ws-test")
	t.Setenv("SWEEP_INTERVAL", "0s")

	_, err := loadConfig()
	require.Error(t, err)
}
