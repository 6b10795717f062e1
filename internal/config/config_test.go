// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 15, cfg.Chat.PageSize)
	assert.Equal(t, time.Minute, cfg.Chat.RequestTimeout())
	assert.Equal(t, 3000, cfg.Chat.LongTextThreshold)
}

func TestLoadFromPath_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadFromPath(filepath.Join(t.TempDir(), "none.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Backend.URL, cfg.Backend.URL)
}

func TestLoadFromPath_TOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[chat]
page_size = 30
request_timeout_secs = 90

[backend]
model = "llama3"

[metrics]
display = "delay"
`), 0o600))

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.Chat.PageSize)
	assert.Equal(t, 90*time.Second, cfg.Chat.RequestTimeout())
	assert.Equal(t, "llama3", cfg.Backend.Model)
	assert.Equal(t, "delay", cfg.Metrics.Display)
	assert.Equal(t, Default().Backend.URL, cfg.Backend.URL, "unset keys keep defaults")
}

func TestLoadFromPath_EnvOverrides(t *testing.T) {
	t.Setenv("NEXTCHAT_MODEL", "env-model")
	t.Setenv("NEXTCHAT_PAGE_SIZE", "7")
	t.Setenv("NEXTCHAT_LOG_LEVEL", "debug")

	cfg, err := LoadFromPath(filepath.Join(t.TempDir(), "none.toml"))
	require.NoError(t, err)
	assert.Equal(t, "env-model", cfg.Backend.Model)
	assert.Equal(t, 7, cfg.Chat.PageSize)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestReadFile_IgnoresEnv(t *testing.T) {
	t.Setenv("NEXTCHAT_MODEL", "env-model")

	cfg, err := ReadFile(filepath.Join(t.TempDir(), "none.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Backend.Model, cfg.Backend.Model)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"page size", func(c *Config) { c.Chat.PageSize = 0 }, "chat.page_size"},
		{"timeout", func(c *Config) { c.Chat.RequestTimeoutSecs = 0 }, "chat.request_timeout_secs"},
		{"url scheme", func(c *Config) { c.Backend.URL = "localhost:11434" }, "backend.url"},
		{"display", func(c *Config) { c.Metrics.Display = "bytes" }, "metrics.display"},
		{"log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"theme", func(c *Config) { c.UI.Theme = "neon" }, "ui.theme"},
		{"burst", func(c *Config) { c.Server.RateBurst = 0 }, "server.rate_burst"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)

			var errs ValidateErrors
			require.True(t, errors.As(err, &errs))
			require.Len(t, errs, 1)
			assert.Equal(t, tc.field, errs[0].Field)
		})
	}
}

func TestLoadFromPath_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[chat]\npage_size = -1\n"), 0o600))
	_, err := LoadFromPath(path)
	assert.Error(t, err)
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	cfg := Default()
	cfg.Backend.Model = "saved"
	cfg.Server.AllowedOrigins = []string{"http://a", "http://b"}
	require.NoError(t, Save(cfg, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	if os.PathSeparator == '/' {
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	}

	loaded, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "saved", loaded.Backend.Model)
	assert.Equal(t, cfg.Server.AllowedOrigins, loaded.Server.AllowedOrigins)
}

func TestGetSet(t *testing.T) {
	cfg := Default()

	require.NoError(t, cfg.Set("chat.page_size", "25"))
	v, err := cfg.Get("chat.page_size")
	require.NoError(t, err)
	assert.Equal(t, 25, v)

	require.NoError(t, cfg.Set("chat.preview_bubble", "false"))
	assert.False(t, cfg.Chat.PreviewBubble)

	require.NoError(t, cfg.Set("server.allowed_origins", "http://x, http://y"))
	assert.Equal(t, []string{"http://x", "http://y"}, cfg.Server.AllowedOrigins)

	require.NoError(t, cfg.Set("server.rate_limit", 2.5))
	assert.Equal(t, 2.5, cfg.Server.RateLimit)

	_, err = cfg.Get("chat.nope")
	assert.Error(t, err)
	assert.Error(t, cfg.Set("chat.page_size.x", "1"))
	assert.Error(t, cfg.Set("chat.page_size", "many"))
}

func TestClone_Independent(t *testing.T) {
	cfg := Default()
	clone := cfg.Clone()
	clone.Server.AllowedOrigins[0] = "changed"
	assert.NotEqual(t, "changed", cfg.Server.AllowedOrigins[0])
}

func TestDataDir(t *testing.T) {
	t.Setenv("NEXTCHAT_HOME", "/tmp/nc-home")
	cfg := Default()
	dir, err := cfg.DataDir()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/nc-home", dir)

	cfg.Storage.Dir = "/var/lib/nc"
	dir, err = cfg.DataDir()
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/nc", dir)
}

// TestConfig_ConcurrentAccess checks Global and SetGlobal under -race.
func TestConfig_ConcurrentAccess(t *testing.T) {
	t.Setenv("NEXTCHAT_HOME", t.TempDir())
	ResetGlobalForTesting()
	defer ResetGlobalForTesting()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			SetGlobal(Default())
		}()
		go func() {
			defer wg.Done()
			if Global() == nil {
				t.Error("Global() returned nil")
			}
		}()
	}
	wg.Wait()
}

func TestWatch_ReloadsOnEdit(t *testing.T) {
	ResetGlobalForTesting()
	defer ResetGlobalForTesting()

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, Save(Default(), path))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, 20*time.Millisecond, nil, func(c *Config) { changes <- c })
	}()

	// Give the watcher time to register before editing.
	time.Sleep(100 * time.Millisecond)
	cfg := Default()
	cfg.Chat.PageSize = 42
	require.NoError(t, Save(cfg, path))

	select {
	case got := <-changes:
		assert.Equal(t, 42, got.Chat.PageSize)
		assert.Equal(t, 42, Global().Chat.PageSize)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed")
	}

	cancel()
	assert.NoError(t, <-done)
}
