package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSettings(t *testing.T) {
	cfg := Default()
	assert.Equal(t, EnvProd, cfg.Environment)
	assert.Equal(t, "groundfault.events", cfg.Transport.Subject)
	assert.Equal(t, 1024, cfg.Transport.IntakeBuffer)
	assert.Equal(t, 256, cfg.Sender.QueueDepth)
	assert.Equal(t, 5*time.Second, cfg.Recorder.FlushInterval)
	assert.Equal(t, 200*time.Millisecond, cfg.Recorder.PollSleep)
	require.NoError(t, cfg.Validate())
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("GROUNDFAULT_ENV", "Staging")
	t.Setenv("GROUNDFAULT_TRANSPORT_ENDPOINT", "nats://10.0.0.5:4222")
	t.Setenv("GROUNDFAULT_TRANSPORT_SUBJECT", "errors.ingest")
	t.Setenv("GROUNDFAULT_FLUSH_INTERVAL", "10s")
	t.Setenv("GROUNDFAULT_POLL_SLEEP", "50ms")
	t.Setenv("GROUNDFAULT_SEND_RATE", "25")
	t.Setenv("GROUNDFAULT_DATABASE_URL", "postgres://gf:gf@db/groundfault")

	cfg := FromEnv()
	assert.Equal(t, EnvStaging, cfg.Environment)
	assert.Equal(t, "nats://10.0.0.5:4222", cfg.Transport.Endpoint)
	assert.Equal(t, "errors.ingest", cfg.Transport.Subject)
	assert.Equal(t, 10*time.Second, cfg.Recorder.FlushInterval)
	assert.Equal(t, 50*time.Millisecond, cfg.Recorder.PollSleep)
	assert.Equal(t, 25.0, cfg.Sender.RatePerSecond)
	assert.Equal(t, "postgres://gf:gf@db/groundfault", cfg.Database.DSN)
}

func TestFromEnvIgnoresMalformedValues(t *testing.T) {
	t.Setenv("GROUNDFAULT_FLUSH_INTERVAL", "not-a-duration")
	t.Setenv("GROUNDFAULT_SEND_QUEUE", "-3")

	cfg := FromEnv()
	assert.Equal(t, 5*time.Second, cfg.Recorder.FlushInterval)
	assert.Equal(t, 256, cfg.Sender.QueueDepth)
}

func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "groundfault.yaml")
	payload := []byte(`
environment: dev
transport:
  endpoint: nats://127.0.0.1:4222
  subject: errors.dev
sender:
  queueDepth: 64
  ratePerSecond: 5
recorder:
  flushInterval: 2s
  pollSleep: 100ms
database:
  dsn: postgres://gf:gf@localhost/groundfault
tags:
  Environment: dev
`)
	require.NoError(t, os.WriteFile(path, payload, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, EnvDev, cfg.Environment)
	assert.Equal(t, "errors.dev", cfg.Transport.Subject)
	assert.Equal(t, 64, cfg.Sender.QueueDepth)
	assert.Equal(t, 2*time.Second, cfg.Recorder.FlushInterval)
	assert.Equal(t, 100*time.Millisecond, cfg.Recorder.PollSleep)
	assert.Equal(t, "dev", cfg.Tags["Environment"])
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoadEmptyPathUsesEnv(t *testing.T) {
	t.Setenv("GROUNDFAULT_CONFIG", "")
	t.Setenv("GROUNDFAULT_TRANSPORT_SUBJECT", "errors.envonly")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "errors.envonly", cfg.Transport.Subject)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Transport.Subject = " "
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Sender.QueueDepth = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Recorder.FlushInterval = 0
	assert.Error(t, cfg.Validate())
}
