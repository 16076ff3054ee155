package client

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/groundfault/groundfault/envelope"
	"github.com/groundfault/groundfault/errs"
)

type recordingSink struct {
	mu   sync.Mutex
	sent []*envelope.Envelope
	err  error
}

func (s *recordingSink) Send(ctx context.Context, env *envelope.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, env)
	return nil
}

func (s *recordingSink) Close(ctx context.Context) error { return nil }

func (s *recordingSink) last(t *testing.T) *envelope.Envelope {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.sent)
	return s.sent[len(s.sent)-1]
}

func newTestClient(t *testing.T, sink *recordingSink) *Client {
	t.Helper()
	c, err := New(Config{Sink: sink, Hostname: "box-1"})
	require.NoError(t, err)
	return c
}

var hexID = regexp.MustCompile(`^[0-9a-f]{32}$`)

func TestNewRequiresSink(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
	assert.True(t, errs.HasCode(err, errs.CodeConfiguration))
}

func TestCaptureExceptionEnvelopeShape(t *testing.T) {
	sink := &recordingSink{}
	c := newTestClient(t, sink)

	id, err := c.CaptureException(context.Background(), errors.New("disk on fire"))
	require.NoError(t, err)
	assert.Regexp(t, hexID, id)

	env := sink.last(t)
	assert.Equal(t, envelope.TypeException, env.EventType)
	assert.Equal(t, id, env.EventID)
	assert.NotEmpty(t, env.Hash)

	ts, err := env.Timestamp()
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().UTC(), ts, time.Minute)

	assert.Equal(t, "errors.errorString", env.Data["type"])
	assert.Equal(t, "disk on fire", env.Data["value"])
	assert.Equal(t, 40, env.Data["level"])

	traceback, _ := env.Data["traceback"].(string)
	require.NotEmpty(t, traceback)
	lines := strings.Split(traceback, "\n")
	// Exception summary sits on the second-to-last line, blank terminator last.
	require.GreaterOrEqual(t, len(lines), 4)
	assert.Equal(t, "errors.errorString: disk on fire", lines[len(lines)-2])
	assert.Equal(t, "", lines[len(lines)-1])

	frames, ok := env.Data["frames"].([]map[string]any)
	require.True(t, ok)
	require.NotEmpty(t, frames)
	innermost := frames[len(frames)-1]
	assert.Equal(t, "TestCaptureExceptionEnvelopeShape", innermost["function"])

	// The hostname tag always rides along, after any per-call tags.
	require.NotEmpty(t, env.Tags)
	lastTag := env.Tags[len(env.Tags)-1]
	assert.Equal(t, "Hostname", lastTag.Name)
	assert.Equal(t, "box-1", lastTag.Value)
}

func captureAt(t *testing.T, c *Client, err error) {
	t.Helper()
	_, cerr := c.CaptureException(context.Background(), err)
	require.NoError(t, cerr)
}

func TestCaptureExceptionSameCallSiteSameHash(t *testing.T) {
	sink := &recordingSink{}
	c := newTestClient(t, sink)

	for _, msg := range []string{"first failure", "second failure"} {
		captureAt(t, c, errors.New(msg))
	}
	require.Len(t, sink.sent, 2)
	// Different messages, identical stack: the message lines are excluded
	// from the fingerprint.
	assert.Equal(t, sink.sent[0].Hash, sink.sent[1].Hash)
	assert.NotEqual(t, sink.sent[0].EventID, sink.sent[1].EventID)
}

func TestCaptureExceptionOptions(t *testing.T) {
	sink := &recordingSink{}
	c := newTestClient(t, sink)

	_, err := c.CaptureException(context.Background(), errors.New("slow query"),
		WithLevel(30),
		WithTags(envelope.Tag{Name: "Logger", Value: "db"}),
		WithExtra(map[string]any{"query": "SELECT 1"}),
		WithTimeSpent(250*time.Millisecond),
	)
	require.NoError(t, err)

	env := sink.last(t)
	assert.Equal(t, 30, env.Data["level"])
	assert.Equal(t, envelope.Tag{Name: "Logger", Value: "db"}, env.Tags[0])
	assert.Equal(t, "SELECT 1", env.Extra["query"])
	require.NotNil(t, env.TimeSpent)
	assert.Equal(t, envelope.Milliseconds(250), *env.TimeSpent)
}

func TestCaptureShortensUnprotectedValues(t *testing.T) {
	sink := &recordingSink{}
	c := newTestClient(t, sink)

	long := strings.Repeat("x", 1000)
	env := &envelope.Envelope{
		EventType: envelope.TypeException,
		Data: map[string]any{
			"value":     long,
			"traceback": long,
		},
		Extra: map[string]any{"blob": long},
	}
	_, err := c.Capture(context.Background(), env)
	require.NoError(t, err)

	got := sink.last(t)
	shortened, _ := got.Data["value"].(string)
	assert.Len(t, shortened, 258)
	assert.True(t, strings.HasSuffix(shortened, "..."))
	// Protected keys carry full fidelity.
	assert.Equal(t, long, got.Data["traceback"])
	extra, _ := got.Extra["blob"].(string)
	assert.Len(t, extra, 258)
}

func TestCaptureMessage(t *testing.T) {
	sink := &recordingSink{}
	c := newTestClient(t, sink)

	id, err := c.CaptureMessage(context.Background(), "cache warmed")
	require.NoError(t, err)
	assert.Regexp(t, hexID, id)

	env := sink.last(t)
	assert.Equal(t, envelope.TypeLog, env.EventType)
	assert.Equal(t, "cache warmed", env.Data["message"])
	assert.NotEmpty(t, env.Hash)
}

func TestCaptureMessageStableHash(t *testing.T) {
	sink := &recordingSink{}
	c := newTestClient(t, sink)

	_, err := c.CaptureMessage(context.Background(), "cache warmed")
	require.NoError(t, err)
	_, err = c.CaptureMessage(context.Background(), "cache warmed")
	require.NoError(t, err)
	_, err = c.CaptureMessage(context.Background(), "cache cold")
	require.NoError(t, err)

	require.Len(t, sink.sent, 3)
	assert.Equal(t, sink.sent[0].Hash, sink.sent[1].Hash)
	assert.NotEqual(t, sink.sent[0].Hash, sink.sent[2].Hash)
}

func TestCaptureRejectsInvalidInput(t *testing.T) {
	sink := &recordingSink{}
	c := newTestClient(t, sink)
	ctx := context.Background()

	_, err := c.CaptureException(ctx, nil)
	assert.True(t, errs.HasCode(err, errs.CodeInvalid))

	_, err = c.Capture(ctx, nil)
	assert.True(t, errs.HasCode(err, errs.CodeInvalid))

	_, err = c.Capture(ctx, &envelope.Envelope{})
	assert.True(t, errs.HasCode(err, errs.CodeInvalid))
}

func TestClientWideTagsPrecedeHostname(t *testing.T) {
	sink := &recordingSink{}
	c, err := New(Config{
		Sink:     sink,
		Hostname: "box-1",
		Tags:     []envelope.Tag{{Name: "Environment", Value: "staging"}},
	})
	require.NoError(t, err)

	_, err = c.CaptureMessage(context.Background(), "hello",
		WithTags(envelope.Tag{Name: "Logger", Value: "root"}))
	require.NoError(t, err)

	env := sink.last(t)
	require.Len(t, env.Tags, 3)
	assert.Equal(t, "Logger", env.Tags[0].Name)
	assert.Equal(t, "Environment", env.Tags[1].Name)
	assert.Equal(t, "Hostname", env.Tags[2].Name)
}

func TestCaptureExceptionVersionsCoverOnlyFrameModules(t *testing.T) {
	loadBuildInfo()
	prev, had := moduleVersion["github.com/groundfault/groundfault"]
	moduleVersion["github.com/groundfault/groundfault"] = "v1.2.3"
	moduleVersion["example.com/unrelated"] = "v9.9.9"
	t.Cleanup(func() {
		if had {
			moduleVersion["github.com/groundfault/groundfault"] = prev
		} else {
			delete(moduleVersion, "github.com/groundfault/groundfault")
		}
		delete(moduleVersion, "example.com/unrelated")
	})

	sink := &recordingSink{}
	c := newTestClient(t, sink)
	_, err := c.CaptureException(context.Background(), errors.New("boom"))
	require.NoError(t, err)

	env := sink.last(t)
	versions, ok := env.Data["versions"].(map[string]string)
	require.True(t, ok)

	// Versions list only what the stack touched, never the whole build closure.
	assert.NotContains(t, versions, "example.com/unrelated")
	assert.Equal(t, "v1.2.3", versions["github.com/groundfault/groundfault/client"])

	frames, _ := env.Data["frames"].([]map[string]any)
	frameModules := make(map[string]struct{}, len(frames))
	for _, f := range frames {
		if m, _ := f["module"].(string); m != "" {
			frameModules[m] = struct{}{}
		}
	}
	for mod := range versions {
		_, present := frameModules[mod]
		assert.True(t, present, "version entry %q matches no frame", mod)
	}
}

func TestVersionForStripsPathSegments(t *testing.T) {
	loadBuildInfo()
	moduleVersion["example.com/somelib"] = "v1.4.2"
	defer delete(moduleVersion, "example.com/somelib")

	v, ok := VersionFor("example.com/somelib/internal/deep/pkg")
	require.True(t, ok)
	assert.Equal(t, "v1.4.2", v)

	_, ok = VersionFor("example.com/otherlib/pkg")
	assert.False(t, ok)
}
