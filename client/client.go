// Package client is the capture API embedded in instrumented applications.
// It builds envelopes from errors and messages and hands them to a
// dispatcher sink; it never blocks the application on telemetry delivery.
package client

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/groundfault/groundfault/core/canonical"
	"github.com/groundfault/groundfault/core/stacktrace"
	"github.com/groundfault/groundfault/dispatcher"
	"github.com/groundfault/groundfault/envelope"
	"github.com/groundfault/groundfault/errs"
)

// Payload keys exempt from value shortening: truncating them would corrupt
// the stored traceback and frame records.
var protectedKeys = map[string]struct{}{
	"traceback": {},
	"frames":    {},
	"versions":  {},
}

// Config assembles a Client. Sink is required; everything else has
// serviceable defaults.
type Config struct {
	Sink dispatcher.Sink
	// Tags apply to every captured event, after per-call tags.
	Tags []envelope.Tag
	// Hostname overrides the os.Hostname tag value.
	Hostname string
	// Level is the default severity for captures that do not set one.
	Level  int
	Logger *zap.Logger
}

// Client captures events and dispatches them.
type Client struct {
	sink     dispatcher.Sink
	tags     []envelope.Tag
	hostname string
	level    int
	log      *zap.Logger
}

// New validates the config and builds a Client.
func New(cfg Config) (*Client, error) {
	if cfg.Sink == nil {
		return nil, errs.New("client", errs.CodeConfiguration, errs.WithMessage("dispatcher sink required"))
	}
	hostname := cfg.Hostname
	if hostname == "" {
		hostname, _ = os.Hostname()
	}
	level := cfg.Level
	if level == 0 {
		level = envelope.LevelError
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		sink:     cfg.Sink,
		tags:     append([]envelope.Tag(nil), cfg.Tags...),
		hostname: hostname,
		level:    level,
		log:      logger,
	}, nil
}

// CaptureOption customises one capture call.
type CaptureOption func(*captureOptions)

type captureOptions struct {
	level     int
	tags      []envelope.Tag
	extra     map[string]any
	timeSpent *envelope.Milliseconds
	eventType string
}

// WithLevel overrides the severity for this capture.
func WithLevel(level int) CaptureOption {
	return func(o *captureOptions) { o.level = level }
}

// WithTags appends per-call tags ahead of the client-wide ones.
func WithTags(tags ...envelope.Tag) CaptureOption {
	return func(o *captureOptions) { o.tags = append(o.tags, tags...) }
}

// WithExtra attaches free-form context stored alongside the event.
func WithExtra(extra map[string]any) CaptureOption {
	return func(o *captureOptions) {
		if o.extra == nil {
			o.extra = make(map[string]any, len(extra))
		}
		for k, v := range extra {
			o.extra[k] = v
		}
	}
}

// WithTimeSpent records the duration associated with the event.
func WithTimeSpent(d time.Duration) CaptureOption {
	return func(o *captureOptions) {
		ms := envelope.Milliseconds(d.Milliseconds())
		o.timeSpent = &ms
	}
}

// WithEventType overrides the envelope event type, for HTTP middleware and
// custom event kinds.
func WithEventType(eventType string) CaptureOption {
	return func(o *captureOptions) { o.eventType = eventType }
}

// CaptureException snapshots err with the calling goroutine's stack and
// dispatches it. Returns the event id assigned to the capture.
func (c *Client) CaptureException(ctx context.Context, err error, opts ...CaptureOption) (string, error) {
	if err == nil {
		return "", errs.New("client", errs.CodeInvalid, errs.WithMessage("nil error"))
	}
	options := c.captureOptions(opts)

	frames := stacktrace.Collect(1)
	frames = stacktrace.ApplyVisibility(frames)
	visible := stacktrace.VisibleFrames(frames)

	className := errorClass(err)
	value := err.Error()
	traceback := stacktrace.FormatTraceback(visible, className, value)
	hash := canonical.Fingerprint(options.level, className, traceback, value)

	env := &envelope.Envelope{
		EventType: options.eventType,
		Hash:      hash,
		Tags:      options.tags,
		TimeSpent: options.timeSpent,
		Data: map[string]any{
			"level":     options.level,
			"type":      className,
			"value":     value,
			"message":   fmt.Sprintf("%s: %s", className, value),
			"traceback": traceback,
			"frames":    encodeFrames(visible),
			"versions":  frameVersions(visible),
		},
		Extra: options.extra,
	}
	if env.EventType == "" {
		env.EventType = envelope.TypeException
	}
	return c.Capture(ctx, env)
}

// CaptureMessage records a plain log event with no stack.
func (c *Client) CaptureMessage(ctx context.Context, message string, opts ...CaptureOption) (string, error) {
	options := c.captureOptions(opts)
	env := &envelope.Envelope{
		EventType: options.eventType,
		Hash:      canonical.Fingerprint(options.level, "", "", message),
		Tags:      options.tags,
		TimeSpent: options.timeSpent,
		Data: map[string]any{
			"level":   options.level,
			"message": message,
		},
		Extra: options.extra,
	}
	if env.EventType == "" {
		env.EventType = envelope.TypeLog
	}
	return c.Capture(ctx, env)
}

// Capture finalizes the envelope (identity, timestamp, tags, value
// shortening) and hands it to the sink. Callers normally go through
// CaptureException or CaptureMessage.
func (c *Client) Capture(ctx context.Context, env *envelope.Envelope) (string, error) {
	if env == nil {
		return "", errs.New("client", errs.CodeInvalid, errs.WithMessage("nil envelope"))
	}
	if env.EventType == "" {
		return "", errs.New("client", errs.CodeInvalid, errs.WithMessage("event type required"))
	}
	if env.EventID == "" {
		env.EventID = newEventID()
	}
	if env.Date == "" {
		env.SetDate(time.Now())
	}
	env.Tags = append(env.Tags, c.tags...)
	env.Tags = append(env.Tags, envelope.Tag{Name: "Hostname", Value: c.hostname})

	for k, v := range env.Data {
		if _, ok := protectedKeys[k]; ok {
			continue
		}
		env.Data[k] = canonical.Shorten(v)
	}
	for k, v := range env.Extra {
		env.Extra[k] = canonical.Shorten(v)
	}

	if err := c.sink.Send(ctx, env); err != nil {
		return env.EventID, err
	}
	c.log.Debug("event captured",
		zap.String("event_id", env.EventID), zap.String("event_type", env.EventType))
	return env.EventID, nil
}

func (c *Client) captureOptions(opts []CaptureOption) captureOptions {
	options := captureOptions{level: c.level}
	for _, opt := range opts {
		opt(&options)
	}
	if options.level == 0 {
		options.level = c.level
	}
	return options
}

// newEventID is a dashless uuid4, 32 hex characters.
func newEventID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func errorClass(err error) string {
	name := fmt.Sprintf("%T", err)
	return strings.TrimPrefix(name, "*")
}

// encodeFrames canonicalizes frame variables for the wire; the structural
// fields pass through untouched.
func encodeFrames(frames []stacktrace.Frame) []map[string]any {
	out := make([]map[string]any, 0, len(frames))
	for _, f := range frames {
		record := map[string]any{
			"id":       f.ID,
			"filename": f.Filename,
			"module":   f.Module,
			"function": f.Function,
			"lineno":   f.Lineno,
			"visible":  f.Visible,
		}
		if f.ContextLine != "" {
			record["context_line"] = f.ContextLine
		}
		if len(f.WithContext) > 0 {
			record["with_context"] = f.WithContext
		}
		if len(f.Vars) > 0 {
			record["vars"] = canonical.Shorten(f.Vars)
		}
		if v, ok := VersionFor(f.Module); ok {
			record["version"] = v
		}
		out = append(out, record)
	}
	return out
}
