// Package envelope defines the in-flight event unit and the wire codec
// shared by producers and the recorder.
package envelope

import (
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/groundfault/groundfault/core/canonical"
	"github.com/groundfault/groundfault/errs"
)

// Well-known event type tags. Unknown tags are ignored by the recorder.
const (
	TypeException     = "Exception"
	TypeHTTPException = "HTTPException"
	TypeLog           = "Log"
)

// Default severity carried by exception payloads, roughly "error".
const LevelError = 40

// Tag is one (name, value) pair. Tags are ordered and may repeat, so they
// serialize as two-element arrays rather than an object.
type Tag struct {
	Name  string
	Value string
}

// MarshalJSON renders the tag as ["name", "value"].
func (t Tag) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{t.Name, t.Value})
}

// UnmarshalJSON parses the two-element array form.
func (t *Tag) UnmarshalJSON(data []byte) error {
	var pair [2]string
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	t.Name = pair[0]
	t.Value = pair[1]
	return nil
}

// Milliseconds is an integer duration that tolerates float wire values;
// some capture paths historically emitted floats.
type Milliseconds int64

// UnmarshalJSON coerces integer or float JSON numbers to whole milliseconds.
func (m *Milliseconds) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*m = Milliseconds(int64(f))
	return nil
}

// Envelope is one serialized event unit flowing over the transport.
type Envelope struct {
	EventType string         `json:"event_type"`
	EventID   string         `json:"event_id"`
	Date      string         `json:"date"`
	TimeSpent *Milliseconds  `json:"time_spent"`
	Hash      string         `json:"hash"`
	Tags      []Tag          `json:"tags"`
	Data      map[string]any `json:"data"`
	Extra     map[string]any `json:"extra"`
}

// SetDate records the envelope timestamp in the canonical wire layout (UTC,
// microsecond precision).
func (e *Envelope) SetDate(t time.Time) {
	e.Date = t.UTC().Format(canonical.TimeLayout)
}

// Timestamp parses the envelope date back into a UTC time.
func (e *Envelope) Timestamp() (time.Time, error) {
	t, err := time.Parse(canonical.TimeLayout, e.Date)
	if err != nil {
		return time.Time{}, errs.New("envelope", errs.CodeDecode,
			errs.WithMessage(fmt.Sprintf("malformed date %q", e.Date)), errs.WithCause(err))
	}
	return t.UTC(), nil
}
