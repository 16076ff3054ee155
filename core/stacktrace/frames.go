// Package stacktrace walks captured call stacks into frame records with
// source context and hint-driven visibility.
package stacktrace

import (
	"fmt"
	"os"
	"runtime"
	"strings"
)

const contextRadius = 5

// Frame describes one call site, outermost first within a capture.
type Frame struct {
	ID          int            `json:"id"`
	Filename    string         `json:"filename"`
	Module      string         `json:"module"`
	Function    string         `json:"function"`
	Lineno      int            `json:"lineno"`
	Vars        map[string]any `json:"vars,omitempty"`
	ContextLine string         `json:"context_line,omitempty"`
	WithContext []string       `json:"with_context,omitempty"`
	Visible     bool           `json:"visible"`

	// Hint carries the raw visibility annotation; it never goes on the wire.
	Hint Hint `json:"-"`
}

// Collect walks the calling goroutine's stack and returns frames outermost
// first. skip omits the innermost frames (0 keeps the caller of Collect).
// Local variable capture is not available to the runtime, so Vars is left
// for callers to attach.
func Collect(skip int) []Frame {
	pcs := make([]uintptr, 64)
	n := runtime.Callers(skip+2, pcs)
	if n == 0 {
		return nil
	}
	iter := runtime.CallersFrames(pcs[:n])

	var inner []Frame
	for {
		f, more := iter.Next()
		if f.Function != "" || f.File != "" {
			module, function := splitFunction(f.Function)
			frame := Frame{
				ID:       0,
				Filename: f.File,
				Module:   module,
				Function: function,
				Lineno:   f.Line,
				Visible:  true,
			}
			frame.ContextLine, frame.WithContext = sourceContext(f.File, f.Line)
			inner = append(inner, frame)
		}
		if !more {
			break
		}
	}

	// runtime yields innermost first; the wire order is outermost first.
	out := make([]Frame, len(inner))
	for i := range inner {
		out[len(inner)-1-i] = inner[i]
	}
	for i := range out {
		out[i].ID = i + 1
	}
	return out
}

// splitFunction divides a fully qualified symbol into package path and
// bare function name, with "?" fallbacks for unresolvable symbols.
func splitFunction(name string) (module, function string) {
	if name == "" {
		return "?", "?"
	}
	slash := strings.LastIndex(name, "/")
	dot := strings.Index(name[slash+1:], ".")
	if dot < 0 {
		return "?", name
	}
	dot += slash + 1
	return name[:dot], name[dot+1:]
}

// sourceContext reads the line at lineno plus a ±5 line window. Missing or
// unreadable files yield empty context.
func sourceContext(filename string, lineno int) (string, []string) {
	if filename == "" || lineno <= 0 {
		return "", nil
	}
	raw, err := os.ReadFile(filename)
	if err != nil {
		return "", nil
	}
	lines := strings.Split(string(raw), "\n")
	if lineno > len(lines) {
		return "", nil
	}
	start := lineno - 1 - contextRadius
	if start < 0 {
		start = 0
	}
	end := lineno + contextRadius
	if end > len(lines) {
		end = len(lines)
	}
	window := make([]string, end-start)
	copy(window, lines[start:end])
	return lines[lineno-1], window
}

// FormatTraceback renders frames as preformatted text: two lines per frame
// followed by the exception summary and a terminating blank line. The final
// two lines are the only part carrying instance-specific text, which is what
// the fingerprint relies on.
func FormatTraceback(frames []Frame, className, value string) string {
	lines := make([]string, 0, len(frames)*2+2)
	for _, f := range frames {
		fn := f.Function
		if f.Module != "" && f.Module != "?" {
			fn = f.Module + "." + f.Function
		}
		lines = append(lines, fn)
		lines = append(lines, fmt.Sprintf("\t%s:%d", f.Filename, f.Lineno))
	}
	lines = append(lines, fmt.Sprintf("%s: %s", className, value))
	lines = append(lines, "")
	return strings.Join(lines, "\n")
}
