package stacktrace

// Hint annotates a frame with a visibility instruction. Hints usually come
// from framework integration points that want their plumbing hidden from
// the rendered stack.
type Hint string

const (
	// HintNone leaves the frame subject to the current hidden state.
	HintNone Hint = ""
	// HintBefore discards everything collected so far and shows from here.
	HintBefore Hint = "before"
	// HintBeforeAndThis is HintBefore but also skips the annotated frame.
	HintBeforeAndThis Hint = "before_and_this"
	// HintReset clears the hidden state and shows the frame.
	HintReset Hint = "reset"
	// HintResetAndThis clears the hidden state and skips the frame.
	HintResetAndThis Hint = "reset_and_this"
	// HintAfter hides subsequent frames but shows this one.
	HintAfter Hint = "after"
	// HintAfterAndThis hides subsequent frames including this one.
	HintAfterAndThis Hint = "after_and_this"
)

// ApplyVisibility walks frames in order, resolving hints into per-frame
// Visible flags. If the innermost frame would end up hidden the filtering is
// discarded entirely: the error site must always be shown, even when hints
// are misconfigured.
func ApplyVisibility(frames []Frame) []Frame {
	if len(frames) == 0 {
		return frames
	}

	hidden := false
	keep := make([]int, 0, len(frames))
	for i := range frames {
		switch frames[i].Hint {
		case HintBefore:
			keep = keep[:0]
			hidden = false
			keep = append(keep, i)
		case HintBeforeAndThis:
			keep = keep[:0]
			hidden = false
		case HintReset:
			hidden = false
			keep = append(keep, i)
		case HintResetAndThis:
			hidden = false
		case HintAfter:
			hidden = true
			keep = append(keep, i)
		case HintAfterAndThis:
			hidden = true
		case HintNone:
			if !hidden {
				keep = append(keep, i)
			}
		default:
			// Any other truthy hint hides just this frame.
		}
	}

	last := len(frames) - 1
	if len(keep) == 0 || keep[len(keep)-1] != last {
		for i := range frames {
			frames[i].Visible = true
		}
		return frames
	}

	for i := range frames {
		frames[i].Visible = false
	}
	for _, i := range keep {
		frames[i].Visible = true
	}
	return frames
}

// VisibleFrames returns the subset of frames flagged visible, preserving order.
func VisibleFrames(frames []Frame) []Frame {
	out := make([]Frame, 0, len(frames))
	for _, f := range frames {
		if f.Visible {
			out = append(out, f)
		}
	}
	return out
}
