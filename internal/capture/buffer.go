package capture

import "strings"

// Buffer accumulates partial and finalized speech fragments into one answer
// string. Finalized fragments are appended; the pending fragment is the
// recognizer's in-progress hypothesis and is overwritten on every update.
type Buffer struct {
	finalized string
	pending   string
}

// AppendFinal commits a finalized fragment to the buffer and clears the
// pending hypothesis it replaces.
func (b *Buffer) AppendFinal(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if b.finalized == "" {
		b.finalized = text
	} else {
		b.finalized = b.finalized + " " + text
	}
	b.pending = ""
}

// SetPending overwrites the in-progress fragment.
func (b *Buffer) SetPending(text string) {
	b.pending = strings.TrimSpace(text)
}

// Combined returns the full live answer: finalized fragments plus the
// current pending hypothesis.
func (b *Buffer) Combined() string {
	switch {
	case b.finalized == "":
		return b.pending
	case b.pending == "":
		return b.finalized
	default:
		return b.finalized + " " + b.pending
	}
}

// Reset clears both parts.
func (b *Buffer) Reset() {
	b.finalized = ""
	b.pending = ""
}
