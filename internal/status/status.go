// Package status implements the per-swap progress surface: Status(tag,
// label) sets the current line for a tag, Append(suffix) extends it once
// the step finishes or fails, so a UI or log tail can show "Waiting for
// Taker payment confirmation… Done." without needing a programmatic
// contract beyond ordered retrieval.
package status

import (
	"sync"
	"time"
)

// Update is one entry in a swap's ordered status log.
type Update struct {
	Tag   string
	Label string
	Time  time.Time
}

// Handle is an append-only, ordered progress log for a single swap.
type Handle struct {
	mu      sync.Mutex
	entries []Update
}

// NewHandle returns an empty status handle.
func NewHandle() *Handle {
	return &Handle{}
}

// Status appends a new label under tag, becoming the current entry that
// Append extends.
func (h *Handle) Status(tag, label string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, Update{Tag: tag, Label: label, Time: time.Now()})
}

// Append extends the label of the most recent entry, e.g. turning
// "Waiting for Taker payment…" into "Waiting for Taker payment… Done." or
// "... Error: timeout".
func (h *Handle) Append(suffix string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.entries) == 0 {
		h.entries = append(h.entries, Update{Label: suffix, Time: time.Now()})
		return
	}
	last := &h.entries[len(h.entries)-1]
	last.Label += suffix
}

// Entries returns a copy of the ordered status log.
func (h *Handle) Entries() []Update {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Update, len(h.entries))
	copy(out, h.entries)
	return out
}

// Last returns the most recent label, or "" if nothing has been recorded.
func (h *Handle) Last() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.entries) == 0 {
		return ""
	}
	return h.entries[len(h.entries)-1].Label
}
