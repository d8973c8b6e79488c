// Package completion implements the incremental completion engine: a
// resumable state machine that consumes a generation stream, strips the model
// family's stop marker even when it straddles chunk boundaries, and reports
// cleanly delimited text increments per request.
package completion

import (
	"strings"
)

// StopMatcher incrementally detects a stop marker in a stream of text chunks.
// Text is withheld only while it remains a viable prefix of the marker, so no
// part of the marker is ever emitted and a false alarm loses nothing.
type StopMatcher struct {
	marker  string
	pending string
}

// NewStopMatcher creates a matcher for the given marker. An empty marker
// matches nothing and passes all text through.
func NewStopMatcher(marker string) *StopMatcher {
	return &StopMatcher{marker: marker}
}

// Feed processes one chunk. It returns the text safe to emit now and whether
// the stop marker completed; after stop the stream is treated as ended and
// anything past the marker is discarded.
func (m *StopMatcher) Feed(chunk string) (string, bool) {
	if m.marker == "" {
		return chunk, false
	}

	if m.pending != "" {
		joined := m.pending + chunk
		if len(joined) < len(m.marker) && strings.HasPrefix(m.marker, joined) {
			// Still ambiguous, keep withholding.
			m.pending = joined
			return "", false
		}
		if strings.HasPrefix(joined, m.marker) {
			m.pending = ""
			return "", true
		}
		// False alarm: the withheld candidate diverged from the marker.
		// Emit it as ordinary text; only the new chunk is scanned for a
		// fresh match start.
		flushed := m.pending
		m.pending = ""
		emit, stop := m.scan(chunk)
		return flushed + emit, stop
	}

	return m.scan(chunk)
}

// scan processes a chunk with no pending candidate.
func (m *StopMatcher) scan(chunk string) (string, bool) {
	if i := strings.Index(chunk, m.marker); i >= 0 {
		return chunk[:i], true
	}

	// Withhold the longest tail that is still a strict prefix of the
	// marker; everything before it is safe to emit immediately.
	max := len(m.marker) - 1
	if len(chunk) < max {
		max = len(chunk)
	}
	for n := max; n > 0; n-- {
		tail := chunk[len(chunk)-n:]
		if strings.HasPrefix(m.marker, tail) {
			m.pending = tail
			return chunk[:len(chunk)-n], false
		}
	}
	return chunk, false
}

// Flush returns any withheld text at end of stream. The pending candidate is
// always a strict prefix of the marker, so a flush can never leak a full
// marker.
func (m *StopMatcher) Flush() string {
	s := m.pending
	m.pending = ""
	return s
}
