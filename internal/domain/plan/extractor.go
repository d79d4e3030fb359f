package plan

import (
	"encoding/json"
	"strings"
)

// DefaultMaxCandidateBytes bounds the size of a single session object held
// while it is still open.
const DefaultMaxCandidateBytes = 64 << 10

// SessionExtractor pulls complete session objects out of a JSON text stream
// as soon as they close.
//
// The root object sits at brace depth 1 and each element of its sessions
// array at depth 2. A candidate starts at a '{' that reaches depth 2 and
// ends at the '}' that returns to depth 1. Braces inside string literals are
// ignored. Only the open candidate is buffered.
//
// Feeding a text in one call or in any number of chunks yields the same
// sessions in the same order. SessionExtractor is not safe for concurrent use.
type SessionExtractor struct {
	maxCandidate int

	depth    int
	inString bool
	escaped  bool

	candidate []byte
	capturing bool
	overflow  bool

	emitted int
}

// NewSessionExtractor creates an extractor. maxCandidate <= 0 selects the default.
func NewSessionExtractor(maxCandidate int) *SessionExtractor {
	if maxCandidate <= 0 {
		maxCandidate = DefaultMaxCandidateBytes
	}
	return &SessionExtractor{maxCandidate: maxCandidate}
}

// Feed consumes one delta and returns the sessions that closed within it.
func (e *SessionExtractor) Feed(delta string) []WireSession {
	var out []WireSession

	for i := 0; i < len(delta); i++ {
		c := delta[i]

		if e.capturing && !e.overflow {
			e.candidate = append(e.candidate, c)
			if len(e.candidate) > e.maxCandidate {
				e.overflow = true
				e.candidate = nil
			}
		}

		if e.inString {
			switch {
			case e.escaped:
				e.escaped = false
			case c == '\\':
				e.escaped = true
			case c == '"':
				e.inString = false
			}
			continue
		}

		switch c {
		case '"':
			// Quotes in prose before the root object are not JSON strings.
			if e.depth > 0 {
				e.inString = true
			}
		case '{':
			e.depth++
			if e.depth == 2 {
				e.capturing = true
				e.overflow = false
				e.candidate = append(e.candidate[:0], c)
			}
		case '}':
			if e.depth > 0 {
				e.depth--
			}
			if e.depth == 1 && e.capturing {
				if ws, ok := e.decodeCandidate(); ok {
					out = append(out, ws)
				}
				e.capturing = false
				e.overflow = false
				e.candidate = e.candidate[:0]
			}
		}
	}

	e.emitted += len(out)
	return out
}

func (e *SessionExtractor) decodeCandidate() (WireSession, bool) {
	if e.overflow || len(e.candidate) == 0 {
		return WireSession{}, false
	}
	var ws WireSession
	if err := json.Unmarshal(e.candidate, &ws); err != nil {
		return WireSession{}, false
	}
	if strings.TrimSpace(ws.Subject) == "" {
		return WireSession{}, false
	}
	return ws, true
}

// Emitted returns the number of sessions emitted so far.
func (e *SessionExtractor) Emitted() int {
	return e.emitted
}

// Buffered returns the number of bytes currently held.
func (e *SessionExtractor) Buffered() int {
	return len(e.candidate)
}

// Reset clears all state.
func (e *SessionExtractor) Reset() {
	*e = SessionExtractor{maxCandidate: e.maxCandidate}
}
