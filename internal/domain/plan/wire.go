package plan

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/studyforge/studyplanner/internal/domain/shared"
	"github.com/studyforge/studyplanner/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// AI WIRE FORMAT
// The language model answers with French keys. This is the only bit-exact
// boundary of the planner:
//
//	{"titre": "...", "sessions": [{"matiere": "...", "debut": "...", "fin": "...",
//	  "type": "...", "method": "...", "priority": "...", "notes": "..."}]}
//
// optionally wrapped once under a single arbitrary key.
// ══════════════════════════════════════════════════════════════════════════════

// WireSession is one session as produced by the model.
type WireSession struct {
	Subject  string `json:"matiere"`
	Start    string `json:"debut"`
	End      string `json:"fin"`
	Type     string `json:"type,omitempty"`
	Method   string `json:"method,omitempty"`
	Priority string `json:"priority,omitempty"`
	Notes    string `json:"notes,omitempty"`
}

// WirePlan is the canonical root object.
type WirePlan struct {
	Title    string        `json:"titre"`
	Sessions []WireSession `json:"sessions"`
}

func malformed(op, msg string, err error) error {
	return shared.WrapError("plan", op, shared.ErrMalformedResponse, msg, err)
}

// ParseWirePlan parses the full model output into the canonical shape.
// Markdown fences and prose around the outermost object are ignored.
func ParseWirePlan(text string) (WirePlan, error) {
	body, ok := outermostObject(text)
	if !ok {
		return WirePlan{}, malformed("ParseWirePlan", "no JSON object in response", nil)
	}

	var root map[string]json.RawMessage
	if err := json.Unmarshal(body, &root); err != nil {
		return WirePlan{}, malformed("ParseWirePlan", "response is not a JSON object", err)
	}

	if _, ok := root["sessions"]; ok {
		return decodeCanonical(body, "")
	}

	if len(root) == 1 {
		for key, inner := range root {
			var probe map[string]json.RawMessage
			if err := json.Unmarshal(inner, &probe); err != nil {
				return WirePlan{}, malformed("ParseWirePlan", "wrapped value is not an object", err)
			}
			if _, ok := probe["sessions"]; !ok {
				return WirePlan{}, malformed("ParseWirePlan", "wrapped object has no sessions", nil)
			}
			return decodeCanonical(inner, key)
		}
	}

	return WirePlan{}, malformed("ParseWirePlan", "response has no sessions", nil)
}

func decodeCanonical(body []byte, fallbackTitle string) (WirePlan, error) {
	var wp WirePlan
	if err := json.Unmarshal(body, &wp); err != nil {
		return WirePlan{}, malformed("ParseWirePlan", "sessions do not match the wire contract", err)
	}
	if strings.TrimSpace(wp.Title) == "" {
		wp.Title = fallbackTitle
	}
	return wp, nil
}

// outermostObject slices text from the first '{' to the last '}'.
func outermostObject(text string) ([]byte, bool) {
	b := []byte(text)
	start := bytes.IndexByte(b, '{')
	end := bytes.LastIndexByte(b, '}')
	if start < 0 || end <= start {
		return nil, false
	}
	return b[start : end+1], true
}

// ToSession converts a wire session. Timestamps with an offset are used as
// is; zone-less timestamps are read in loc. Unknown enum values fall back to
// LEARNING, POMODORO and MEDIUM.
func (w WireSession) ToSession(loc *time.Location) (Session, error) {
	subject := strings.TrimSpace(w.Subject)
	if subject == "" {
		return Session{}, malformed("ToSession", "session without matiere", nil)
	}
	start, err := timeutil.ParseFlexible(strings.TrimSpace(w.Start), loc)
	if err != nil {
		return Session{}, malformed("ToSession", "invalid debut for "+subject, err)
	}
	end, err := timeutil.ParseFlexible(strings.TrimSpace(w.End), loc)
	if err != nil {
		return Session{}, malformed("ToSession", "invalid fin for "+subject, err)
	}
	if !end.After(start) {
		return Session{}, malformed("ToSession", "fin is not after debut for "+subject, shared.ErrInvalidSessionSpan)
	}

	return Session{
		Subject:  subject,
		Start:    start,
		End:      end,
		Type:     parseSessionType(w.Type),
		Method:   parseMethod(w.Method),
		Priority: parsePriority(w.Priority),
		Status:   StatusPlanned,
		Notes:    strings.TrimSpace(w.Notes),
	}, nil
}

// ToSessions converts and orders every session. One bad session rejects
// the whole response.
func (wp WirePlan) ToSessions(loc *time.Location) ([]Session, error) {
	out := make([]Session, 0, len(wp.Sessions))
	for _, ws := range wp.Sessions {
		s, err := ws.ToSession(loc)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	SortSessions(out)
	return out, nil
}

func normEnum(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "-", "_")
	return strings.ReplaceAll(s, " ", "_")
}

func parseSessionType(s string) SessionType {
	if t := SessionType(normEnum(s)); t.IsValid() {
		return t
	}
	return TypeLearning
}

func parseMethod(s string) Method {
	if m := Method(normEnum(s)); m.IsValid() {
		return m
	}
	return MethodPomodoro
}

func parsePriority(s string) Priority {
	if p := Priority(normEnum(s)); p.IsValid() {
		return p
	}
	return PriorityMedium
}

// FromSessions renders sessions in the wire shape. Used to replay a stored
// plan and by tests.
func FromSessions(title string, sessions []Session) WirePlan {
	wp := WirePlan{Title: title, Sessions: make([]WireSession, 0, len(sessions))}
	for _, s := range sessions {
		wp.Sessions = append(wp.Sessions, WireSession{
			Subject:  s.Subject,
			Start:    s.Start.Format(time.RFC3339),
			End:      s.End.Format(time.RFC3339),
			Type:     string(s.Type),
			Method:   string(s.Method),
			Priority: string(s.Priority),
			Notes:    s.Notes,
		})
	}
	return wp
}
