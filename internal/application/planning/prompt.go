package planning

import (
	"fmt"
	"strings"

	"github.com/studyforge/studyplanner/internal/domain/plan"
	"github.com/studyforge/studyplanner/pkg/timeutil"
)

// SystemPrompt frames the model as a planner that answers with JSON only.
const SystemPrompt = `You are a study planner. Answer with one JSON object and nothing else.
No Markdown, no commentary.`

// wireContract is the exact response shape the extractor and parser expect.
const wireContract = `{
  "titre": "string",
  "sessions": [
    {
      "matiere": "subject name",
      "debut": "RFC 3339 start, e.g. 2024-01-01T09:00:00+01:00",
      "fin": "RFC 3339 end, after debut",
      "type": "LEARNING | REVIEW | PRACTICE | MOCK_EXAM | BUFFER | PAUSE",
      "method": "POMODORO | DEEP_WORK | CLASSIC",
      "priority": "LOW | MEDIUM | HIGH",
      "notes": "optional string"
    }
  ]
}`

// BuildPrompt renders the user prompt for a request. The output depends only
// on the request, so equal requests produce equal prompts.
func BuildPrompt(req Request, defaults []string) string {
	loc := req.location()
	subjects := plan.NormalizeSubjects(req.Subjects)
	if len(subjects) == 0 {
		subjects = defaults
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Build a study plan covering %d day(s): period %s repeated %d time(s).\n",
		req.Period.Days()*req.RepeatCount, req.Period, req.RepeatCount)
	fmt.Fprintf(&b, "First day: %s. Time zone: %s.\n", timeutil.DayKey(req.StartDate, loc), loc.String())

	b.WriteString("Subjects with current mastery (0-100):\n")
	for _, s := range subjects {
		score, ok := req.Mastery.ScoreOf(s)
		if ok {
			fmt.Fprintf(&b, "- %s: %.1f\n", s, score)
		} else {
			fmt.Fprintf(&b, "- %s: not studied yet\n", s)
		}
	}

	b.WriteString(`Rules:
- Low mastery subjects get LEARNING sessions with DEEP_WORK and HIGH priority.
- Subjects above 70 get REVIEW sessions.
- Include a lunch PAUSE and a short BUFFER at the end of each day.
- Sessions must not overlap and every "fin" must be after its "debut".
`)
	b.WriteString("Respond with exactly this JSON shape:\n")
	b.WriteString(wireContract)
	b.WriteString("\n")
	return b.String()
}
