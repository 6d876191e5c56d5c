package story

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const (
	VerdictOK       = "ok"
	VerdictRedirect = "redirect"
	VerdictGameOver = "game_over"
)

// Verdict is the adjudicator's ruling on one player action, after clamping and
// normalization.
type Verdict struct {
	Verdict        string `json:"verdict"`
	ResolvedAction string `json:"resolved_action"`
	Consequence    string `json:"consequence"`
	TensionChange  int    `json:"tension_change"`
	ProgressChange int    `json:"progress_change"`
	NewName        string `json:"new_name"`
}

const verdictSchemaJSON = `{
	"type": "object",
	"properties": {
		"verdict": {"enum": ["ok", "redirect", "game_over"]},
		"resolved_action": {"type": "string"},
		"consequence": {"type": "string"},
		"tension_change": {"type": "integer"},
		"progress_change": {"type": "integer"},
		"new_name": {"type": "string"}
	},
	"required": ["verdict", "resolved_action"]
}`

var verdictSchema = jsonschema.MustCompileString("verdict.json", verdictSchemaJSON)

// FallbackVerdict is the neutral ruling used when the adjudicator's output
// cannot be parsed at all: the action stands, nothing changes.
func FallbackVerdict(rawAction string) Verdict {
	return Verdict{Verdict: VerdictOK, ResolvedAction: rawAction}
}

// ParseVerdict extracts a verdict object from free text. The adjudicator is a
// generative collaborator and routinely wraps its JSON in prose or code
// fences, so we locate the outermost balanced {...} span and parse that.
// Numeric fields tolerate float and string encodings. If nothing usable can
// be extracted the fallback verdict for rawAction is returned; this function
// never fails.
func ParseVerdict(text, rawAction string) Verdict {
	span := balancedObject(text)
	if span == "" {
		return FallbackVerdict(rawAction)
	}

	var v Verdict
	var doc any
	dec := json.NewDecoder(strings.NewReader(span))
	dec.UseNumber()
	if err := dec.Decode(&doc); err == nil && verdictSchema.Validate(doc) == nil {
		// Well-formed payload, decode directly.
		if err := json.Unmarshal([]byte(span), &v); err != nil {
			return FallbackVerdict(rawAction)
		}
	} else {
		// Schema violation. Collaborators emit numbers as strings or floats
		// often enough that a type quibble should not cost a playable verdict,
		// so coerce field by field instead of discarding.
		var loose map[string]any
		if err := json.Unmarshal([]byte(span), &loose); err != nil {
			return FallbackVerdict(rawAction)
		}
		v = Verdict{
			Verdict:        asString(loose["verdict"]),
			ResolvedAction: asString(loose["resolved_action"]),
			Consequence:    asString(loose["consequence"]),
			TensionChange:  intFromAny(loose["tension_change"]),
			ProgressChange: intFromAny(loose["progress_change"]),
			NewName:        asString(loose["new_name"]),
		}
	}

	v.Verdict = strings.ToLower(strings.TrimSpace(v.Verdict))
	v.ResolvedAction = strings.TrimSpace(v.ResolvedAction)
	v.Consequence = strings.TrimSpace(v.Consequence)
	v.NewName = strings.TrimSpace(v.NewName)

	switch v.Verdict {
	case VerdictOK, VerdictRedirect, VerdictGameOver:
	default:
		v.Verdict = VerdictOK
	}
	if v.ResolvedAction == "" {
		v.ResolvedAction = rawAction
	}
	if strings.EqualFold(v.ResolvedAction, "continue") {
		v.ResolvedAction = ContinueSentinel
	}
	return v
}

// ClampDeltas applies the house rules to the raw changes: tension moves at
// most -2..+3 per turn, progress 0..20, and a CONTINUE resolution must still
// advance the clock by at least 4.
func (v Verdict) ClampDeltas() Verdict {
	if v.TensionChange < -2 {
		v.TensionChange = -2
	}
	if v.TensionChange > 3 {
		v.TensionChange = 3
	}
	if v.ProgressChange < 0 {
		v.ProgressChange = 0
	}
	if v.ProgressChange > 20 {
		v.ProgressChange = 20
	}
	if v.ResolvedAction == ContinueSentinel && v.ProgressChange < 4 {
		v.ProgressChange = 4
	}
	return v
}

// Downgrade converts a fatal verdict into a redirect for a grace turn. The
// consequence is synthesized so narration still acknowledges the close call.
func (v Verdict) Downgrade() Verdict {
	if v.Verdict != VerdictGameOver {
		return v
	}
	v.Verdict = VerdictRedirect
	if v.ProgressChange < 1 {
		v.ProgressChange = 1
	}
	v.Consequence = "Fate intervenes at the last instant; the danger passes, but only barely, and the path ahead shifts."
	return v
}

// balancedObject returns the outermost balanced {...} span in text, or "".
// Braces inside JSON strings are skipped so prose like {"a": "b }"} extracts
// correctly.
func balancedObject(text string) string {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

func intFromAny(v any) int {
	switch t := v.(type) {
	case float64:
		return int(t)
	case int:
		return t
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return int(n)
		}
	case string:
		var n int
		if _, err := fmt.Sscanf(strings.TrimSpace(t), "%d", &n); err == nil {
			return n
		}
	}
	return 0
}
