package story

import "strings"

// ContinueSentinel is the normalized action meaning "advance the story without
// player input". Collaborator prompts reference it literally, so the exact
// spelling is part of the prompt contract.
const ContinueSentinel = "__CONTINUE__"

// GraceMarker prefixes a resume value for the one turn that follows a rewind
// away from a terminal beat. It is stripped before any prompt is built and must
// never appear in narration.
const GraceMarker = "\x00grace\x00"

// TerminalMarker prefixes the final transcript entry of a session that ended in
// a game over.
const TerminalMarker = "*** THE END ***"

// MaxNamedEntities caps the named-entity list. Beyond this the adjudicator's
// proposed names are discarded.
const MaxNamedEntities = 12

const (
	TensionMin  = 0
	TensionMax  = 10
	ProgressMin = 0
	ProgressMax = 100
)

// TurnState is the canonical per-session turn record. Every field is a
// primitive or byte payload so snapshots serialize cleanly; images are raw
// bytes, never a decoded in-memory representation.
type TurnState struct {
	Theme    string `msgpack:"theme"`
	CharName string `msgpack:"char_name"`
	Role     string `msgpack:"role"`

	// IntroText is generated once at session creation and replayed verbatim as
	// the first beat.
	IntroText string `msgpack:"intro_text"`

	// StorySummary is a rolling paraphrase of all narration so far, rewritten
	// every turn. Its size is bounded regardless of session length.
	StorySummary string `msgpack:"story_summary"`

	// Situation holds one narration beat per completed turn, append-only.
	Situation []string `msgpack:"situation"`

	LastActionRaw string `msgpack:"last_action_raw"`
	LastAction    string `msgpack:"last_action"`

	// TurnCount only ever increases, including across rewinds; it drives
	// cadence, not narrative truth.
	TurnCount int `msgpack:"turn_count"`

	Tension  int `msgpack:"tension"`
	Progress int `msgpack:"progress"`

	// NamedEntities is insertion-ordered and duplicate-free, capped at
	// MaxNamedEntities. It only grows.
	NamedEntities []string `msgpack:"named_entities"`

	// IsKeyEvent is true on the intro turn and on any turn where Progress
	// reached its ceiling before being reset.
	IsKeyEvent bool `msgpack:"is_key_event"`

	ImgGenerationRules string `msgpack:"img_generation_rules"`
	LastImagePrompt    string `msgpack:"last_image_prompt"`
	LastImage          []byte `msgpack:"last_image"`
}

// Delta is a partial update emitted by one machine step. The merge policy is
// explicit per field: AppendBeats and AddEntities append, pointer fields
// overwrite when set, everything else is untouched.
type Delta struct {
	AppendBeats []string
	AddEntities []string

	StorySummary       *string
	LastActionRaw      *string
	LastAction         *string
	TurnCount          *int
	Tension            *int
	Progress           *int
	IsKeyEvent         *bool
	ImgGenerationRules *string
	LastImagePrompt    *string
	LastImage          []byte
}

// Apply merges a delta into the state. Scalar ranges are clamped here so no
// caller can leave Tension or Progress out of range; entity admission enforces
// ordering, uniqueness, and the cap.
func (s *TurnState) Apply(d Delta) {
	s.Situation = append(s.Situation, d.AppendBeats...)
	for _, name := range d.AddEntities {
		s.AdmitEntity(name)
	}
	if d.StorySummary != nil {
		s.StorySummary = *d.StorySummary
	}
	if d.LastActionRaw != nil {
		s.LastActionRaw = *d.LastActionRaw
	}
	if d.LastAction != nil {
		s.LastAction = *d.LastAction
	}
	if d.TurnCount != nil {
		s.TurnCount = *d.TurnCount
	}
	if d.Tension != nil {
		s.Tension = ClampTension(*d.Tension)
	}
	if d.Progress != nil {
		s.Progress = ClampProgress(*d.Progress)
	}
	if d.IsKeyEvent != nil {
		s.IsKeyEvent = *d.IsKeyEvent
	}
	if d.ImgGenerationRules != nil {
		s.ImgGenerationRules = *d.ImgGenerationRules
	}
	if d.LastImagePrompt != nil {
		s.LastImagePrompt = *d.LastImagePrompt
	}
	if d.LastImage != nil {
		s.LastImage = d.LastImage
	}
}

// AdmitEntity appends a name if it is non-empty, not already present
// (case-insensitive), and the list has room. Returns true when admitted.
func (s *TurnState) AdmitEntity(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" || len(s.NamedEntities) >= MaxNamedEntities {
		return false
	}
	for _, existing := range s.NamedEntities {
		if strings.EqualFold(existing, name) {
			return false
		}
	}
	s.NamedEntities = append(s.NamedEntities, name)
	return true
}

// Clone returns a deep copy. Steps work on a clone so a failed step leaves the
// checkpointed state untouched.
func (s TurnState) Clone() TurnState {
	out := s
	out.Situation = append([]string{}, s.Situation...)
	out.NamedEntities = append([]string{}, s.NamedEntities...)
	if s.LastImage != nil {
		out.LastImage = append([]byte{}, s.LastImage...)
	}
	return out
}

func ClampTension(v int) int {
	if v < TensionMin {
		return TensionMin
	}
	if v > TensionMax {
		return TensionMax
	}
	return v
}

func ClampProgress(v int) int {
	if v < ProgressMin {
		return ProgressMin
	}
	if v > ProgressMax {
		return ProgressMax
	}
	return v
}

// IsQuitWord reports whether the raw resume value asks to end the story. These
// bypass adjudication entirely.
func IsQuitWord(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "done", "bye", "quit":
		return true
	default:
		return false
	}
}

// StripGraceMarker removes a leading grace marker from a resume value and
// reports whether one was present.
func StripGraceMarker(raw string) (string, bool) {
	if strings.HasPrefix(raw, GraceMarker) {
		return raw[len(GraceMarker):], true
	}
	return raw, false
}
