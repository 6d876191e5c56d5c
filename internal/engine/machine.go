// Package engine runs the turn state machine: narrate, illustrate, suspend for
// input, adjudicate, and around again until the story ends. One call to Start
// or Resume is one atomic step from suspension point to suspension point; the
// caller checkpoints the returned state only when the step succeeds.
package engine

import (
	"context"
	"fmt"
	rdebug "runtime/debug"
	"strings"
	"time"

	"github.com/dshaw/fablefriend/internal/story"
)

// TextGenerator produces a completion for a single system prompt.
type TextGenerator interface {
	GenerateText(ctx context.Context, systemPrompt string) (string, error)
}

// ImageGenerator renders one scene illustration. A nil ImageGenerator on the
// Machine disables illustration entirely.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string) ([]byte, error)
}

type Machine struct {
	Text  TextGenerator
	Image ImageGenerator

	// StepTimeout bounds one whole step. Zero means no bound beyond the
	// caller's context.
	StepTimeout time.Duration
}

// StepResult is everything one step produced. State is a fresh value; the
// input state is never mutated, so a failed step leaves the caller's
// checkpointed state intact.
type StepResult struct {
	State story.TurnState

	// Beat is the narration appended this step, terminal line included.
	Beat string

	Image       []byte
	ImagePrompt string

	// Verdict is set on adjudicated steps, nil on Start and quit.
	Verdict *story.Verdict

	Terminated bool
	GameOver   bool
}

// Start runs a fresh state to its first suspension point. The intro was
// generated at session creation; it replays verbatim as the first beat.
func (m *Machine) Start(ctx context.Context, state story.TurnState) (res StepResult, err error) {
	ctx, cancel := m.stepContext(ctx)
	defer cancel()
	defer recoverStep(&err)

	s := state.Clone()
	if len(s.Situation) > 0 {
		return StepResult{}, fmt.Errorf("engine: Start on a state with %d beats", len(s.Situation))
	}
	beat := s.IntroText
	if strings.TrimSpace(beat) == "" {
		beat = story.StalledBeat
	}
	s.Apply(story.Delta{
		AppendBeats:  []string{beat},
		TurnCount:    ref(s.TurnCount + 1),
		IsKeyEvent:   ref(true),
		StorySummary: ref(beat),
	})

	image, imagePrompt := m.illustrate(ctx, &s)
	return StepResult{State: s, Beat: beat, Image: image, ImagePrompt: imagePrompt}, nil
}

// Resume runs one full step from the suspension point: the raw input is
// adjudicated, the verdict applied, the next beat narrated and optionally
// illustrated. Quit words terminate without adjudication. rawInput may carry
// the grace marker prefix; it is stripped here and never reaches a prompt.
func (m *Machine) Resume(ctx context.Context, state story.TurnState, rawInput string) (res StepResult, err error) {
	ctx, cancel := m.stepContext(ctx)
	defer cancel()
	defer recoverStep(&err)

	s := state.Clone()
	raw, grace := story.StripGraceMarker(rawInput)
	raw = strings.TrimSpace(raw)
	if raw == "" {
		raw = story.ContinueSentinel
	}

	if story.IsQuitWord(raw) {
		beat := story.TerminalMarker + " You step away, and the story closes behind you."
		s.Apply(story.Delta{AppendBeats: []string{beat}, TurnCount: ref(s.TurnCount + 1)})
		return StepResult{State: s, Beat: beat, Terminated: true}, nil
	}

	verdict := m.adjudicate(ctx, &s, raw, grace)

	if verdict.Verdict == story.VerdictGameOver {
		line := verdict.Consequence
		if strings.TrimSpace(line) == "" {
			line = "Your story ends here."
		}
		beat := story.TerminalMarker + " " + line
		s.Apply(story.Delta{AppendBeats: []string{beat}, TurnCount: ref(s.TurnCount + 1)})
		return StepResult{State: s, Beat: beat, Verdict: &verdict, Terminated: true, GameOver: true}, nil
	}

	beat := m.narrate(ctx, &s)
	image, imagePrompt := m.illustrate(ctx, &s)
	return StepResult{State: s, Beat: beat, Image: image, ImagePrompt: imagePrompt, Verdict: &verdict}, nil
}

// adjudicate rules on one raw action and applies the clamped deltas. A failed
// or unparsable ruling degrades to the neutral verdict; the turn never aborts
// here.
func (m *Machine) adjudicate(ctx context.Context, s *story.TurnState, raw string, grace bool) story.Verdict {
	verdict := story.FallbackVerdict(raw)
	if out, err := m.Text.GenerateText(ctx, story.AdjudicatePrompt(s, raw)); err == nil {
		verdict = story.ParseVerdict(out, raw)
	}
	if grace {
		verdict = verdict.Downgrade()
	}
	verdict = verdict.ClampDeltas()

	action := verdict.ResolvedAction
	if verdict.Verdict == story.VerdictRedirect && verdict.Consequence != "" {
		action = action + " " + verdict.Consequence
	}

	d := story.Delta{
		LastActionRaw: ref(raw),
		LastAction:    ref(action),
		Tension:       ref(s.Tension + verdict.TensionChange),
		Progress:      ref(s.Progress + verdict.ProgressChange),
	}
	if verdict.NewName != "" && story.AllowNewProperNoun(s.TurnCount, false) {
		d.AddEntities = []string{verdict.NewName}
	}
	s.Apply(d)
	return verdict
}

// narrate refreshes the rolling summary, generates the next beat, appends it,
// and runs the milestone epilogue. The key-event flag read here was set by the
// previous step; a milestone detected now pays out on the next narration.
func (m *Machine) narrate(ctx context.Context, s *story.TurnState) string {
	keyEvent := s.IsKeyEvent

	if summary, err := m.Text.GenerateText(ctx, story.SummaryPrompt(s)); err == nil && strings.TrimSpace(summary) != "" {
		s.Apply(story.Delta{StorySummary: ref(strings.TrimSpace(summary))})
	}

	beat, err := m.Text.GenerateText(ctx, story.NarratePrompt(s, keyEvent))
	beat = strings.TrimSpace(beat)
	if err != nil || beat == "" {
		beat = story.StalledBeat
	}

	d := story.Delta{AppendBeats: []string{beat}, TurnCount: ref(s.TurnCount + 1)}
	if s.Progress >= story.ProgressMax {
		d.Progress = ref(0)
		d.IsKeyEvent = ref(true)
	} else {
		d.IsKeyEvent = ref(false)
	}
	s.Apply(d)
	return beat
}

// illustrate renders a scene image when the cadence calls for one. Every
// failure path is a silent no-op; a turn never fails for want of a picture.
func (m *Machine) illustrate(ctx context.Context, s *story.TurnState) ([]byte, string) {
	if m.Image == nil {
		return nil, ""
	}
	if !story.ShouldIllustrate(s.TurnCount, s.IsKeyEvent) {
		return nil, ""
	}

	if strings.TrimSpace(s.ImgGenerationRules) == "" {
		brief, err := m.Text.GenerateText(ctx, story.StyleBriefPrompt(s.Theme))
		if err != nil {
			return nil, ""
		}
		rules := story.ClampStyleBrief(brief, s.NamedEntities)
		if rules == "" {
			return nil, ""
		}
		s.Apply(story.Delta{ImgGenerationRules: ref(rules)})
	}

	latest := s.Situation[len(s.Situation)-1]
	scene, err := m.Text.GenerateText(ctx, story.ScenePromptRequest(latest, s.LastAction))
	if err != nil {
		return nil, ""
	}
	scene = story.ClampScenePrompt(scene, append([]string{s.CharName}, s.NamedEntities...))
	if scene == "" {
		return nil, ""
	}
	prompt := scene + "\n" + s.ImgGenerationRules
	s.Apply(story.Delta{LastImagePrompt: ref(prompt)})

	data, err := m.Image.GenerateImage(ctx, prompt)
	if err != nil || len(data) == 0 {
		return nil, prompt
	}
	s.Apply(story.Delta{LastImage: data})
	return data, prompt
}

func (m *Machine) stepContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.StepTimeout > 0 {
		return context.WithTimeout(ctx, m.StepTimeout)
	}
	return context.WithCancel(ctx)
}

func ref[T any](v T) *T { return &v }

// recoverStep converts a collaborator panic into a step error so a bad
// adapter cannot take the whole process down mid-turn.
func recoverStep(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("engine: step panic: %v\n%s", r, rdebug.Stack())
	}
}
