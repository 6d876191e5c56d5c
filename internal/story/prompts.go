package story

import (
	"fmt"
	"strings"
)

// Prompt builders for the three generative collaborators. Each returns a
// complete system prompt; the collaborators take no other input.

const introTemplate = `You are writing the opening scene of a brand-new interactive adventure.

Hard requirements:
- Theme: %s
- Protagonist name: %s
- Protagonist role: %s
- Point of view: second-person present ("you"). NPCs may address %s by name.

Clarity requirement (do this early, in-story, without headings):
- Within the first 2 paragraphs, the reader must understand ALL of the following:
    1) Where you are (specific location)
    2) What is happening right now (immediate situation)
    3) What you want (a concrete short-term goal)
    4) Why it matters (stakes)
    5) What stands in your way (a tangible obstacle/threat)

Length + structure:
- Target length: 1200-1800 words.
- 7-11 paragraphs.
- Start in medias res (action already underway), but weave in exposition organically (no lore dump).
- Include at least 5 concrete anchors spread through the scene (place detail, sensory detail, specific object, specific threat, specific constraint).
- Include at least one short dialogue exchange.

Ending:
- End with exactly ONE evocative question that invites the player's next action.
- Do NOT present two options; do NOT phrase it like a menu.

Style constraints:
- No numbered/bulleted lists.
- Avoid dumping lots of new names; introduce at most ONE proper noun if needed.
- Do not mention any game mechanics.`

// IntroPrompt builds the one-time opening-scene prompt.
func IntroPrompt(theme, charName, role string) string {
	return fmt.Sprintf(introTemplate, theme, charName, role, charName)
}

const narrateTemplate = `You are a storyteller running an interactive, choice-driven adventure.

Hard requirements:
- Maintain genre/theme consistency.
- Keep continuity with the intro + summary.
- Be highly responsive to the player's input.
- If the player's last action is NOT __CONTINUE__: the first 1-2 sentences MUST directly reflect what the player just tried to do.
- If the player's last action IS __CONTINUE__: do NOT mention "continuing"; advance the scene by one strong beat from the last moment.
- Output length: %s
- Do NOT output numbered or bulleted lists of choices.
- %s

Consequences + pacing (critical):
- Every turn must cause a concrete change (a consequence): harm, loss, gain, new information, a shifted advantage, a clock ticking, or an irreversible choice.
- Do not "reset" the scene or repeat the same dilemma. Move forward.
- Avoid whiplash pacing: no rapid-fire new rooms or NPCs unless forced by the action.
- Avoid stagnation: if the player stalls or continues, escalate danger or urgency, or advance a countdown.
%s
Immersion (critical):
- Never mention or explain game mechanics, stats, clocks, "tension", "progress", or "turns".
- Never say meta lines like "the tension is rising".

Names & proper nouns:
- Reuse existing names whenever possible.
- If you do introduce a new proper noun, introduce at most ONE.
- Do not invent a new protagonist. The protagonist is the player.

Name integration rules:
- The protagonist's name is %s.
- Use the name sparingly and naturally (dialogue, introductions, emphasis).
- Prefer second-person present ("you"), but NPCs can address %s by name.

Theme: %s

Internal context (do not mention directly):
- Story phase: %s
- Known named entities: %s

Foundational intro (canon):
%s

Current running summary:
%s

Player's last action:
%s

Player's raw intent (may be less polished):
%s`

const milestoneBlock = `
Milestone (critical):
- This turn is a SPECIAL MILESTONE SCENE: a major twist, reveal, new antagonist, new quest, or major escalation. It must feel bigger than a normal turn.
`

// NarratePrompt builds the per-turn storyteller prompt. The caller resolves the
// cadence flags and milestone status before the state mutates for the turn.
func NarratePrompt(s *TurnState, keyEvent bool) string {
	isContinue := s.LastAction == ContinueSentinel
	extra := "\n"
	if keyEvent {
		extra = milestoneBlock
	}
	names := "(none yet)"
	if len(s.NamedEntities) > 0 {
		names = strings.Join(s.NamedEntities, ", ")
	}
	return fmt.Sprintf(narrateTemplate,
		LengthRule(keyEvent, isContinue),
		paceBrief(s.TurnCount, keyEvent),
		extra,
		s.CharName, s.CharName,
		s.Theme,
		PhaseFor(s.Progress),
		names,
		s.IntroText,
		s.StorySummary,
		s.LastAction,
		s.LastActionRaw,
	)
}

const adjudicateTemplate = `You are the RULES ENGINE for an interactive story.
Given the current summary + last user action, decide consequences.

Return ONLY a single JSON object with keys:
- verdict: one of ["ok", "redirect", "game_over"]
- resolved_action: string (the action to feed the storyteller; must be short)
- consequence: string (1-2 sentences describing immediate consequence)
- tension_change: integer (-2..+3)
- progress_change: integer (0..20)
- new_name: string ("" if none)

Rules:
- If the action is suicidal or physically impossible in context, use verdict="game_over".
- If the action is nonsense, self-harm derailment, or story-breaking, use verdict="redirect" and convert it to a grounded action with consequences.
- Do NOT allow infinite invincibility: dangerous actions must have meaningful consequences (injury, loss, capture, setback, or failure).
- If the user action is __CONTINUE__, treat it as "advance to the next beat" (time passes, the situation changes). It should still move the story toward an ending.
- Keep the tone consistent with the theme.
- The protagonist is the player named %s; do not invent a different protagonist.

Proper noun throttle:
- allow_new_proper_noun is whether a new proper noun is allowed this turn.
- If allow_new_proper_noun is false, set new_name to "".

Theme: %s
Tension (internal): %d
Progress (internal): %d/100
Turn: %d
allow_new_proper_noun: %t

Story summary:
%s

Last user action:
%s`

// AdjudicatePrompt builds the rules-engine prompt for one raw action.
func AdjudicatePrompt(s *TurnState, rawAction string) string {
	return fmt.Sprintf(adjudicateTemplate,
		s.CharName,
		s.Theme,
		s.Tension,
		s.Progress,
		s.TurnCount,
		AllowNewProperNoun(s.TurnCount, false),
		s.StorySummary,
		rawAction,
	)
}

const summaryTemplate = `You maintain the running summary of an interactive story.

Rewrite the summary below so it folds in the most recent scenes. Keep it under
250 words. Preserve established facts, names, goals, and unresolved threats;
drop scene-level detail that no longer matters. Output ONLY the new summary,
no preamble.

Current summary:
%s

Most recent scenes, oldest first:
%s`

// summaryWindow is how many trailing beats feed each summary refresh.
const summaryWindow = 5

// SummaryPrompt builds the rolling-summary refresh prompt from the prior
// summary and the last few narration beats.
func SummaryPrompt(s *TurnState) string {
	beats := s.Situation
	if len(beats) > summaryWindow {
		beats = beats[len(beats)-summaryWindow:]
	}
	prior := s.StorySummary
	if prior == "" {
		prior = "(no summary yet)"
	}
	return fmt.Sprintf(summaryTemplate, prior, strings.Join(beats, "\n---\n"))
}

const styleBriefTemplate = `Define a stable visual style for illustrating an interactive story.

Theme: %s

Output EXACTLY 3 short lines:
1) art medium and rendering style
2) palette and lighting
3) mood and framing

Constraints: no proper nouns, no character names, no story events. Each line
under 12 words. Output only the 3 lines.`

// StyleBriefPrompt builds the one-time image style brief prompt.
func StyleBriefPrompt(theme string) string {
	return fmt.Sprintf(styleBriefTemplate, theme)
}

const scenePromptTemplate = `Write ONE image-generation prompt for the latest scene of a story.

Latest scene:
%s

The player's last action:
%s

Constraints:
- 12 to 28 words, a single line.
- Concrete and visual: subject, setting, lighting, mood.
- NO proper nouns and NO character names; use "a figure", "a stranger", etc.
- Output only the prompt line, nothing else.`

// ScenePromptRequest builds the prompt that asks the narrator model for a
// short, name-free image prompt describing the latest beat.
func ScenePromptRequest(latestBeat, lastAction string) string {
	if lastAction == ContinueSentinel || lastAction == "" {
		lastAction = "(the story simply moved on)"
	}
	return fmt.Sprintf(scenePromptTemplate, latestBeat, lastAction)
}

// ClampScenePrompt folds a generated scene prompt onto one line and trims it
// into the 12-28 word window. Known entity names are scrubbed as a backstop;
// the generator is told not to use them but does anyway now and then.
func ClampScenePrompt(prompt string, names []string) string {
	prompt = strings.Join(strings.Fields(prompt), " ")
	for _, name := range names {
		prompt = replaceFold(prompt, name, "a figure")
	}
	words := strings.Fields(prompt)
	if len(words) > 28 {
		words = words[:28]
	}
	return strings.Join(words, " ")
}

// ClampStyleBrief trims a generated style brief to its first 3 non-empty
// lines and scrubs any entity names that leaked in.
func ClampStyleBrief(brief string, names []string) string {
	var lines []string
	for _, line := range strings.Split(brief, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		for _, name := range names {
			line = replaceFold(line, name, "a figure")
		}
		lines = append(lines, line)
		if len(lines) == 3 {
			break
		}
	}
	return strings.Join(lines, "\n")
}

// replaceFold replaces case-insensitive occurrences of name.
func replaceFold(s, name, with string) string {
	if name == "" {
		return s
	}
	var b strings.Builder
	lower := strings.ToLower(s)
	target := strings.ToLower(name)
	for {
		i := strings.Index(lower, target)
		if i < 0 {
			b.WriteString(s)
			return b.String()
		}
		b.WriteString(s[:i])
		b.WriteString(with)
		s = s[i+len(target):]
		lower = lower[i+len(target):]
	}
}

// StalledBeat is the canned narration used when the storyteller call fails.
// The voice stays in-world; technical failure reads as a faltering story.
const StalledBeat = "The story falters for a moment, the scene holding its breath. The world around you is still there, waiting. What do you do?"
