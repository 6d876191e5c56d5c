package story

import "testing"

func TestParseVerdictCleanJSON(t *testing.T) {
	text := `{"verdict":"redirect","resolved_action":"back away slowly","consequence":"The floor gives way.","tension_change":2,"progress_change":5,"new_name":"Vex"}`
	v := ParseVerdict(text, "jump")
	if v.Verdict != VerdictRedirect || v.ResolvedAction != "back away slowly" {
		t.Fatalf("got %+v", v)
	}
	if v.TensionChange != 2 || v.ProgressChange != 5 || v.NewName != "Vex" {
		t.Fatalf("got %+v", v)
	}
}

func TestParseVerdictEmbeddedInProse(t *testing.T) {
	text := "Here is my ruling:\n```json\n{\"verdict\": \"ok\", \"resolved_action\": \"light the torch\", \"consequence\": \"\", \"tension_change\": 1, \"progress_change\": 8, \"new_name\": \"\"}\n```\nHope that helps!"
	v := ParseVerdict(text, "light the torch")
	if v.Verdict != VerdictOK || v.ProgressChange != 8 {
		t.Fatalf("got %+v", v)
	}
}

func TestParseVerdictBracesInsideStrings(t *testing.T) {
	text := `{"verdict":"ok","resolved_action":"say {hello}","consequence":"A voice answers: \"{who goes}\"","tension_change":0,"progress_change":3,"new_name":""}`
	v := ParseVerdict(text, "speak")
	if v.ResolvedAction != "say {hello}" {
		t.Fatalf("got %q", v.ResolvedAction)
	}
}

func TestParseVerdictCoercions(t *testing.T) {
	text := `{"verdict":"OK","resolved_action":"press on","tension_change":"2","progress_change":7.0,"new_name":null}`
	v := ParseVerdict(text, "press on")
	if v.Verdict != VerdictOK {
		t.Fatalf("verdict: got %q", v.Verdict)
	}
	if v.TensionChange != 2 || v.ProgressChange != 7 {
		t.Fatalf("deltas: got %+v", v)
	}
	if v.NewName != "" {
		t.Fatalf("new_name: got %q", v.NewName)
	}
}

func TestParseVerdictFallbacks(t *testing.T) {
	cases := []struct {
		name string
		text string
	}{
		{"no object", "I refuse to answer in JSON."},
		{"unbalanced", `{"verdict": "ok", "resolved_action": "x"`},
		{"not json", "{this is not json}"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := ParseVerdict(tc.text, "wave")
			want := FallbackVerdict("wave")
			if v != want {
				t.Fatalf("got %+v want %+v", v, want)
			}
		})
	}
}

func TestParseVerdictUnknownVerdictBecomesOK(t *testing.T) {
	v := ParseVerdict(`{"verdict":"triumph","resolved_action":"cheer"}`, "cheer")
	if v.Verdict != VerdictOK {
		t.Fatalf("got %q want %q", v.Verdict, VerdictOK)
	}
}

func TestParseVerdictNormalizesContinue(t *testing.T) {
	v := ParseVerdict(`{"verdict":"ok","resolved_action":"Continue"}`, ContinueSentinel)
	if v.ResolvedAction != ContinueSentinel {
		t.Fatalf("got %q", v.ResolvedAction)
	}
}

func TestClampDeltas(t *testing.T) {
	cases := []struct {
		name                      string
		in                        Verdict
		wantTension, wantProgress int
	}{
		{"in range", Verdict{TensionChange: 1, ProgressChange: 10}, 1, 10},
		{"tension floor", Verdict{TensionChange: -8}, -2, 0},
		{"tension ceiling", Verdict{TensionChange: 9}, 3, 0},
		{"progress floor", Verdict{ProgressChange: -5}, 0, 0},
		{"progress ceiling", Verdict{ProgressChange: 55}, 0, 20},
		{"continue minimum", Verdict{ResolvedAction: ContinueSentinel, ProgressChange: 1}, 0, 4},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.in.ClampDeltas()
			if got.TensionChange != tc.wantTension || got.ProgressChange != tc.wantProgress {
				t.Fatalf("got (%d, %d) want (%d, %d)",
					got.TensionChange, got.ProgressChange, tc.wantTension, tc.wantProgress)
			}
		})
	}
}

func TestDowngrade(t *testing.T) {
	v := Verdict{Verdict: VerdictGameOver, ResolvedAction: "charge the beast"}
	got := v.Downgrade()
	if got.Verdict != VerdictRedirect {
		t.Fatalf("verdict: got %q", got.Verdict)
	}
	if got.ProgressChange < 1 {
		t.Fatalf("progress_change: got %d want >= 1", got.ProgressChange)
	}
	if got.Consequence == "" {
		t.Fatal("consequence empty")
	}

	ok := Verdict{Verdict: VerdictOK, ProgressChange: 0}
	if got := ok.Downgrade(); got != ok {
		t.Fatalf("non-fatal verdict changed: %+v", got)
	}
}
