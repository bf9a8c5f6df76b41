package service

import "testing"

func TestParseScore(t *testing.T) {
	tests := []struct {
		raw  string
		want float64
	}{
		{"0.8", 0.8},
		{"0.8 LESSON_COMPLETE", 0.8},
		{"  0.45\n", 0.45},
		{"0.8,", 0.8},
		{"0.75. LESSON_COMPLETE", 0.75},
		{"1", 1},
		{"1.7", 1},
		{"-0.2", 0},
		{"", 0},
		{"   ", 0},
		{"Score: 0.9", 0},
		{"LESSON_COMPLETE 0.9", 0},
		{"NaN", 0},
		{"Inf", 0},
	}
	for _, tc := range tests {
		if got := ParseScore(tc.raw); got != tc.want {
			t.Errorf("ParseScore(%q) = %v, want %v", tc.raw, got, tc.want)
		}
	}
}

func TestIsComplete(t *testing.T) {
	tests := []struct {
		score float64
		want  bool
	}{
		{0.6, true},
		{0.59, false},
		{1, true},
		{0, false},
	}
	for _, tc := range tests {
		if got := IsComplete(tc.score, 0.6); got != tc.want {
			t.Errorf("IsComplete(%v) = %v, want %v", tc.score, got, tc.want)
		}
	}
}

func TestCurriculumAdvance(t *testing.T) {
	c := Curriculum{StageSize: 26, LevelSize: 101}
	tests := []struct {
		name  string
		id    int
		level string
		stage string
		want  Progress
	}{
		{"plain", 1, "Beginner", "L1", Progress{PromptID: 2, Level: "Beginner", Stage: "L1"}},
		{"stage", 25, "Beginner", "L1", Progress{PromptID: 26, Level: "Beginner", Stage: "L2", Milestone: MilestoneStage}},
		{"second stage", 51, "Beginner", "L2", Progress{PromptID: 52, Level: "Beginner", Stage: "L3", Milestone: MilestoneStage}},
		{"level", 100, "Beginner", "L4", Progress{PromptID: 101, Level: "Intermediate", Stage: "L1", Milestone: MilestoneLevel}},
		{"level wins over stage", 2625, "Intermediate", "L3", Progress{PromptID: 2626, Level: "Advanced", Stage: "L1", Milestone: MilestoneLevel}},
		{"advanced plain", 211, "Advanced", "L2", Progress{PromptID: 212, Level: "Advanced", Stage: "L2"}},
		{"last level stays", 302, "Advanced", "L4", Progress{PromptID: 303, Level: "Advanced", Stage: "L1", Milestone: MilestoneLevel}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := c.Advance(tc.id, tc.level, tc.stage); got != tc.want {
				t.Errorf("Advance(%d) = %+v, want %+v", tc.id, got, tc.want)
			}
		})
	}
}

func TestNextStage(t *testing.T) {
	tests := map[string]string{
		"L1":   "L2",
		"l9":   "L10",
		"":     "L2",
		"mid":  "L2",
		" L3 ": "L4",
	}
	for in, want := range tests {
		if got := NextStage(in); got != want {
			t.Errorf("NextStage(%q) = %q, want %q", in, got, want)
		}
	}
}
