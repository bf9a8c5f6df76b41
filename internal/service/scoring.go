package service

import (
	"math"
	"strconv"
	"strings"
)

// Curriculum levels in order. The last level is terminal.
var levels = []string{"Beginner", "Intermediate", "Advanced"}

// Milestones reached when advancing past a lesson.
const (
	MilestoneNone  = ""
	MilestoneStage = "stage"
	MilestoneLevel = "level"
)

// ParseScore extracts the similarity score from evaluation output: the first
// whitespace-separated token, with trailing punctuation trimmed, parsed as a
// float and clamped to [0, 1]. Anything unparseable scores 0.
func ParseScore(raw string) float64 {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return 0
	}
	token := strings.TrimRight(fields[0], ".,;:!?")
	score, err := strconv.ParseFloat(token, 64)
	if err != nil || math.IsNaN(score) || math.IsInf(score, 0) {
		return 0
	}
	return math.Max(0, math.Min(1, score))
}

// IsComplete reports whether score clears the pass threshold.
func IsComplete(score, threshold float64) bool {
	return score >= threshold
}

// Curriculum holds the milestone spacing of the prompt catalog.
type Curriculum struct {
	StageSize int
	LevelSize int
}

// Progress is a learner's position after advancing.
type Progress struct {
	PromptID  int    `json:"prompt_id"`
	Level     string `json:"level"`
	Stage     string `json:"stage"`
	Milestone string `json:"milestone,omitempty"`
}

// Advance moves past promptID. A new id that is a multiple of LevelSize
// completes the level; otherwise a multiple of StageSize completes the stage.
func (c Curriculum) Advance(promptID int, level, stage string) Progress {
	next := Progress{PromptID: promptID + 1, Level: level, Stage: stage}

	switch {
	case c.LevelSize > 0 && next.PromptID%c.LevelSize == 0:
		next.Milestone = MilestoneLevel
		next.Level = NextLevel(level)
		next.Stage = "L1"
	case c.StageSize > 0 && next.PromptID%c.StageSize == 0:
		next.Milestone = MilestoneStage
		next.Stage = NextStage(stage)
	}
	return next
}

// NextLevel returns the level after level, staying on the last one.
func NextLevel(level string) string {
	for i, l := range levels {
		if strings.EqualFold(l, level) {
			if i+1 < len(levels) {
				return levels[i+1]
			}
			return levels[i]
		}
	}
	return levels[0]
}

// NextStage turns "L<n>" into "L<n+1>". Unrecognised stages are treated as L1.
func NextStage(stage string) string {
	n, err := strconv.Atoi(strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(stage)), "L"))
	if err != nil || n < 1 {
		n = 1
	}
	return "L" + strconv.Itoa(n+1)
}
