// Package prompt renders the three fixed LLM prompts of a lesson: the
// presentation of a phrase, the tutor's feedback on a spoken answer, and the
// evaluation that yields a similarity score.
package prompt

import (
	"fmt"
	"sort"
	"strings"
	"text/template"

	"github.com/windfall/langodyssey/internal/errors"
)

// Vars holds every variable any of the templates can reference.
type Vars struct {
	Level                string
	Stage                string
	Prompt               string
	Language             string
	ExpectedUserResponse string
	NotesForAI           string
	Input                string
	Feedback             string
}

const lessonText = `You are an English tutor for {{.Language}} speakers at {{.Level}} level ({{.Stage}} stage).

Present the English phrase "{{.Prompt}}" to the learner. Explain what it means in {{.Language}} using native script. Show them how to respond in English with "{{.ExpectedUserResponse}}". Then ask the learner in {{.Language}} (using native script) to practice responding in English.

Write everything in {{.Language}} native script except the English phrases being taught.
`

const tutorText = `You are an English tutor for a {{.Level}} {{.Stage}} learner who speaks {{.Language}}.
Lesson: "{{.Prompt}}"
Expected response (in English): "{{.ExpectedUserResponse}}"
Notes for you: {{.NotesForAI}}
User said (in {{.Language}}): "{{.Input}}"

Instructions:
Give short, natural and constructive feedback in {{.Language}}, using native script.
Keep everything in {{.Language}}, except the English sentence.
`

const evaluationText = `Evaluate a {{.Level}}-level and {{.Stage}}-stage English learner who speaks {{.Language}}.

Feedback: {{.Feedback}}
Expected Response (in English): {{.ExpectedUserResponse}}
User's Response: {{.Input}}

Steps:
1. Give a similarity score based on expected response and user response between 0.0 to 1.0.
2. If score >= 0.6, add "LESSON_COMPLETE" to end.

Return only the score.
`

var (
	lessonTmpl     = template.Must(template.New("lesson").Option("missingkey=error").Parse(lessonText))
	tutorTmpl      = template.Must(template.New("tutor").Option("missingkey=error").Parse(tutorText))
	evaluationTmpl = template.Must(template.New("evaluation").Option("missingkey=error").Parse(evaluationText))
)

// Lesson renders the presentation prompt.
func Lesson(v Vars) (string, error) {
	if err := require(map[string]string{
		"prompt":                 v.Prompt,
		"language":               v.Language,
		"expected_user_response": v.ExpectedUserResponse,
	}); err != nil {
		return "", err
	}
	return render(lessonTmpl, v)
}

// Tutor renders the feedback prompt. An empty transcript is allowed; the
// tutor is expected to react to silence.
func Tutor(v Vars) (string, error) {
	if err := require(map[string]string{
		"prompt":   v.Prompt,
		"language": v.Language,
	}); err != nil {
		return "", err
	}
	return render(tutorTmpl, v)
}

// Evaluation renders the scoring prompt.
func Evaluation(v Vars) (string, error) {
	if err := require(map[string]string{
		"language":          v.Language,
		"expected_response": v.ExpectedUserResponse,
	}); err != nil {
		return "", err
	}
	return render(evaluationTmpl, v)
}

func render(t *template.Template, v Vars) (string, error) {
	var b strings.Builder
	if err := t.Execute(&b, v); err != nil {
		return "", errors.InternalWrap(fmt.Sprintf("failed to render %s prompt", t.Name()), err)
	}
	return b.String(), nil
}

func require(fields map[string]string) error {
	var missing []string
	for name, value := range fields {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return errors.Validation("missing template variables: " + strings.Join(missing, ", "))
}
