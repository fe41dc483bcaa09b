package content

import (
	"strings"

	"github.com/google/uuid"
)

// Explanation is a multi-level walkthrough of one practice problem.
type Explanation struct {
	SubjectCode       string `json:"subject_code"`
	SkillID           string `json:"skill_id,omitempty"`
	SkillName         string `json:"skill_name"`
	ProblemText       string `json:"problem_text"`
	Level1            string `json:"level_1"`
	Level2            string `json:"level_2"`
	Level3            string `json:"level_3"`
	VisualExplanation string `json:"visual_explanation,omitempty"`
	StoryExplanation  string `json:"story_explanation,omitempty"`
	StepByStep        string `json:"step_by_step,omitempty"`
	GeneratedBy       string `json:"generated_by,omitempty"`
}

func (*Explanation) Kind() Kind { return KindExplanation }
func (*Explanation) sealed()    {}

func (e *Explanation) Validate() error {
	if err := required(KindExplanation, map[string]string{
		"subject_code": e.SubjectCode,
		"skill_name":   e.SkillName,
		"problem_text": e.ProblemText,
		"level_1":      e.Level1,
	}); err != nil {
		return err
	}
	return optionalUUID(KindExplanation, "skill_id", e.SkillID)
}

func (e *Explanation) Row() map[string]any {
	row := map[string]any{
		"subject_code": e.SubjectCode,
		"skill_name":   e.SkillName,
		"problem_text": e.ProblemText,
		"level_1":      e.Level1,
		"level_2":      e.Level2,
		"level_3":      e.Level3,
		"times_used":   0,
	}
	putIf(row, "skill_id", e.SkillID)
	putIf(row, "visual_explanation", e.VisualExplanation)
	putIf(row, "story_explanation", e.StoryExplanation)
	putIf(row, "step_by_step", e.StepByStep)
	putIf(row, "generated_by", e.GeneratedBy)
	return row
}

// MistakePattern maps one wrong answer to feedback for the learner.
type MistakePattern struct {
	SubjectCode   string `json:"subject_code"`
	SkillID       string `json:"skill_id,omitempty"`
	ProblemText   string `json:"problem_text"`
	CorrectAnswer string `json:"correct_answer"`
	WrongAnswer   string `json:"wrong_answer"`
	WhyKidChose   string `json:"why_kid_chose,omitempty"`
	Feedback      string `json:"feedback"`
}

func (*MistakePattern) Kind() Kind { return KindMistakePattern }
func (*MistakePattern) sealed()    {}

func (m *MistakePattern) Validate() error {
	if err := required(KindMistakePattern, map[string]string{
		"subject_code":   m.SubjectCode,
		"problem_text":   m.ProblemText,
		"correct_answer": m.CorrectAnswer,
		"wrong_answer":   m.WrongAnswer,
		"feedback":       m.Feedback,
	}); err != nil {
		return err
	}
	if strings.TrimSpace(m.CorrectAnswer) == strings.TrimSpace(m.WrongAnswer) {
		return &ValidationError{Kind: KindMistakePattern, Field: "wrong_answer", Reason: "equals the correct answer"}
	}
	return optionalUUID(KindMistakePattern, "skill_id", m.SkillID)
}

func (m *MistakePattern) Row() map[string]any {
	why := m.WhyKidChose
	if why == "" {
		why = "Chose " + m.WrongAnswer + " instead of " + m.CorrectAnswer
	}
	row := map[string]any{
		"subject_code":   m.SubjectCode,
		"problem_text":   m.ProblemText,
		"correct_answer": m.CorrectAnswer,
		"wrong_answer":   m.WrongAnswer,
		"why_kid_chose":  why,
		"feedback":       m.Feedback,
		"times_seen":     0,
		"times_helped":   0,
	}
	putIf(row, "skill_id", m.SkillID)
	return row
}

// Analogy explains a skill by comparison to something familiar.
type Analogy struct {
	SkillID     string `json:"skill_id,omitempty"`
	SubjectCode string `json:"subject_code"`
	SkillName   string `json:"skill_name"`
	AgeGroup    string `json:"age_group"`
	Analogy     string `json:"analogy"`
	Explanation string `json:"explanation"`
}

func (*Analogy) Kind() Kind { return KindAnalogy }
func (*Analogy) sealed()    {}

func (a *Analogy) Validate() error {
	if err := required(KindAnalogy, map[string]string{
		"subject_code": a.SubjectCode,
		"skill_name":   a.SkillName,
		"age_group":    a.AgeGroup,
		"analogy":      a.Analogy,
		"explanation":  a.Explanation,
	}); err != nil {
		return err
	}
	return optionalUUID(KindAnalogy, "skill_id", a.SkillID)
}

func (a *Analogy) Row() map[string]any {
	row := map[string]any{
		"subject_code": a.SubjectCode,
		"skill_name":   a.SkillName,
		"age_group":    a.AgeGroup,
		"analogy":      a.Analogy,
		"explanation":  a.Explanation,
		"times_used":   0,
	}
	putIf(row, "skill_id", a.SkillID)
	return row
}

// StuckResponse is what the tutor says when a learner is stuck.
type StuckResponse struct {
	QuestionType string `json:"question_type"`
	Subject      string `json:"subject"`
	AgeGroup     string `json:"age_group"`
	Response     string `json:"response"`
	ResponseTone string `json:"response_tone"`
}

func (*StuckResponse) Kind() Kind { return KindStuckResponse }
func (*StuckResponse) sealed()    {}

func (s *StuckResponse) Validate() error {
	return required(KindStuckResponse, map[string]string{
		"question_type": s.QuestionType,
		"subject":       s.Subject,
		"age_group":     s.AgeGroup,
		"response":      s.Response,
		"response_tone": s.ResponseTone,
	})
}

func (s *StuckResponse) Row() map[string]any {
	return map[string]any{
		"question_type": s.QuestionType,
		"subject":       s.Subject,
		"age_group":     s.AgeGroup,
		"response":      s.Response,
		"response_tone": s.ResponseTone,
		"times_used":    0,
	}
}

// PracticeProblem is a graded question with tiered teaching support.
type PracticeProblem struct {
	ID       string         `json:"id"`
	Subject  string         `json:"subject"`
	Grade    *int           `json:"grade"`
	Skill    string         `json:"skill"`
	Standard string         `json:"standard,omitempty"`
	RuleID   string         `json:"rule_id,omitempty"`
	Question string         `json:"question"`
	Answer   string         `json:"answer"`
	Tier1    map[string]any `json:"tier1,omitempty"`
	Tier2    map[string]any `json:"tier2,omitempty"`
}

func (*PracticeProblem) Kind() Kind { return KindPracticeProblem }
func (*PracticeProblem) sealed()    {}

func (p *PracticeProblem) Validate() error {
	if err := required(KindPracticeProblem, map[string]string{
		"id":       p.ID,
		"subject":  p.Subject,
		"skill":    p.Skill,
		"question": p.Question,
		"answer":   p.Answer,
	}); err != nil {
		return err
	}
	switch {
	case p.Grade == nil:
		return &ValidationError{Kind: KindPracticeProblem, Field: "grade", Reason: "is required"}
	case *p.Grade < 0 || *p.Grade > 12:
		return &ValidationError{Kind: KindPracticeProblem, Field: "grade", Reason: "must be between 0 and 12"}
	}
	return nil
}

func (p *PracticeProblem) Row() map[string]any {
	row := map[string]any{
		"id":       p.ID,
		"subject":  p.Subject,
		"skill":    p.Skill,
		"question": p.Question,
		"answer":   p.Answer,
	}
	if p.Grade != nil {
		row["grade"] = *p.Grade
	}
	putIf(row, "standard", p.Standard)
	putIf(row, "rule_id", p.RuleID)
	if p.Tier1 != nil {
		row["tier1"] = p.Tier1
	}
	if p.Tier2 != nil {
		row["tier2"] = p.Tier2
	}
	return row
}

// required reports the first blank field in lexical order so errors are stable.
func required(kind Kind, fields map[string]string) error {
	var blank []string
	for name, v := range fields {
		if strings.TrimSpace(v) == "" {
			blank = append(blank, name)
		}
	}
	if len(blank) == 0 {
		return nil
	}
	first := blank[0]
	for _, b := range blank[1:] {
		if b < first {
			first = b
		}
	}
	return &ValidationError{Kind: kind, Field: first, Reason: "is required"}
}

func optionalUUID(kind Kind, field, v string) error {
	if v == "" {
		return nil
	}
	if _, err := uuid.Parse(v); err != nil {
		return &ValidationError{Kind: kind, Field: field, Reason: "is not a UUID"}
	}
	return nil
}

func putIf(row map[string]any, key, v string) {
	if v != "" {
		row[key] = v
	}
}
