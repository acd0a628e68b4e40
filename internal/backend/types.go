package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// StartRequest opens a candidate run of one interview.
type StartRequest struct {
	InterviewID    string `json:"interview_id"`
	CandidateName  string `json:"candidate_name"`
	CandidateEmail string `json:"candidate_email"`
}

// StartResponse identifies the run. SessionID and SessionToken are present
// only when the realtime channel is available.
type StartResponse struct {
	ResponseID      string   `json:"response_id"`
	InterviewID     string   `json:"interview_id"`
	SessionID       string   `json:"session_id"`
	SessionToken    string   `json:"session_token"`
	Mode            string   `json:"mode"`
	DurationMinutes *float64 `json:"duration_minutes"`
	StartTime       string   `json:"start_time"`
}

// DurationSeconds converts the time budget. Zero means unlimited.
func (r StartResponse) DurationSeconds() int {
	if r.DurationMinutes == nil || *r.DurationMinutes <= 0 {
		return 0
	}
	return int(math.Round(*r.DurationMinutes * 60))
}

// QuestionResponse is the reply of get-current-question.
type QuestionResponse struct {
	Complete          bool            `json:"complete"`
	InterviewComplete bool            `json:"interview_complete"`
	CurrentQuestion   QuestionPayload `json:"current_question"`
	QuestionNumber    int             `json:"question_number"`
	TotalQuestions    int             `json:"total_questions"`
	Mode              string          `json:"mode"`
	TTSAudioBase64    string          `json:"tts_audio_base64"`
	TTSContentType    string          `json:"tts_content_type"`
}

// Done reports whether the backend considers the interview finished.
func (q QuestionResponse) Done() bool {
	return q.Complete || q.InterviewComplete
}

// QuestionPayload accepts either a bare string or an object carrying the
// text under "question" or "text".
type QuestionPayload struct {
	Text string
}

func (q *QuestionPayload) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		q.Text = ""
		return nil
	}
	if trimmed[0] == '"' {
		return json.Unmarshal(trimmed, &q.Text)
	}

	var object struct {
		Question *string `json:"question"`
		Text     *string `json:"text"`
	}
	if err := json.Unmarshal(trimmed, &object); err != nil {
		return fmt.Errorf("current_question: %w", err)
	}
	switch {
	case object.Question != nil && *object.Question != "":
		q.Text = *object.Question
	case object.Text != nil:
		q.Text = *object.Text
	default:
		q.Text = ""
	}
	return nil
}

// SubmitRequest carries one answer.
type SubmitRequest struct {
	ResponseID string `json:"response_id"`
	Question   string `json:"question"`
	Transcript string `json:"transcript"`
}

// SubmitResponse is the reply of submit-answer.
type SubmitResponse struct {
	Complete           bool      `json:"complete"`
	InterviewCompleted bool      `json:"interview_completed"`
	QuestionNumber     int       `json:"question_number"`
	TotalQuestions     int       `json:"total_questions"`
	QuestionsAnswered  int       `json:"questions_answered"`
	FinalAnalysis      *Analysis `json:"final_analysis"`
}

// Done reports whether this answer finished the interview.
func (s SubmitResponse) Done() bool {
	return s.Complete || s.InterviewCompleted
}

// EndResponse is the reply of end-interview.
type EndResponse struct {
	Message             string  `json:"message"`
	QuestionsAnswered   int     `json:"questions_answered"`
	TotalQuestions      int     `json:"total_questions"`
	IsPartiallyComplete bool    `json:"is_partially_complete"`
	EndTime             string  `json:"end_time"`
	DurationSeconds     float64 `json:"duration_seconds"`
}

// ResponseDetail is the subset of get-response used for the final summary.
type ResponseDetail struct {
	GeneralSummary *Analysis `json:"general_summary"`
}

// Analysis is the scored evaluation of a run. Scores arrive as numbers or
// numeric strings depending on the model output, so decoding is lenient.
type Analysis struct {
	OverallScore          float64 `json:"overall_score" yaml:"overall_score"`
	OverallFeedback       string  `json:"overall_feedback" yaml:"overall_feedback,omitempty"`
	CommunicationScore    float64 `json:"communication_score" yaml:"communication_score"`
	CommunicationFeedback string  `json:"communication_feedback" yaml:"communication_feedback,omitempty"`
	Sentiment             string  `json:"sentiment" yaml:"sentiment,omitempty"`
	CallSummary           string  `json:"call_summary" yaml:"call_summary,omitempty"`
	SoftSkillSummary      string  `json:"soft_skill_summary" yaml:"soft_skill_summary,omitempty"`
	Error                 string  `json:"error" yaml:"error,omitempty"`
}

func (a *Analysis) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("analysis: %w", err)
	}
	*a = Analysis{
		OverallScore:          number(raw["overall_score"]),
		OverallFeedback:       text(raw["overall_feedback"]),
		CommunicationScore:    number(raw["communication_score"]),
		CommunicationFeedback: text(raw["communication_feedback"]),
		Sentiment:             text(raw["sentiment"]),
		CallSummary:           text(raw["call_summary"]),
		SoftSkillSummary:      text(raw["soft_skill_summary"]),
		Error:                 text(raw["error"]),
	}
	return nil
}

func number(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

func text(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
