// Package report writes a YAML summary of a finished interview session.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rbright/intervue/internal/backend"
	"github.com/rbright/intervue/internal/session"
	"gopkg.in/yaml.v3"
)

// Meta identifies the run a report belongs to.
type Meta struct {
	RunID          string
	InterviewID    string
	CandidateName  string
	CandidateEmail string
}

// Report is the on-disk session summary.
type Report struct {
	RunID     string            `yaml:"run_id,omitempty"`
	Interview Interview         `yaml:"interview"`
	Outcome   Outcome           `yaml:"outcome"`
	Activity  Activity          `yaml:"activity"`
	Analysis  *backend.Analysis `yaml:"analysis,omitempty"`
}

type Interview struct {
	ID         string `yaml:"id"`
	ResponseID string `yaml:"response_id,omitempty"`
	Candidate  string `yaml:"candidate"`
	Email      string `yaml:"email"`
}

type Outcome struct {
	State             string `yaml:"state"`
	QuestionsAnswered int    `yaml:"questions_answered"`
	TotalQuestions    int    `yaml:"total_questions"`
	PartiallyComplete bool   `yaml:"partially_complete"`
	Reason            string `yaml:"reason,omitempty"`
	DurationSeconds   int    `yaml:"duration_seconds,omitempty"`
	Error             string `yaml:"error,omitempty"`
}

type Activity struct {
	AnswersSubmitted int       `yaml:"answers_submitted"`
	ClipsSent        int       `yaml:"clips_sent"`
	BytesSent        int64     `yaml:"bytes_sent"`
	StartedAt        time.Time `yaml:"started_at"`
	FinishedAt       time.Time `yaml:"finished_at"`
	ElapsedSeconds   float64   `yaml:"elapsed_seconds"`
}

// Build assembles a report from the controller result.
func Build(meta Meta, result session.Result) Report {
	r := Report{
		RunID: meta.RunID,
		Interview: Interview{
			ID:         meta.InterviewID,
			ResponseID: result.ResponseID,
			Candidate:  meta.CandidateName,
			Email:      meta.CandidateEmail,
		},
		Outcome: Outcome{State: string(result.State)},
		Activity: Activity{
			AnswersSubmitted: result.AnswersSubmitted,
			ClipsSent:        result.ClipsSent,
			BytesSent:        result.BytesSent,
			StartedAt:        result.StartedAt.UTC(),
			FinishedAt:       result.FinishedAt.UTC(),
		},
	}
	if !result.StartedAt.IsZero() && result.FinishedAt.After(result.StartedAt) {
		r.Activity.ElapsedSeconds = result.FinishedAt.Sub(result.StartedAt).Round(time.Millisecond).Seconds()
	}
	if result.Err != nil {
		r.Outcome.Error = result.Err.Error()
	}
	if c := result.Completion; c != nil {
		r.Outcome.QuestionsAnswered = c.QuestionsAnswered
		r.Outcome.TotalQuestions = c.TotalQuestions
		r.Outcome.PartiallyComplete = c.PartiallyComplete
		r.Outcome.Reason = c.Reason
		r.Outcome.DurationSeconds = int(c.DurationSeconds)
		r.Analysis = c.Analysis
	}
	return r
}

// Write stores r at path as YAML, creating parent directories as needed.
func Write(path string, r Report) error {
	data, err := yaml.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write report %s: %w", path, err)
	}
	return nil
}
