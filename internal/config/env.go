package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables that override file values.
const (
	EnvBackendURL     = "INTERVUE_BACKEND_URL"
	EnvBackendTimeout = "INTERVUE_BACKEND_TIMEOUT_MS"
	EnvVoiceID        = "INTERVUE_VOICE_ID"
	EnvInterviewID    = "INTERVUE_INTERVIEW_ID"
	EnvCandidateName  = "INTERVUE_CANDIDATE_NAME"
	EnvCandidateEmail = "INTERVUE_CANDIDATE_EMAIL"
)

// LoadDotEnv exports variables from a dotenv file into the process
// environment. Variables that are already set win. A missing file is not an error.
func LoadDotEnv(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("load env file %q: %w", path, err)
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) []Warning {
	var warnings []Warning

	str := func(key string, dst *string) {
		if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
			*dst = strings.TrimSpace(value)
		}
	}

	str(EnvBackendURL, &cfg.Backend.BaseURL)
	str(EnvVoiceID, &cfg.Backend.VoiceID)
	str(EnvInterviewID, &cfg.Candidate.InterviewID)
	str(EnvCandidateName, &cfg.Candidate.Name)
	str(EnvCandidateEmail, &cfg.Candidate.Email)

	if raw, ok := lookup(EnvBackendTimeout); ok && strings.TrimSpace(raw) != "" {
		ms, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			warnings = append(warnings, Warning{Message: fmt.Sprintf("ignoring %s=%q: not an integer", EnvBackendTimeout, raw)})
		} else {
			cfg.Backend.TimeoutMS = ms
		}
	}

	return warnings
}
