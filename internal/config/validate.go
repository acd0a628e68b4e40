package config

import (
	"fmt"
	"net/mail"
	"net/url"
	"strings"
)

// Validate enforces config invariants and returns non-fatal warnings.
func Validate(cfg Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	base := strings.TrimSpace(cfg.Backend.BaseURL)
	if base == "" {
		return nil, fmt.Errorf("backend.base_url must not be empty")
	}
	parsed, err := url.Parse(base)
	if err != nil || parsed.Host == "" {
		return nil, fmt.Errorf("backend.base_url must be an absolute URL")
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("backend.base_url scheme must be http or https")
	}
	if !strings.HasPrefix(strings.TrimSpace(cfg.Backend.SocketPath), "/") {
		return nil, fmt.Errorf("backend.socket_path must start with '/'")
	}
	if cfg.Backend.TimeoutMS <= 0 {
		return nil, fmt.Errorf("backend.timeout_ms must be > 0")
	}
	if parsed.Scheme == "http" && !isLoopbackHost(parsed.Hostname()) {
		warnings = append(warnings, Warning{Message: fmt.Sprintf("backend.base_url %q is not TLS; answers travel in clear text", base)})
	}

	if email := strings.TrimSpace(cfg.Candidate.Email); email != "" {
		if _, err := mail.ParseAddress(email); err != nil {
			return nil, fmt.Errorf("candidate.email %q is not a valid address", email)
		}
	}

	if cfg.Playback.Command.Raw != "" && len(cfg.Playback.Command.Argv) == 0 {
		return nil, fmt.Errorf("playback.command is configured but empty")
	}

	return warnings, nil
}

func isLoopbackHost(host string) bool {
	switch strings.ToLower(host) {
	case "localhost", "127.0.0.1", "::1":
		return true
	default:
		return false
	}
}
