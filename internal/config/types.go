// Package config resolves, parses, validates, and defaults intervue configuration.
package config

// Config is the fully materialized runtime configuration used by intervue.
type Config struct {
	Backend   BackendConfig   `yaml:"backend"`
	Candidate CandidateConfig `yaml:"candidate"`
	Audio     AudioConfig     `yaml:"audio"`
	Playback  PlaybackConfig  `yaml:"playback"`
	Indicator IndicatorConfig `yaml:"indicator"`
	Debug     DebugConfig     `yaml:"debug"`
}

// BackendConfig points at the interview service and its realtime channel.
type BackendConfig struct {
	BaseURL    string `yaml:"base_url"`
	SocketPath string `yaml:"socket_path"`
	TimeoutMS  int    `yaml:"timeout_ms"`
	VoiceID    string `yaml:"voice_id,omitempty"`
}

// CandidateConfig holds join defaults that CLI flags may override.
type CandidateConfig struct {
	InterviewID string `yaml:"interview_id,omitempty"`
	Name        string `yaml:"name,omitempty"`
	Email       string `yaml:"email,omitempty"`
}

// AudioConfig controls preferred and fallback input-source selection.
type AudioConfig struct {
	Input    string `yaml:"input"`
	Fallback string `yaml:"fallback"`
}

// PlaybackConfig controls question audio playback.
type PlaybackConfig struct {
	Enable  bool          `yaml:"enable"`
	Command CommandConfig `yaml:"command"`
}

// IndicatorConfig controls audio cue behavior.
type IndicatorConfig struct {
	SoundEnable bool `yaml:"sound_enable"`
}

// CommandConfig stores a raw command string and its parsed argv form.
type CommandConfig struct {
	Raw  string   `yaml:"raw,omitempty"`
	Argv []string `yaml:"argv,flow,omitempty"`
}

// DebugConfig controls optional debug artifact output.
type DebugConfig struct {
	EnableAudioDump bool `yaml:"audio_dump"`
}

// Warning is a non-fatal parse/validation message.
type Warning struct {
	Line    int
	Message string
}
