package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"reflect"
	"slices"
	"strings"
)

type jsoncConfig struct {
	Backend   *jsoncBackend   `json:"backend"`
	Candidate *jsoncCandidate `json:"candidate"`
	Audio     *jsoncAudio     `json:"audio"`
	Playback  *jsoncPlayback  `json:"playback"`
	Indicator *jsoncIndicator `json:"indicator"`
	Debug     *jsoncDebug     `json:"debug"`
}

type jsoncBackend struct {
	BaseURL    *string `json:"base_url"`
	SocketPath *string `json:"socket_path"`
	TimeoutMS  *int    `json:"timeout_ms"`
	VoiceID    *string `json:"voice_id"`
}

type jsoncCandidate struct {
	InterviewID *string `json:"interview_id"`
	Name        *string `json:"name"`
	Email       *string `json:"email"`
}

type jsoncAudio struct {
	Input    *string `json:"input"`
	Fallback *string `json:"fallback"`
}

type jsoncPlayback struct {
	Enable  *bool   `json:"enable"`
	Command *string `json:"command"`
}

type jsoncIndicator struct {
	SoundEnable *bool `json:"sound_enable"`
}

type jsoncDebug struct {
	AudioDump *bool `json:"audio_dump"`
}

// Parse overlays JSONC content onto base and validates the result.
// Comments and trailing commas are accepted; unknown sections and keys
// are not. Errors name the line and column in content and, where it
// applies, the dotted key such as backend.timeout_ms.
func Parse(content string, base Config) (Config, []Warning, error) {
	plain, err := stripJSONC(content)
	if err != nil {
		return Config{}, nil, err
	}

	cfg := base
	if len(bytes.TrimSpace(plain)) > 0 {
		if err := checkKeys(plain); err != nil {
			return Config{}, nil, err
		}

		decoder := json.NewDecoder(bytes.NewReader(plain))
		decoder.DisallowUnknownFields()

		var payload jsoncConfig
		if err := decoder.Decode(&payload); err != nil {
			return Config{}, nil, describeDecodeError(plain, err)
		}
		if rest := bytes.TrimLeft(plain[decoder.InputOffset():], " \t\r\n"); len(rest) > 0 {
			line, col := position(plain, int64(len(plain)-len(rest)+1))
			return Config{}, nil, fmt.Errorf("line %d column %d: only one config object is allowed", line, col)
		}

		if err := payload.applyTo(&cfg); err != nil {
			return Config{}, nil, err
		}
	}

	warnings, err := Validate(cfg)
	if err != nil {
		return Config{}, nil, err
	}
	return cfg, warnings, nil
}

func (payload jsoncConfig) applyTo(cfg *Config) error {
	if b := payload.Backend; b != nil {
		setString(&cfg.Backend.BaseURL, b.BaseURL)
		setString(&cfg.Backend.SocketPath, b.SocketPath)
		setString(&cfg.Backend.VoiceID, b.VoiceID)
		if b.TimeoutMS != nil {
			cfg.Backend.TimeoutMS = *b.TimeoutMS
		}
	}

	if c := payload.Candidate; c != nil {
		setString(&cfg.Candidate.InterviewID, c.InterviewID)
		setString(&cfg.Candidate.Name, c.Name)
		setString(&cfg.Candidate.Email, c.Email)
	}

	if a := payload.Audio; a != nil {
		setString(&cfg.Audio.Input, a.Input)
		setString(&cfg.Audio.Fallback, a.Fallback)
	}

	if p := payload.Playback; p != nil {
		if p.Enable != nil {
			cfg.Playback.Enable = *p.Enable
		}
		if p.Command != nil {
			raw := *p.Command
			argv, err := parseArgv(raw)
			if err != nil {
				return fmt.Errorf("invalid playback.command: %w", err)
			}
			cfg.Playback.Command = CommandConfig{Raw: raw, Argv: argv}
		}
	}

	if payload.Indicator != nil && payload.Indicator.SoundEnable != nil {
		cfg.Indicator.SoundEnable = *payload.Indicator.SoundEnable
	}

	if payload.Debug != nil && payload.Debug.AudioDump != nil {
		cfg.Debug.EnableAudioDump = *payload.Debug.AudioDump
	}

	return nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = strings.TrimSpace(*src)
	}
}

// stripJSONC turns JSONC into plain JSON by blanking comments and trailing
// commas with spaces. Line breaks and byte offsets are left untouched.
func stripJSONC(content string) ([]byte, error) {
	out := []byte(content)
	comma := -1

	for i := 0; i < len(out); i++ {
		c := out[i]
		switch {
		case c == '"':
			i = closingQuote(out, i)
			comma = -1
		case c == '/' && i+1 < len(out) && out[i+1] == '/':
			for ; i < len(out) && out[i] != '\n' && out[i] != '\r'; i++ {
				out[i] = ' '
			}
		case c == '/' && i+1 < len(out) && out[i+1] == '*':
			end := bytes.Index(out[i+2:], []byte("*/"))
			if end < 0 {
				line, col := position(out, int64(i+1))
				return nil, fmt.Errorf("line %d column %d: comment is never closed", line, col)
			}
			end += i + 4
			blank(out[i:end])
			i = end - 1
		case c == ',':
			comma = i
		case c == '}' || c == ']':
			if comma >= 0 {
				out[comma] = ' '
			}
			comma = -1
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
		default:
			comma = -1
		}
	}
	return out, nil
}

// closingQuote returns the index of the quote ending the string opened at
// open, or the last index when the string never ends.
func closingQuote(b []byte, open int) int {
	for i := open + 1; i < len(b); i++ {
		switch b[i] {
		case '\\':
			i++
		case '"':
			return i
		}
	}
	return len(b) - 1
}

func blank(b []byte) {
	for i, c := range b {
		if c != '\n' && c != '\r' && c != '\t' {
			b[i] = ' '
		}
	}
}

// checkKeys rejects sections and keys the config file does not define,
// naming the accepted ones. Structural problems are left to the decoder.
func checkKeys(plain []byte) error {
	var sections map[string]json.RawMessage
	if err := json.Unmarshal(plain, &sections); err != nil {
		return nil
	}

	known := jsonFields(reflect.TypeOf(jsoncConfig{}))
	for _, name := range slices.Sorted(maps.Keys(sections)) {
		section, ok := known[name]
		if !ok {
			return fmt.Errorf("unknown section %q (expected %s)", name, strings.Join(slices.Sorted(maps.Keys(known)), ", "))
		}
		var keys map[string]json.RawMessage
		if err := json.Unmarshal(sections[name], &keys); err != nil {
			continue
		}
		accepted := jsonFields(section)
		for _, key := range slices.Sorted(maps.Keys(keys)) {
			if _, ok := accepted[key]; !ok {
				return fmt.Errorf("unknown key %s.%s (%s accepts %s)", name, key, name, strings.Join(slices.Sorted(maps.Keys(accepted)), ", "))
			}
		}
	}
	return nil
}

// jsonFields maps the json names of a struct's fields to their types.
func jsonFields(t reflect.Type) map[string]reflect.Type {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	fields := make(map[string]reflect.Type, t.NumField())
	for i := range t.NumField() {
		field := t.Field(i)
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			continue
		}
		fields[name] = field.Type
	}
	return fields
}

func describeDecodeError(plain []byte, err error) error {
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		line, col := position(plain, syntaxErr.Offset)
		return fmt.Errorf("line %d column %d: %w", line, col, err)
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		line, col := position(plain, typeErr.Offset)
		if typeErr.Field == "" {
			return fmt.Errorf("line %d column %d: config must be a JSON object, not %s", line, col, typeErr.Value)
		}
		return fmt.Errorf("line %d column %d: %s must be %s, not %s", line, col, typeErr.Field, kindName(typeErr.Type), typeErr.Value)
	}

	if errors.Is(err, io.ErrUnexpectedEOF) {
		return errors.New("config ends before its object is closed")
	}
	return err
}

func kindName(t reflect.Type) string {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.String:
		return "a string"
	case reflect.Bool:
		return "true or false"
	case reflect.Int, reflect.Int64, reflect.Int32:
		return "a whole number"
	case reflect.Struct, reflect.Map:
		return "an object"
	default:
		return t.String()
	}
}

// position converts a 1-based byte offset into a line and column.
func position(b []byte, offset int64) (int, int) {
	if len(b) == 0 {
		return 1, 1
	}
	n := int(min(max(offset, 1), int64(len(b))))
	before := b[:n-1]
	line := bytes.Count(before, []byte("\n")) + 1
	col := len(before) - bytes.LastIndexByte(before, '\n')
	return line, col
}
