package config

// Default returns the canonical runtime configuration used when no file is present.
func Default() Config {
	return Config{
		Backend: BackendConfig{
			BaseURL:    "http://127.0.0.1:8000",
			SocketPath: "/socket.io/",
			TimeoutMS:  30000,
		},
		Audio: AudioConfig{
			Input:    "default",
			Fallback: "default",
		},
		Playback: PlaybackConfig{Enable: true},
		Indicator: IndicatorConfig{
			SoundEnable: true,
		},
		Debug: DebugConfig{},
	}
}
