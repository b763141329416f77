package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Defaults applied by [applyDefaults]. The audio service endpoint and the
// Deepgram model default match what the service itself assumes.
const (
	DefaultListenAddr     = "127.0.0.1:8787"
	DefaultServiceURL     = "ws://127.0.0.1:8765"
	DefaultRecordingsDir  = "recordings"
	DefaultDeepgramModel  = "nova-2"
	defaultConnectTimeout = Duration(5e9)  // 5s
	defaultStopTimeout    = Duration(60e9) // 60s
)

// Load reads the YAML configuration file at path, overlays credentials from
// the environment (after a best-effort .env load), and returns a validated
// [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	overlayEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and applies defaults. It does
// not touch the environment and does not validate; useful in tests where
// configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	return cfg, nil
}

// overlayEnv fills credential fields left empty in the YAML from the process
// environment. A `.env` file next to the working directory is loaded first,
// without overriding variables already set — the audio service reads its
// credentials the same way.
func overlayEnv(cfg *Config) {
	_ = godotenv.Load()

	if cfg.Transcription.HuggingFaceToken == "" {
		cfg.Transcription.HuggingFaceToken = os.Getenv("HUGGINGFACE_TOKEN")
	}
	if cfg.Transcription.Deepgram.APIKey == "" {
		cfg.Transcription.Deepgram.APIKey = os.Getenv("DEEPGRAM_API_KEY")
	}
	if cfg.Storage.PostgresDSN == "" {
		cfg.Storage.PostgresDSN = os.Getenv("MEETMATE_POSTGRES_DSN")
	}
}

// applyDefaults fills zero-valued fields with their defaults.
func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.AudioService.URL == "" {
		cfg.AudioService.URL = DefaultServiceURL
	}
	if cfg.AudioService.ConnectTimeout <= 0 {
		cfg.AudioService.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.AudioService.StopTimeout <= 0 {
		cfg.AudioService.StopTimeout = defaultStopTimeout
	}
	if cfg.Transcription.Mode == "" {
		cfg.Transcription.Mode = ModeLocal
	}
	if cfg.Transcription.Deepgram.Model == "" {
		cfg.Transcription.Deepgram.Model = DefaultDeepgramModel
	}
	if cfg.Recordings.Dir == "" {
		cfg.Recordings.Dir = DefaultRecordingsDir
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if !cfg.Transcription.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("transcription.mode %q is invalid; valid values: local, deepgram", cfg.Transcription.Mode))
	}
	if cfg.Transcription.Mode == ModeDeepgram && cfg.Transcription.Deepgram.APIKey == "" {
		errs = append(errs, errors.New("transcription.mode is \"deepgram\" but no API key is configured (transcription.deepgram.api_key or DEEPGRAM_API_KEY)"))
	}
	if cfg.Storage.PostgresDSN == "" {
		errs = append(errs, errors.New("storage.postgres_dsn is required"))
	}
	if cfg.AudioService.StopTimeout < cfg.AudioService.ConnectTimeout {
		errs = append(errs, errors.New("audio_service.stop_timeout must not be shorter than audio_service.connect_timeout"))
	}

	return errors.Join(errs...)
}
