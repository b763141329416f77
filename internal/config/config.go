// Package config provides the configuration schema and loader for the
// MeetMate backend.
package config

import (
	"fmt"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Mode selects the transcription backend inside the audio service.
type Mode string

const (
	// ModeLocal runs transcription on-device inside the audio service.
	ModeLocal Mode = "local"

	// ModeDeepgram streams audio to the hosted Deepgram backend.
	ModeDeepgram Mode = "deepgram"
)

// IsValid reports whether m is a recognised transcription mode.
func (m Mode) IsValid() bool {
	return m == ModeLocal || m == ModeDeepgram
}

// Duration wraps time.Duration with YAML decoding from strings like "5s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	AudioService  AudioServiceConfig  `yaml:"audio_service"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Storage       StorageConfig       `yaml:"storage"`
	Recordings    RecordingsConfig    `yaml:"recordings"`
}

// ServerConfig holds the local control server settings. The server is only
// ever consumed by the UI layer on the same machine.
type ServerConfig struct {
	// ListenAddr is the TCP address the control server listens on.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// AudioServiceConfig locates the external audio-processing service and bounds
// the protocol waits against it.
type AudioServiceConfig struct {
	// URL is the WebSocket endpoint of the audio service.
	URL string `yaml:"url"`

	// ConnectTimeout bounds the start handshake. Default 5s.
	ConnectTimeout Duration `yaml:"connect_timeout"`

	// StopTimeout bounds the wait for stop confirmation. It must exceed the
	// worst-case trailing transcription flush. Default 60s.
	StopTimeout Duration `yaml:"stop_timeout"`
}

// TranscriptionConfig carries the transcription and diarization settings sent
// with every start command.
type TranscriptionConfig struct {
	// Mode is "local" or "deepgram".
	Mode Mode `yaml:"mode"`

	// DiarizationEnabled requests per-speaker attribution.
	DiarizationEnabled bool `yaml:"diarization_enabled"`

	// InputDeviceID pins a capture device. Nil uses the service default.
	InputDeviceID *int `yaml:"input_device_id"`

	// HuggingFaceToken authorises diarization model download. Filled from
	// the HUGGINGFACE_TOKEN environment variable when empty.
	HuggingFaceToken string `yaml:"huggingface_token"`

	// LocalDiarizationModelPath points at a pre-downloaded diarization model.
	LocalDiarizationModelPath string `yaml:"local_diarization_model_path"`

	// Deepgram configures the hosted backend when Mode is "deepgram".
	Deepgram DeepgramConfig `yaml:"deepgram"`
}

// DeepgramConfig holds the hosted transcription backend settings.
type DeepgramConfig struct {
	// APIKey authenticates against Deepgram. Filled from the
	// DEEPGRAM_API_KEY environment variable when empty.
	APIKey string `yaml:"api_key"`

	// Model selects the Deepgram model. Default "nova-2".
	Model string `yaml:"model"`
}

// StorageConfig locates the relational store.
type StorageConfig struct {
	// PostgresDSN is the connection string for the ledger database.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// RecordingsConfig controls where audio artifacts are written.
type RecordingsConfig struct {
	// Dir is the directory the audio service writes artifacts into.
	Dir string `yaml:"dir"`
}
