// Package wire implements the JSON control protocol spoken with the MeetMate
// audio service. Every frame on the wire is a single JSON object discriminated
// by a "type" field.
//
// Outbound commands are encoded with [Encode]; inbound frames are decoded with
// [Decode]. The peer is untrusted but not adversarial: frames that do not
// parse, or that carry an unknown type, are reported as not-ok by Decode and
// expected to be dropped by the caller rather than terminating the session.
package wire

import (
	"encoding/json"
	"fmt"
)

// Command is an outbound control message for the audio service.
// Implementations: [Start], [Stop], [ListInputs].
type Command interface {
	command()
}

// Start instructs the service to begin capturing and transcribing a session.
type Start struct {
	// SessionID identifies the meeting session being recorded.
	SessionID string

	// OutputPath is the destination path for the recorded audio artifact.
	OutputPath string

	// InputDeviceID selects the capture device. Nil means the service default.
	InputDeviceID *int

	// TranscriptionMode is "local" or "deepgram".
	TranscriptionMode string

	// DiarizationEnabled requests per-speaker attribution of segments.
	DiarizationEnabled bool

	// HuggingFaceToken authorises download of the local diarization model.
	HuggingFaceToken string

	// LocalDiarizationModelPath points at a pre-downloaded diarization model.
	LocalDiarizationModelPath string

	// DeepgramAPIKey and DeepgramModel configure the hosted transcription
	// backend when TranscriptionMode is "deepgram".
	DeepgramAPIKey string
	DeepgramModel  string
}

// Stop asks the service to finish the active session and finalize the artifact.
type Stop struct{}

// ListInputs asks the service for a snapshot of available capture devices.
type ListInputs struct{}

func (Start) command()      {}
func (Stop) command()       {}
func (ListInputs) command() {}

// Message is an inbound frame from the audio service.
// Implementations: [Ready], [Segment], [Stopped], [Inputs], [Error].
type Message interface {
	message()
}

// Ready confirms the start handshake; recording has begun.
type Ready struct{}

// Segment is one attributed, timestamped span of transcribed speech.
type Segment struct {
	Speaker string
	Text    string
	StartMs int64
	EndMs   int64
}

// Stopped is the terminal reply to a stop command. AudioPath is empty when
// the service produced no artifact (JSON null on the wire).
type Stopped struct {
	AudioPath string
}

// Inputs is the terminal reply to a list_inputs command.
type Inputs struct {
	Devices []InputDevice
}

// InputDevice describes one capture device known to the audio service.
type InputDevice struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	IsDefault bool   `json:"is_default"`
}

// Error aborts whichever operation is in flight.
type Error struct {
	Message string
}

func (Ready) message()   {}
func (Segment) message() {}
func (Stopped) message() {}
func (Inputs) message()  {}
func (Error) message()   {}

// startFrame is the wire shape of a start command. Field names are fixed by
// the audio service and must not change.
type startFrame struct {
	Type                      string `json:"type"`
	SessionID                 string `json:"session_id"`
	OutputPath                string `json:"output_path"`
	InputDeviceID             *int   `json:"input_device_id,omitempty"`
	TranscriptionMode         string `json:"transcription_mode"`
	DiarizationEnabled        bool   `json:"diarization_enabled"`
	HuggingFaceToken          string `json:"huggingface_token"`
	LocalDiarizationModelPath string `json:"local_diarization_model_path,omitempty"`
	DeepgramAPIKey            string `json:"deepgram_api_key"`
	DeepgramModel             string `json:"deepgram_model"`
}

// typeFrame is the wire shape of commands that carry no payload.
type typeFrame struct {
	Type string `json:"type"`
}

// Encode serializes cmd into one wire frame.
func Encode(cmd Command) ([]byte, error) {
	switch c := cmd.(type) {
	case Start:
		return json.Marshal(startFrame{
			Type:                      "start",
			SessionID:                 c.SessionID,
			OutputPath:                c.OutputPath,
			InputDeviceID:             c.InputDeviceID,
			TranscriptionMode:         c.TranscriptionMode,
			DiarizationEnabled:        c.DiarizationEnabled,
			HuggingFaceToken:          c.HuggingFaceToken,
			LocalDiarizationModelPath: c.LocalDiarizationModelPath,
			DeepgramAPIKey:            c.DeepgramAPIKey,
			DeepgramModel:             c.DeepgramModel,
		})
	case Stop:
		return json.Marshal(typeFrame{Type: "stop"})
	case ListInputs:
		return json.Marshal(typeFrame{Type: "list_inputs"})
	default:
		return nil, fmt.Errorf("wire: unknown command type %T", cmd)
	}
}

// frame is the superset of all inbound message shapes.
type frame struct {
	Type      string        `json:"type"`
	Speaker   string        `json:"speaker"`
	Text      string        `json:"text"`
	StartMs   int64         `json:"start_ms"`
	EndMs     int64         `json:"end_ms"`
	AudioPath *string       `json:"audio_path"`
	Devices   []InputDevice `json:"devices"`
	Message   string        `json:"message"`
}

// Decode parses one inbound frame. Returns (msg, true) on success, or
// (nil, false) when data is not valid JSON or carries an unknown type.
// Decode never panics on peer input.
func Decode(data []byte) (Message, bool) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, false
	}

	switch f.Type {
	case "ready":
		return Ready{}, true
	case "segment":
		return Segment{
			Speaker: f.Speaker,
			Text:    f.Text,
			StartMs: f.StartMs,
			EndMs:   f.EndMs,
		}, true
	case "stopped":
		var path string
		if f.AudioPath != nil {
			path = *f.AudioPath
		}
		return Stopped{AudioPath: path}, true
	case "inputs":
		return Inputs{Devices: f.Devices}, true
	case "error":
		return Error{Message: f.Message}, true
	default:
		return nil, false
	}
}
