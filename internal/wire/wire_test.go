package wire_test

import (
	"encoding/json"
	"testing"

	"github.com/meetmate/meetmate/internal/wire"
)

// ── Encode ────────────────────────────────────────────────────────────────────

func TestEncode_Start(t *testing.T) {
	device := 3
	data, err := wire.Encode(wire.Start{
		SessionID:                 "sess-1",
		OutputPath:                "/tmp/sess-1.wav",
		InputDeviceID:             &device,
		TranscriptionMode:         "local",
		DiarizationEnabled:        true,
		HuggingFaceToken:          "hf-token",
		LocalDiarizationModelPath: "/opt/models/diar",
		DeepgramAPIKey:            "dg-key",
		DeepgramModel:             "nova-2",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The service matches on exact field names; decode into a generic map so
	// a renamed tag fails loudly.
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("encoded frame is not valid JSON: %v", err)
	}

	want := map[string]any{
		"type":                         "start",
		"session_id":                   "sess-1",
		"output_path":                  "/tmp/sess-1.wav",
		"input_device_id":              float64(3),
		"transcription_mode":           "local",
		"diarization_enabled":          true,
		"huggingface_token":            "hf-token",
		"local_diarization_model_path": "/opt/models/diar",
		"deepgram_api_key":             "dg-key",
		"deepgram_model":               "nova-2",
	}
	for key, w := range want {
		if got[key] != w {
			t.Errorf("field %q: got %v, want %v", key, got[key], w)
		}
	}
	if len(got) != len(want) {
		t.Errorf("frame has %d fields, want %d: %v", len(got), len(want), got)
	}
}

func TestEncode_StartOmitsNilDevice(t *testing.T) {
	data, err := wire.Encode(wire.Start{SessionID: "sess-1", TranscriptionMode: "local"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("encoded frame is not valid JSON: %v", err)
	}
	if _, present := got["input_device_id"]; present {
		t.Errorf("input_device_id should be omitted when nil, got %v", got["input_device_id"])
	}
}

func TestEncode_StopAndListInputs(t *testing.T) {
	tests := []struct {
		name string
		cmd  wire.Command
		want string
	}{
		{"stop", wire.Stop{}, `{"type":"stop"}`},
		{"list_inputs", wire.ListInputs{}, `{"type":"list_inputs"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := wire.Encode(tt.cmd)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(data) != tt.want {
				t.Errorf("got %s, want %s", data, tt.want)
			}
		})
	}
}

// ── Decode ────────────────────────────────────────────────────────────────────

func TestDecode_Ready(t *testing.T) {
	msg, ok := wire.Decode([]byte(`{"type":"ready"}`))
	if !ok {
		t.Fatal("decode failed")
	}
	if _, isReady := msg.(wire.Ready); !isReady {
		t.Errorf("got %T, want wire.Ready", msg)
	}
}

func TestDecode_Segment(t *testing.T) {
	msg, ok := wire.Decode([]byte(`{"type":"segment","speaker":"SPEAKER_00","text":"hello there","start_ms":1200,"end_ms":2400}`))
	if !ok {
		t.Fatal("decode failed")
	}
	seg, isSeg := msg.(wire.Segment)
	if !isSeg {
		t.Fatalf("got %T, want wire.Segment", msg)
	}
	want := wire.Segment{Speaker: "SPEAKER_00", Text: "hello there", StartMs: 1200, EndMs: 2400}
	if seg != want {
		t.Errorf("got %+v, want %+v", seg, want)
	}
}

func TestDecode_Stopped(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantPath string
	}{
		{"with path", `{"type":"stopped","audio_path":"/tmp/out.wav"}`, "/tmp/out.wav"},
		{"null path", `{"type":"stopped","audio_path":null}`, ""},
		{"absent path", `{"type":"stopped"}`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, ok := wire.Decode([]byte(tt.raw))
			if !ok {
				t.Fatal("decode failed")
			}
			stopped, isStopped := msg.(wire.Stopped)
			if !isStopped {
				t.Fatalf("got %T, want wire.Stopped", msg)
			}
			if stopped.AudioPath != tt.wantPath {
				t.Errorf("audio_path: got %q, want %q", stopped.AudioPath, tt.wantPath)
			}
		})
	}
}

func TestDecode_Inputs(t *testing.T) {
	msg, ok := wire.Decode([]byte(`{"type":"inputs","devices":[{"id":0,"name":"Built-in Mic","is_default":true},{"id":2,"name":"USB Mic","is_default":false}]}`))
	if !ok {
		t.Fatal("decode failed")
	}
	inputs, isInputs := msg.(wire.Inputs)
	if !isInputs {
		t.Fatalf("got %T, want wire.Inputs", msg)
	}
	if len(inputs.Devices) != 2 {
		t.Fatalf("devices: got %d, want 2", len(inputs.Devices))
	}
	want := wire.InputDevice{ID: 0, Name: "Built-in Mic", IsDefault: true}
	if inputs.Devices[0] != want {
		t.Errorf("devices[0]: got %+v, want %+v", inputs.Devices[0], want)
	}
}

func TestDecode_Error(t *testing.T) {
	msg, ok := wire.Decode([]byte(`{"type":"error","message":"device busy"}`))
	if !ok {
		t.Fatal("decode failed")
	}
	e, isErr := msg.(wire.Error)
	if !isErr {
		t.Fatalf("got %T, want wire.Error", msg)
	}
	if e.Message != "device busy" {
		t.Errorf("message: got %q, want %q", e.Message, "device busy")
	}
}

func TestDecode_Malformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `this is not json`},
		{"empty", ``},
		{"json array", `[1,2,3]`},
		{"unknown type", `{"type":"telemetry","data":1}`},
		{"missing type", `{"speaker":"SPEAKER_00"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if msg, ok := wire.Decode([]byte(tt.raw)); ok {
				t.Errorf("expected decode to fail, got %T", msg)
			}
		})
	}
}
