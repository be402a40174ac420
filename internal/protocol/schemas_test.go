package protocol_test

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"brickstream.ai/internal/protocol"
	"brickstream.ai/internal/stream/runtime"
)

func compile(t *testing.T, name string) *jsonschema.Schema {
	t.Helper()
	p := filepath.Join("..", "..", "schemas", name)
	s, err := jsonschema.Compile(p)
	if err != nil {
		t.Fatalf("compile %s: %v", name, err)
	}
	return s
}

// roundTrip turns a Go value into the generic form the validator expects.
func roundTrip(t *testing.T, v any) any {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return out
}

func TestSchemas_ValidateSamples(t *testing.T) {
	validate := func(s *jsonschema.Schema, v any) {
		t.Helper()
		if err := s.Validate(v); err != nil {
			t.Fatalf("validate: %v", err)
		}
	}

	helloSchema := compile(t, "hello.schema.json")
	welcomeSchema := compile(t, "welcome.schema.json")
	frameSchema := compile(t, "frame.schema.json")

	var hello any
	_ = json.Unmarshal([]byte(`{
	  "type":"HELLO",
	  "protocol_version":"1.0",
	  "client_name":"bot1",
	  "max_queue":16
	}`), &hello)
	validate(helloSchema, hello)

	validate(welcomeSchema, roundTrip(t, protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       "6f1c2f7e-8d4f-4b8a-9a53-1f2f0d6c1a10",
		Stream: protocol.StreamParams{
			GridDims:           [3]uint32{128, 32, 128},
			CacheCapacity:      32768,
			ShadingElements:    1 << 24,
			GridQueueCapacity:  8192,
			BrickQueueCapacity: 512,
			FeedbackCapacity:   4096,
			FrameRateHz:        60,
		},
	}))

	validate(frameSchema, roundTrip(t, runtime.FrameLogEntry{
		Frame:        12,
		Requests:     [][3]uint32{{1, 2, 3}},
		Loaded:       1,
		GridUploads:  1,
		BrickUploads: 1,
		LoadedBricks: 1,
		ShadingUsed:  64,
		StepMS:       0.25,
		Digest:       "0000000000000000000000000000000000000000000000000000000000000000",
	}))
}

func TestSchemas_RejectBadSamples(t *testing.T) {
	helloSchema := compile(t, "hello.schema.json")
	var hello any
	_ = json.Unmarshal([]byte(`{"type":"WELCOME","protocol_version":"1.0","client_name":"x"}`), &hello)
	if err := helloSchema.Validate(hello); err == nil {
		t.Fatalf("expected wrong type to be rejected")
	}

	welcomeSchema := compile(t, "welcome.schema.json")
	bad := roundTrip(t, protocol.WelcomeMsg{Type: protocol.TypeWelcome, ProtocolVersion: protocol.Version, SessionID: "s"})
	if err := welcomeSchema.Validate(bad); err == nil {
		t.Fatalf("expected zero stream params to be rejected")
	}
}
