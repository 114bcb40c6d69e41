package protocol

import (
	"encoding/json"
	"testing"
)

func TestNewMessage(t *testing.T) {
	msg, err := NewMessage(TypeEstimate, EstimateData{X: 0.5, Y: 0.3})
	if err != nil {
		t.Fatalf("NewMessage() error = %v", err)
	}

	if msg.Type != TypeEstimate {
		t.Errorf("Type = %v, want %v", msg.Type, TypeEstimate)
	}

	if msg.Timestamp == 0 {
		t.Error("Timestamp should be set")
	}
}

func TestMessageRoundTrip(t *testing.T) {
	original := EstimateData{
		X:         0.8,
		Y:         -0.5,
		Z:         0.6,
		Frame:     17,
		LatencyMs: 3,
	}

	msg, err := NewMessage(TypeEstimate, original)
	if err != nil {
		t.Fatalf("NewMessage() error = %v", err)
	}

	bytes, err := msg.Bytes()
	if err != nil {
		t.Fatalf("Bytes() error = %v", err)
	}

	parsed, err := ParseMessage(bytes)
	if err != nil {
		t.Fatalf("ParseMessage() error = %v", err)
	}

	if parsed.Type != TypeEstimate {
		t.Errorf("Type = %v, want %v", parsed.Type, TypeEstimate)
	}

	var data EstimateData
	if err := parsed.ParseData(&data); err != nil {
		t.Fatalf("ParseData() error = %v", err)
	}

	if data.X != 0.8 || data.Frame != 17 {
		t.Errorf("round trip mismatch: %+v", data)
	}
}

func TestNewEstimateMessage(t *testing.T) {
	msg, err := NewEstimateMessage(0.1, 0.2, 0.3, true, 4, 2)
	if err != nil {
		t.Fatalf("NewEstimateMessage() error = %v", err)
	}

	if msg.Type != TypeEstimate {
		t.Errorf("Type = %v, want %v", msg.Type, TypeEstimate)
	}

	var data EstimateData
	if err := msg.ParseData(&data); err != nil {
		t.Fatalf("ParseData() error = %v", err)
	}

	if !data.Warmup {
		t.Error("Warmup flag lost")
	}

	if data.Frame != 4 {
		t.Errorf("Frame = %v, want 4", data.Frame)
	}
}

func TestGetControlCommand(t *testing.T) {
	msg, err := NewMessage(TypeControl, ControlCommand{Action: ActionStart})
	if err != nil {
		t.Fatalf("NewMessage() error = %v", err)
	}

	cmd, err := msg.GetControlCommand()
	if err != nil {
		t.Fatalf("GetControlCommand() error = %v", err)
	}

	if cmd.Action != ActionStart {
		t.Errorf("Action = %v, want %v", cmd.Action, ActionStart)
	}
}

func TestGetControlCommand_UnknownAction(t *testing.T) {
	msg, err := NewMessage(TypeControl, ControlCommand{Action: "reboot"})
	if err != nil {
		t.Fatalf("NewMessage() error = %v", err)
	}

	if _, err := msg.GetControlCommand(); err == nil {
		t.Error("expected error for unknown action")
	}
}

func TestParseInvalidMessage(t *testing.T) {
	_, err := ParseMessage([]byte("not json"))
	if err == nil {
		t.Error("ParseMessage should fail for invalid JSON")
	}
}

func TestMessageJSONFormat(t *testing.T) {
	msg, _ := NewMessage(TypePing, nil)
	bytes, _ := msg.Bytes()

	var parsed map[string]interface{}
	if err := json.Unmarshal(bytes, &parsed); err != nil {
		t.Fatalf("JSON unmarshal failed: %v", err)
	}

	if parsed["type"] != "ping" {
		t.Errorf("type = %v, want ping", parsed["type"])
	}
}
