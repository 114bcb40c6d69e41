// Package protocol defines the WebSocket message types for the
// estimate stream between the localizer daemon and its clients.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType identifies the type of WebSocket message
type MessageType string

const (
	// Daemon → Client messages
	TypeEstimate MessageType = "estimate" // Position estimate
	TypeStats    MessageType = "stats"    // Session statistics
	TypeError    MessageType = "error"    // Session failure notice

	// Client → Daemon messages
	TypeControl MessageType = "control" // Start/stop/draw commands

	// Bidirectional
	TypePing MessageType = "ping"
	TypePong MessageType = "pong"
)

// Message is the base wrapper for all WebSocket messages
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"ts,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(msgType MessageType, data interface{}) (*Message, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message data: %w", err)
		}
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Data:      rawData,
	}, nil
}

// ParseData unmarshals the message data into the provided struct
func (m *Message) ParseData(v interface{}) error {
	if m.Data == nil {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Bytes returns the JSON-encoded message
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage parses a JSON message from bytes
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	return &msg, nil
}

// EstimateData carries one position estimate
type EstimateData struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Z         float64 `json:"z"`
	Warmup    bool    `json:"warmup"`
	Frame     int64   `json:"frame"`
	LatencyMs int64   `json:"latency_ms"`
}

// NewEstimateMessage creates an estimate message
func NewEstimateMessage(x, y, z float64, warmup bool, frame, latencyMs int64) (*Message, error) {
	return NewMessage(TypeEstimate, EstimateData{
		X:         x,
		Y:         y,
		Z:         z,
		Warmup:    warmup,
		Frame:     frame,
		LatencyMs: latencyMs,
	})
}

// ErrorData describes a session failure pushed to stream clients
type ErrorData struct {
	Error string `json:"error"`
}

// NewErrorMessage creates an error message
func NewErrorMessage(err error) (*Message, error) {
	return NewMessage(TypeError, ErrorData{Error: err.Error()})
}

// ControlCommand requests a session state change
type ControlCommand struct {
	Action string `json:"action"`         // "start", "stop", "draw"
	Draw   *bool  `json:"draw,omitempty"` // for action "draw"
}

// Control actions understood by the daemon.
const (
	ActionStart = "start"
	ActionStop  = "stop"
	ActionDraw  = "draw"
)

// GetControlCommand extracts a control command from a message
func (m *Message) GetControlCommand() (*ControlCommand, error) {
	var data ControlCommand
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	if data.Action != ActionStart && data.Action != ActionStop && data.Action != ActionDraw {
		return nil, fmt.Errorf("unknown control action %q", data.Action)
	}
	return &data, nil
}
