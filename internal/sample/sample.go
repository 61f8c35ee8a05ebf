// Package sample defines the timestamped angle vector produced by one
// successful sampling cycle and its JSON wire form.
package sample

import (
	"encoding/json"
	"time"
)

// DefaultFrameID is the coordinate frame stamped on outgoing messages.
const DefaultFrameID = "base_link"

// Sample is one complete set of channel readings. It is passed by value and
// never mutated after the sampling loop creates it.
type Sample struct {
	Primary   float64
	Secondary float64
	Reference float64
	Timestamp time.Time
	FastMode  bool
}

// Header mirrors a stamped message header.
type Header struct {
	Stamp   time.Time `json:"stamp"`
	FrameID string    `json:"frame_id"`
}

// Vector carries the three channel values.
type Vector struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Message is the wire representation of a Sample.
type Message struct {
	Header   Header `json:"header"`
	Vector   Vector `json:"vector"`
	FastMode bool   `json:"fast_mode"`
}

// Message converts s into its wire form in the given frame.
func (s Sample) Message(frameID string) Message {
	if frameID == "" {
		frameID = DefaultFrameID
	}

	return Message{
		Header:   Header{Stamp: s.Timestamp, FrameID: frameID},
		Vector:   Vector{X: s.Primary, Y: s.Secondary, Z: s.Reference},
		FastMode: s.FastMode,
	}
}

// Sample converts a wire message back into a Sample.
func (m Message) Sample() Sample {
	return Sample{
		Primary:   m.Vector.X,
		Secondary: m.Vector.Y,
		Reference: m.Vector.Z,
		Timestamp: m.Header.Stamp,
		FastMode:  m.FastMode,
	}
}

// Encode returns the JSON wire encoding of s.
func Encode(s Sample, frameID string) ([]byte, error) {
	return json.Marshal(s.Message(frameID))
}

// Decode parses a JSON wire message.
func Decode(data []byte) (Message, error) {
	var m Message
	err := json.Unmarshal(data, &m)
	return m, err
}
