// Package proto defines the JSON wire messages exchanged with gateway
// subscribers. Serialization lives at the transport boundary; the core
// never sees these types.
package proto

import (
	"encoding/json"
	"fmt"

	"emberfall/server/internal/event"
)

const (
	// Version tracks the wire-protocol revision expected by clients.
	Version = 1

	// Type identifiers for outbound payloads.
	typeHello     = "hello"
	typeFrame     = "frame"
	typeAck       = "ack"
	typeReject    = "reject"
	typeHeartbeat = "heartbeat"
)

// Client message type identifiers.
const (
	TypePublish   = "publish"
	TypeHeartbeat = "heartbeat"
)

// ClientMessage captures an inbound websocket message from a subscriber.
type ClientMessage struct {
	Ver     int    `json:"ver,omitempty"`
	Type    string `json:"type"`
	Name    string `json:"name,omitempty"`
	Target  uint64 `json:"target,omitempty"`
	Payload []byte `json:"payload,omitempty"`
	SentAt  int64  `json:"sentAt,omitempty"`
	Seq     uint64 `json:"seq,omitempty"`
}

// DecodeClientMessage converts raw websocket payloads into a structured
// message. A missing version means the current one.
func DecodeClientMessage(payload []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return msg, err
	}
	if msg.Ver == 0 {
		msg.Ver = Version
	}
	if msg.Ver != Version {
		return msg, fmt.Errorf("unsupported client protocol version %d", msg.Ver)
	}
	return msg, nil
}

// TypeInfo describes one forwarded event type in the hello message.
type TypeInfo struct {
	Name    string `json:"name"`
	TypeID  uint16 `json:"typeId"`
	Tier    string `json:"tier"`
	Payload string `json:"payload,omitempty"`
}

// Hello is sent once when a session opens, announcing the protocol
// version, the session id, and the forwarded types.
type Hello struct {
	Ver     int        `json:"ver"`
	Type    string     `json:"type"`
	Session uint64     `json:"session"`
	Types   []TypeInfo `json:"types"`
}

// EncodeHello renders the session greeting.
func EncodeHello(session uint64, types []TypeInfo) ([]byte, error) {
	return json.Marshal(Hello{
		Ver:     Version,
		Type:    typeHello,
		Session: session,
		Types:   types,
	})
}

// WireEvent is one event record flattened for subscribers. Payload is
// base64-encoded by encoding/json.
type WireEvent struct {
	Seq     uint32 `json:"seq"`
	Source  uint64 `json:"source,omitempty"`
	Target  uint64 `json:"target,omitempty"`
	Payload []byte `json:"payload,omitempty"`
}

// FrameMessage carries one homogeneous batch from one dispatched frame.
type FrameMessage struct {
	Ver    int         `json:"ver"`
	Type   string      `json:"type"`
	Name   string      `json:"name"`
	TypeID uint16      `json:"typeId"`
	Tier   string      `json:"tier"`
	Frame  uint64      `json:"frame"`
	Events []WireEvent `json:"events"`
}

// NewFrameMessage flattens a dispatched batch under its catalog wire name.
func NewFrameMessage(name string, records []event.Record) FrameMessage {
	msg := FrameMessage{
		Ver:  Version,
		Type: typeFrame,
		Name: name,
	}
	if len(records) == 0 {
		return msg
	}
	first := &records[0]
	msg.TypeID = first.TypeID
	msg.Tier = first.Priority.String()
	msg.Frame = first.Frame
	msg.Events = make([]WireEvent, len(records))
	for i := range records {
		rec := &records[i]
		wire := WireEvent{
			Seq:    rec.Seq,
			Source: uint64(rec.Source),
			Target: uint64(rec.Target),
		}
		if payload := rec.PayloadBytes(); len(payload) > 0 {
			wire.Payload = append([]byte(nil), payload...)
		}
		msg.Events[i] = wire
	}
	return msg
}

// EncodeFrame renders a frame batch payload.
func EncodeFrame(msg FrameMessage) ([]byte, error) {
	return json.Marshal(msg)
}

// Ack acknowledges an accepted client publish.
type Ack struct {
	Seq   uint64
	Frame uint64
}

// EncodeAck renders a publish acknowledgement.
func EncodeAck(msg Ack) ([]byte, error) {
	frame := struct {
		Ver   int    `json:"ver"`
		Type  string `json:"type"`
		Seq   uint64 `json:"seq"`
		Frame uint64 `json:"frame,omitempty"`
	}{
		Ver:  Version,
		Type: typeAck,
		Seq:  msg.Seq,
	}
	if msg.Frame > 0 {
		frame.Frame = msg.Frame
	}
	return json.Marshal(frame)
}

// Reject notifies the client that a publish was refused.
type Reject struct {
	Seq    uint64
	Reason string
	Retry  bool
}

// EncodeReject renders a publish rejection.
func EncodeReject(msg Reject) ([]byte, error) {
	frame := struct {
		Ver    int    `json:"ver"`
		Type   string `json:"type"`
		Seq    uint64 `json:"seq"`
		Reason string `json:"reason"`
		Retry  bool   `json:"retry,omitempty"`
	}{
		Ver:    Version,
		Type:   typeReject,
		Seq:    msg.Seq,
		Reason: msg.Reason,
	}
	if msg.Retry {
		frame.Retry = true
	}
	return json.Marshal(frame)
}

// Heartbeat echoes timing metadata back to the client.
type Heartbeat struct {
	ServerTime int64
	ClientTime int64
}

// EncodeHeartbeat renders a heartbeat acknowledgement payload.
func EncodeHeartbeat(msg Heartbeat) ([]byte, error) {
	frame := struct {
		Ver        int    `json:"ver"`
		Type       string `json:"type"`
		ServerTime int64  `json:"serverTime"`
		ClientTime int64  `json:"clientTime"`
	}{
		Ver:        Version,
		Type:       typeHeartbeat,
		ServerTime: msg.ServerTime,
		ClientTime: msg.ClientTime,
	}
	return json.Marshal(frame)
}
