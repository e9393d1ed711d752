// Package protocol defines the realtime chat protocol types.
// Every websocket message is one JSON Frame naming an event.
package protocol

import (
	"encoding/json"
	"errors"
)

// EventName identifies the event carried by a Frame.
type EventName string

const (
	// Client -> server
	EventJoinRoom    EventName = "joinRoom"
	EventLeaveRoom   EventName = "leaveRoom"
	EventSendMessage EventName = "sendMessage"

	// Server -> client
	EventAck             EventName = "ack"
	EventInitialMessages EventName = "initialMessages"
	EventMessage         EventName = "message"
	EventServerError     EventName = "serverError"
)

// Frame is the envelope for all websocket traffic. AckID is set on requests
// that expect an acknowledgment and echoed on the matching ack frame.
type Frame struct {
	Event   EventName       `json:"event"`
	AckID   string          `json:"ackId,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// RoomRequest is the payload of joinRoom and leaveRoom.
type RoomRequest struct {
	UserID string `json:"userId"`
}

// SendMessage is sent by the client to post a message to the room.
type SendMessage struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Text     string `json:"text"`
}

// SendMessageAck is the server's single response to a SendMessage.
type SendMessageAck struct {
	Success bool     `json:"success"`
	Message *Message `json:"message,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// Message is a chat message as broadcast by the server.
type Message struct {
	ID        string `json:"id"`
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

// ErrNoPayload is returned when a frame that requires a payload has none.
var ErrNoPayload = errors.New("frame has no payload")

// NewFrame creates a Frame with the given event and payload.
func NewFrame(event EventName, payload interface{}) (*Frame, error) {
	var payloadBytes json.RawMessage
	if payload != nil {
		var err error
		payloadBytes, err = json.Marshal(payload)
		if err != nil {
			return nil, err
		}
	}
	return &Frame{
		Event:   event,
		Payload: payloadBytes,
	}, nil
}

// ParsePayload unmarshals the frame payload into the given struct. An
// absent or null payload, or a nil frame, yields ErrNoPayload.
func (f *Frame) ParsePayload(v interface{}) error {
	if f == nil || len(f.Payload) == 0 || string(f.Payload) == "null" {
		return ErrNoPayload
	}
	return json.Unmarshal(f.Payload, v)
}

// DecodeHistory decodes an initialMessages payload. Anything that is not a
// JSON array of message objects yields an empty history and ok == false.
func DecodeHistory(payload json.RawMessage) (msgs []Message, ok bool) {
	if len(payload) == 0 || payload[0] != '[' {
		return nil, false
	}
	if err := json.Unmarshal(payload, &msgs); err != nil {
		return nil, false
	}
	return msgs, true
}

// DecodeServerError extracts the text of a serverError payload. Non-string
// payloads are returned as their raw JSON.
func DecodeServerError(payload json.RawMessage) string {
	var text string
	if err := json.Unmarshal(payload, &text); err == nil {
		return text
	}
	return string(payload)
}
