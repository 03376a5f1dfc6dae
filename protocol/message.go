// Package protocol defines the JSON envelope exchanged with clients:
// {"type": "...", "message": {...}}.
package protocol

import (
	"bytes"
	"encoding/json"

	"github.com/rotisserie/eris"
)

// Outbound types.
const (
	TypeFoundMatch    = "found_match"
	TypeMatchFinished = "match_finished"
	TypeError         = "error"
	TypeOK            = "OK"
	TypeIntroduced    = "introduced"
)

// Inbound control types. TypeMatchFinished is both inbound and outbound.
const (
	TypeFindMatch = "find_match"
	// TypeMatchmaking wraps a control type in its payload:
	// {"type":"matchmaking","message":{"type":"find_match"}}.
	TypeMatchmaking = "matchmaking"
)

var ErrMalformed = eris.New("malformed message")

// Message is an envelope. Build one with New and do not mutate it afterwards.
type Message struct {
	Type    string          `json:"type"`
	Message json.RawMessage `json:"message"`
}

// New encodes payload into a fresh envelope. A nil payload encodes as {}.
func New(typ string, payload any) (Message, error) {
	if payload == nil {
		return Message{Type: typ, Message: json.RawMessage(`{}`)}, nil
	}
	bz, err := json.Marshal(payload)
	if err != nil {
		return Message{}, eris.Wrapf(err, "failed to encode %s payload", typ)
	}
	return Message{Type: typ, Message: bz}, nil
}

// Must is New for payloads that always encode.
func Must(typ string, payload any) Message {
	m, err := New(typ, payload)
	if err != nil {
		panic(err)
	}
	return m
}

func (m Message) MarshalBinary() (data []byte, err error) {
	if m.Message == nil {
		m.Message = json.RawMessage(`{}`)
	}
	return json.Marshal(m)
}

// Payload decodes the message body into v.
func (m Message) Payload(v any) error {
	if len(m.Message) == 0 || string(m.Message) == "null" {
		return nil
	}
	if err := json.Unmarshal(m.Message, v); err != nil {
		return eris.Wrap(ErrMalformed, err.Error())
	}
	return nil
}

// Decode parses one inbound frame. The envelope must be a JSON object with a
// string type.
func Decode(raw []byte) (Message, error) {
	var m Message
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&m); err != nil {
		return Message{}, eris.Wrap(ErrMalformed, err.Error())
	}
	if dec.More() {
		return Message{}, eris.Wrap(ErrMalformed, "trailing data after message")
	}
	return m, nil
}

// Control is the payload of inbound control messages.
type Control struct {
	Type   string `json:"type,omitempty"`
	Winner string `json:"winner,omitempty"`
}

// ErrorPayload is the body of an error envelope.
type ErrorPayload struct {
	Error   string `json:"error"`
	RawData string `json:"raw_data,omitempty"`
}

// Error builds an error envelope.
func Error(err error) Message {
	return Must(TypeError, ErrorPayload{Error: err.Error()})
}

// Malformed builds the reply to an undecodable frame, echoing the raw payload.
func Malformed(raw []byte, err error) Message {
	return Must(TypeError, ErrorPayload{Error: err.Error(), RawData: string(raw)})
}

// OK acknowledges a processed control message.
func OK() Message {
	return Must(TypeOK, map[string]string{"success": "True"})
}
