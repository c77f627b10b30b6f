// Package protocol validates and classifies the JSON envelopes exchanged
// with WebSocket clients.
//
// Inbound frames are objects of the form
//
//	{"action": "<string>", "data": <any non-null JSON>, "auth": "<string>"|null}
//
// and outbound frames are {"action": "...", "data": ...}. Anything else is a
// protocol violation and costs the sender its connection.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Reserved actions.
const (
	ActionPing = "ping"
	ActionLog  = "log"
	ActionAuth = "auth"
)

// Kind classifies an envelope by its action.
type Kind int

const (
	KindContent Kind = iota
	KindPing
	KindLog
	KindAuth
)

func (k Kind) String() string {
	switch k {
	case KindPing:
		return "ping"
	case KindLog:
		return "log"
	case KindAuth:
		return "auth"
	default:
		return "content"
	}
}

// Disconnect reasons for malformed frames.
const (
	ReasonWeird       = "They`re sending me weird messages"
	ReasonGarbage     = ReasonWeird + " (garbage)"
	ReasonExtraFields = ReasonWeird + " (unexpected fields)"
	ReasonNoAction    = ReasonWeird + " (no action)"
	ReasonNoData      = ReasonWeird + " (no data)"
)

var (
	ErrNotObject     = errors.New("frame is not a JSON object")
	ErrUnknownField  = errors.New("frame carries an unknown field")
	ErrMissingAction = errors.New("frame has no action")
	ErrMissingData   = errors.New("frame has no data")
)

// ViolationError reports a frame that breaks the envelope contract. Reason
// is the text handed to the disconnect notification.
type ViolationError struct {
	Reason string
	Err    error
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("protocol violation: %s: %v", e.Reason, e.Err)
}

func (e *ViolationError) Unwrap() error { return e.Err }

func violation(reason string, err error) *ViolationError {
	return &ViolationError{Reason: reason, Err: err}
}

var allowedKeys = map[string]struct{}{
	"action": {},
	"data":   {},
	"auth":   {},
}

// Envelope is a validated inbound frame.
type Envelope struct {
	Action string
	Data   json.RawMessage // never empty, never null
	Auth   json.RawMessage // raw "auth" member, nil when absent
}

// Decode parses and validates one text frame. Every failure is a
// *ViolationError.
func Decode(raw []byte) (*Envelope, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, violation(ReasonGarbage, fmt.Errorf("%w: %v", ErrNotObject, err))
	}
	if fields == nil {
		return nil, violation(ReasonGarbage, ErrNotObject)
	}

	for key := range fields {
		if _, ok := allowedKeys[key]; !ok {
			return nil, violation(ReasonExtraFields, fmt.Errorf("%w: %q", ErrUnknownField, key))
		}
	}

	rawAction, ok := fields["action"]
	if !ok || isNull(rawAction) {
		return nil, violation(ReasonNoAction, ErrMissingAction)
	}
	var action string
	if err := json.Unmarshal(rawAction, &action); err != nil {
		return nil, violation(ReasonNoAction, fmt.Errorf("%w: action is not a string", ErrMissingAction))
	}

	data, ok := fields["data"]
	if !ok || isNull(data) {
		return nil, violation(ReasonNoData, ErrMissingData)
	}

	return &Envelope{
		Action: action,
		Data:   data,
		Auth:   fields["auth"],
	}, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// Kind classifies the envelope.
func (e *Envelope) Kind() Kind {
	switch e.Action {
	case ActionPing:
		return KindPing
	case ActionLog:
		return KindLog
	case ActionAuth:
		return KindAuth
	default:
		return KindContent
	}
}

// Credential returns the presented credential. Only a JSON string counts;
// null, absent or any other type means no credential was presented.
func (e *Envelope) Credential() (string, bool) {
	if len(e.Auth) == 0 || isNull(e.Auth) {
		return "", false
	}
	var cred string
	if err := json.Unmarshal(e.Auth, &cred); err != nil {
		return "", false
	}
	return cred, true
}

// Session extracts data.session.session from a ping. Anything that is not a
// non-empty string at that path means no session was announced.
func (e *Envelope) Session() (string, bool) {
	var d struct {
		Session *struct {
			Session *string `json:"session"`
		} `json:"session"`
	}
	if err := json.Unmarshal(e.Data, &d); err != nil {
		return "", false
	}
	if d.Session == nil || d.Session.Session == nil || *d.Session.Session == "" {
		return "", false
	}
	return *d.Session.Session, true
}

// LogText renders the data of a log envelope: JSON strings are unquoted,
// anything else is passed through as JSON text.
func (e *Envelope) LogText() string {
	var s string
	if err := json.Unmarshal(e.Data, &s); err == nil {
		return s
	}
	return string(e.Data)
}

type outbound struct {
	Action string `json:"action"`
	Data   any    `json:"data"`
}

// Encode builds an outbound frame. data may be a json.RawMessage to pass
// pre-encoded payloads through untouched.
func Encode(action string, data any) ([]byte, error) {
	return json.Marshal(outbound{Action: action, Data: data})
}

// LogFrame builds the {"action":"log","data":text} notice frame.
func LogFrame(text string) []byte {
	b, _ := json.Marshal(outbound{Action: ActionLog, Data: text})
	return b
}
