// Package protocol encodes and decodes the JSON control frames exchanged with
// the session server. Decoding is forward compatible: anything the device does
// not understand becomes an Unknown message instead of an error for the caller
// to act on.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/satriahrh/arunika/device/domain/entities"
)

// MessageType defines the type of a control frame
type MessageType string

// Supported message types
const (
	MessageTypeHello  MessageType = "hello"
	MessageTypeListen MessageType = "listen"
	MessageTypeChat   MessageType = "chat"
	MessageTypeAudio  MessageType = "audio"
	MessageTypeAbort  MessageType = "abort"
)

// ListenState is the state carried by a listen message
type ListenState string

const (
	ListenStart ListenState = "start"
	ListenStop  ListenState = "stop"
)

// Message is a decoded or outbound control message
type Message interface {
	Type() MessageType
}

// Hello is the device handshake
type Hello struct {
	Identity entities.DeviceIdentity
}

// HelloAck is the server handshake response carrying the session id
type HelloAck struct {
	SessionID string
}

// Listen asks the receiver to start or stop streaming microphone audio
type Listen struct {
	State ListenState
}

// Chat carries text to surface on the device
type Chat struct {
	Text string
}

// AudioNotice announces server audio; it carries no payload
type AudioNotice struct{}

// Abort stops the current interaction
type Abort struct{}

// Unknown is any frame that could not be understood
type Unknown struct {
	RawType string
	Reason  string
}

func (Hello) Type() MessageType       { return MessageTypeHello }
func (HelloAck) Type() MessageType    { return MessageTypeHello }
func (Listen) Type() MessageType      { return MessageTypeListen }
func (Chat) Type() MessageType        { return MessageTypeChat }
func (AudioNotice) Type() MessageType { return MessageTypeAudio }
func (Abort) Type() MessageType       { return MessageTypeAbort }
func (u Unknown) Type() MessageType   { return MessageType(u.RawType) }

// Features declares the protocol capabilities of the device
type Features struct {
	MCP bool `json:"mcp"`
}

// HelloMessage is the wire form of the device handshake
type HelloMessage struct {
	Type        MessageType          `json:"type"`
	DeviceMAC   string               `json:"device_mac"`
	DeviceName  string               `json:"device_name"`
	Token       string               `json:"token"`
	Features    Features             `json:"features"`
	AudioParams entities.AudioParams `json:"audio_params"`
}

// ServerHelloMessage is the wire form of the handshake acknowledgement
type ServerHelloMessage struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
}

// ListenMessage is the wire form of a listen state change
type ListenMessage struct {
	Type  MessageType `json:"type"`
	State ListenState `json:"state"`
}

// ChatMessage is the wire form of a chat text
type ChatMessage struct {
	Type MessageType `json:"type"`
	Text string      `json:"text"`
}

// SimpleMessage is a frame without additional fields
type SimpleMessage struct {
	Type MessageType `json:"type"`
}

// EncodeHello builds the handshake frame for identity
func EncodeHello(identity entities.DeviceIdentity) ([]byte, error) {
	return json.Marshal(HelloMessage{
		Type:        MessageTypeHello,
		DeviceMAC:   identity.DeviceID,
		DeviceName:  identity.Name,
		Token:       identity.Token,
		Features:    Features{MCP: true},
		AudioParams: identity.Audio,
	})
}

// Encode builds the wire frame for msg
func Encode(msg Message) ([]byte, error) {
	switch m := msg.(type) {
	case Hello:
		return EncodeHello(m.Identity)
	case HelloAck:
		return json.Marshal(ServerHelloMessage{Type: MessageTypeHello, SessionID: m.SessionID})
	case Listen:
		if m.State != ListenStart && m.State != ListenStop {
			return nil, fmt.Errorf("invalid listen state: %q", m.State)
		}
		return json.Marshal(ListenMessage{Type: MessageTypeListen, State: m.State})
	case Chat:
		return json.Marshal(ChatMessage{Type: MessageTypeChat, Text: m.Text})
	case AudioNotice:
		return json.Marshal(SimpleMessage{Type: MessageTypeAudio})
	case Abort:
		return json.Marshal(SimpleMessage{Type: MessageTypeAbort})
	default:
		return nil, fmt.Errorf("cannot encode message type: %q", msg.Type())
	}
}

// envelope captures the fields of any inbound frame
type envelope struct {
	Type      *string `json:"type"`
	SessionID *string `json:"session_id"`
	State     *string `json:"state"`
	Text      *string `json:"text"`
}

// Decode parses an inbound text frame. It always returns a usable Message;
// when the frame is not understood the message is Unknown and the error
// explains why, for logging only.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		reason := fmt.Sprintf("invalid JSON format: %v", err)
		return Unknown{Reason: reason}, errors.New(reason)
	}

	if env.Type == nil || *env.Type == "" {
		return unknown("", "message missing type field")
	}
	rawType := *env.Type

	switch MessageType(rawType) {
	case MessageTypeHello:
		if env.SessionID == nil || *env.SessionID == "" {
			return unknown(rawType, "hello missing session_id")
		}
		return HelloAck{SessionID: *env.SessionID}, nil

	case MessageTypeListen:
		if env.State == nil {
			return unknown(rawType, "listen missing state")
		}
		switch ListenState(*env.State) {
		case ListenStart, ListenStop:
			return Listen{State: ListenState(*env.State)}, nil
		default:
			return unknown(rawType, fmt.Sprintf("unsupported listen state: %s", *env.State))
		}

	case MessageTypeChat:
		if env.Text == nil {
			return unknown(rawType, "chat missing text")
		}
		return Chat{Text: *env.Text}, nil

	case MessageTypeAudio:
		return AudioNotice{}, nil

	case MessageTypeAbort:
		return Abort{}, nil

	default:
		return unknown(rawType, fmt.Sprintf("unsupported message type: %s", rawType))
	}
}

func unknown(rawType, reason string) (Message, error) {
	return Unknown{RawType: rawType, Reason: reason}, errors.New(reason)
}
