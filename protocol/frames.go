// Package protocol defines the tagged JSON frames exchanged over the chat
// WebSocket. Every frame carries a "type" discriminator; Decode picks the
// concrete frame for it and validates the payload schema.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	domain "github.com/example/marketplace-chat/domain/chat"
	"github.com/go-playground/validator/v10"
)

// Type discriminates frames.
type Type string

// Client to server frame types.
const (
	TypeJoin    Type = "join"
	TypeLeave   Type = "leave"
	TypePublish Type = "publish"
)

// Server to client frame types.
const (
	TypeConnected Type = "connected"
	TypeJoined    Type = "joined"
	TypeLeft      Type = "left"
	TypeMessage   Type = "message"
	TypeError     Type = "error"
)

var (
	// ErrMalformedFrame is returned when a frame is not valid JSON or has no type.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrUnknownType is returned for a type this side does not accept.
	ErrUnknownType = errors.New("unknown message type")
	// ErrInvalidFrame is returned when a frame fails schema validation.
	ErrInvalidFrame = errors.New("invalid frame")
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// maxbytes bounds a string's encoded length, matching what storage enforces.
	if err := v.RegisterValidation("maxbytes", func(fl validator.FieldLevel) bool {
		limit, err := strconv.Atoi(fl.Param())
		return err == nil && len(fl.Field().String()) <= limit
	}); err != nil {
		panic(err)
	}
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ValidateStruct checks the `validate` tags of a payload. The error names the
// first offending field by its JSON name.
func ValidateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return err
	}
	fe := fieldErrs[0]
	switch fe.Tag() {
	case "required", "required_with", "required_without_all":
		return fmt.Errorf("%s is required", fe.Field())
	case "max":
		return fmt.Errorf("%s exceeds %s characters", fe.Field(), fe.Param())
	case "maxbytes":
		return fmt.Errorf("%s exceeds %s bytes", fe.Field(), fe.Param())
	}
	return fmt.Errorf("%s is invalid", fe.Field())
}

// Frame is implemented by every concrete frame.
type Frame interface {
	FrameType() Type
}

type envelope struct {
	Type Type `json:"type"`
}

// JoinFrame asks to join a conversation's room.
type JoinFrame struct {
	Type           Type   `json:"type"`
	ConversationID string `json:"conversation_id" validate:"required,max=128"`
}

// LeaveFrame asks to leave a conversation's room.
type LeaveFrame struct {
	Type           Type   `json:"type"`
	ConversationID string `json:"conversation_id" validate:"required,max=128"`
}

// PublishFrame sends a message to a conversation. The sender is the
// authenticated identity of the connection. Empty content is rejected by the
// room channel, not here.
type PublishFrame struct {
	Type           Type   `json:"type"`
	ConversationID string `json:"conversation_id" validate:"required,max=128"`
	Content        string `json:"content" validate:"maxbytes=4096"`
}

// ConnectedFrame greets a new connection.
type ConnectedFrame struct {
	Type         Type   `json:"type"`
	ConnectionID string `json:"connection_id" validate:"required"`
	UserID       string `json:"user_id" validate:"required"`
}

// JoinedFrame confirms a join.
type JoinedFrame struct {
	Type           Type   `json:"type"`
	ConversationID string `json:"conversation_id" validate:"required"`
}

// LeftFrame confirms a leave.
type LeftFrame struct {
	Type           Type   `json:"type"`
	ConversationID string `json:"conversation_id" validate:"required"`
}

// MessageFrame delivers a persisted message to a room member.
type MessageFrame struct {
	Type           Type      `json:"type"`
	ID             string    `json:"id" validate:"required"`
	ConversationID string    `json:"conversation_id" validate:"required"`
	SenderID       string    `json:"sender_id" validate:"required"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// ErrorFrame is a transient, connection-scoped error notification.
type ErrorFrame struct {
	Type           Type   `json:"type"`
	Message        string `json:"message" validate:"required"`
	ConversationID string `json:"conversation_id,omitempty"`
}

func (JoinFrame) FrameType() Type      { return TypeJoin }
func (LeaveFrame) FrameType() Type     { return TypeLeave }
func (PublishFrame) FrameType() Type   { return TypePublish }
func (ConnectedFrame) FrameType() Type { return TypeConnected }
func (JoinedFrame) FrameType() Type    { return TypeJoined }
func (LeftFrame) FrameType() Type      { return TypeLeft }
func (MessageFrame) FrameType() Type   { return TypeMessage }
func (ErrorFrame) FrameType() Type     { return TypeError }

// Constructors set the discriminator.

func NewJoin(conversationID string) JoinFrame {
	return JoinFrame{Type: TypeJoin, ConversationID: conversationID}
}

func NewLeave(conversationID string) LeaveFrame {
	return LeaveFrame{Type: TypeLeave, ConversationID: conversationID}
}

func NewPublish(conversationID, content string) PublishFrame {
	return PublishFrame{Type: TypePublish, ConversationID: conversationID, Content: content}
}

func NewConnected(connectionID, userID string) ConnectedFrame {
	return ConnectedFrame{Type: TypeConnected, ConnectionID: connectionID, UserID: userID}
}

func NewJoined(conversationID string) JoinedFrame {
	return JoinedFrame{Type: TypeJoined, ConversationID: conversationID}
}

func NewLeft(conversationID string) LeftFrame {
	return LeftFrame{Type: TypeLeft, ConversationID: conversationID}
}

func NewError(message, conversationID string) ErrorFrame {
	return ErrorFrame{Type: TypeError, Message: message, ConversationID: conversationID}
}

// NewMessage builds the delivery frame of a persisted message.
func NewMessage(msg domain.Message) MessageFrame {
	return MessageFrame{
		Type:           TypeMessage,
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		Content:        msg.Content,
		CreatedAt:      msg.CreatedAt,
	}
}

// ToMessage converts a delivery frame back to a domain message.
func (f MessageFrame) ToMessage() domain.Message {
	return domain.Message{
		ID:             f.ID,
		ConversationID: f.ConversationID,
		SenderID:       f.SenderID,
		Content:        f.Content,
		CreatedAt:      f.CreatedAt,
	}
}

// DecodeClient parses a frame sent by a client.
func DecodeClient(data []byte) (Frame, error) {
	return decode(data, map[Type]func() Frame{
		TypeJoin:    func() Frame { return &JoinFrame{} },
		TypeLeave:   func() Frame { return &LeaveFrame{} },
		TypePublish: func() Frame { return &PublishFrame{} },
	})
}

// DecodeServer parses a frame sent by the server.
func DecodeServer(data []byte) (Frame, error) {
	return decode(data, map[Type]func() Frame{
		TypeConnected: func() Frame { return &ConnectedFrame{} },
		TypeJoined:    func() Frame { return &JoinedFrame{} },
		TypeLeft:      func() Frame { return &LeftFrame{} },
		TypeMessage:   func() Frame { return &MessageFrame{} },
		TypeError:     func() Frame { return &ErrorFrame{} },
	})
}

func decode(data []byte, accepted map[Type]func() Frame) (Frame, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	}

	newFrame, ok := accepted[env.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, env.Type)
	}

	frame := newFrame()
	if err := json.Unmarshal(data, frame); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if err := ValidateStruct(frame); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	return deref(frame), nil
}

// deref returns frames by value so callers can type-switch on value types.
func deref(f Frame) Frame {
	switch v := f.(type) {
	case *JoinFrame:
		return *v
	case *LeaveFrame:
		return *v
	case *PublishFrame:
		return *v
	case *ConnectedFrame:
		return *v
	case *JoinedFrame:
		return *v
	case *LeftFrame:
		return *v
	case *MessageFrame:
		return *v
	case *ErrorFrame:
		return *v
	}
	return f
}
