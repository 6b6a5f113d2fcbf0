package designer

import (
	"encoding/json"
	"errors"
)

type MessageType string

// document messages. Every client both produces and consumes these.
const (
	MessageTypeElementAdd    MessageType = "ELEMENT_ADD"
	MessageTypeElementUpdate MessageType = "ELEMENT_UPDATE"
	MessageTypeElementRemove MessageType = "ELEMENT_REMOVE"
	MessageTypeScreenAdd     MessageType = "SCREEN_ADD"
	MessageTypeScreenRename  MessageType = "SCREEN_RENAME"
	MessageTypeScreenDelete  MessageType = "SCREEN_DELETE"
	MessageTypeScreenClear   MessageType = "SCREEN_CLEAR"
	MessageTypeScreenUndo    MessageType = "SCREEN_UNDO"
	MessageTypeScreenRedo    MessageType = "SCREEN_REDO"
)

// presence messages. Ephemeral, never part of the document history.
const (
	MessageTypeCursorUpdate     MessageType = "cursor_update"
	MessageTypeUserConnected    MessageType = "user_connected"
	MessageTypeUserDisconnected MessageType = "user_disconnected"
	MessageTypeComponentMoved   MessageType = "component_moved"
)

var DocumentMessageTypes = []MessageType{
	MessageTypeElementAdd,
	MessageTypeElementUpdate,
	MessageTypeElementRemove,
	MessageTypeScreenAdd,
	MessageTypeScreenRename,
	MessageTypeScreenDelete,
	MessageTypeScreenClear,
	MessageTypeScreenUndo,
	MessageTypeScreenRedo,
}

// the wire envelope
// `senderId` is the instance id of the transport that produced the message.
// The relay fans out to everyone including the sender, so receivers use it to drop echoes.
type Message struct {
	Type     MessageType     `json:"type"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	SenderId string          `json:"senderId,omitempty"`
}

type MessageHandler func(message *Message)

func EncodeMessage(messageType MessageType, payload any, senderId Id) ([]byte, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(&Message{
		Type:     messageType,
		Payload:  payloadBytes,
		SenderId: senderId.String(),
	})
}

func DecodeMessage(data []byte) (*Message, error) {
	message := &Message{}
	if err := json.Unmarshal(data, message); err != nil {
		return nil, err
	}
	if message.Type == "" {
		return nil, errors.New("message has no type")
	}
	return message, nil
}

func (self *Message) DecodePayload(payload any) error {
	if len(self.Payload) == 0 {
		return errors.New("message has no payload")
	}
	return json.Unmarshal(self.Payload, payload)
}
