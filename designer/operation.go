package designer

import (
	"errors"
	"fmt"
)

// a document mutation. Each operation is also its own wire payload.
type Operation interface {
	MessageType() MessageType
}

type ElementAdd struct {
	ScreenId string         `json:"screenId"`
	Element  *DesignElement `json:"element"`
}

func (self *ElementAdd) MessageType() MessageType {
	return MessageTypeElementAdd
}

type ElementUpdate struct {
	ScreenId string         `json:"screenId"`
	Id       string         `json:"id"`
	Updates  ElementUpdates `json:"updates"`
}

func (self *ElementUpdate) MessageType() MessageType {
	return MessageTypeElementUpdate
}

type ElementRemove struct {
	ScreenId string `json:"screenId"`
	Id       string `json:"id"`
}

func (self *ElementRemove) MessageType() MessageType {
	return MessageTypeElementRemove
}

type ScreenAdd struct {
	Screen *Screen `json:"screen"`
}

func (self *ScreenAdd) MessageType() MessageType {
	return MessageTypeScreenAdd
}

type ScreenRename struct {
	Id   string `json:"id"`
	Name string `json:"name"`
}

func (self *ScreenRename) MessageType() MessageType {
	return MessageTypeScreenRename
}

type ScreenDelete struct {
	Id string `json:"id"`
}

func (self *ScreenDelete) MessageType() MessageType {
	return MessageTypeScreenDelete
}

type ScreenClear struct {
	ScreenId string `json:"screenId"`
}

func (self *ScreenClear) MessageType() MessageType {
	return MessageTypeScreenClear
}

// undo and redo carry the resulting elements, not an inverse operation.
// Peers replace their array with it regardless of their own history position.
type ScreenSnapshot struct {
	ScreenId string           `json:"screenId"`
	Elements []*DesignElement `json:"elements"`
}

type ScreenUndo struct {
	ScreenSnapshot
}

func (self *ScreenUndo) MessageType() MessageType {
	return MessageTypeScreenUndo
}

type ScreenRedo struct {
	ScreenSnapshot
}

func (self *ScreenRedo) MessageType() MessageType {
	return MessageTypeScreenRedo
}

func DecodeOperation(message *Message) (Operation, error) {
	var op Operation
	switch message.Type {
	case MessageTypeElementAdd:
		op = &ElementAdd{}
	case MessageTypeElementUpdate:
		op = &ElementUpdate{}
	case MessageTypeElementRemove:
		op = &ElementRemove{}
	case MessageTypeScreenAdd:
		op = &ScreenAdd{}
	case MessageTypeScreenRename:
		op = &ScreenRename{}
	case MessageTypeScreenDelete:
		op = &ScreenDelete{}
	case MessageTypeScreenClear:
		op = &ScreenClear{}
	case MessageTypeScreenUndo:
		op = &ScreenUndo{}
	case MessageTypeScreenRedo:
		op = &ScreenRedo{}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownMessageType, message.Type)
	}
	if err := message.DecodePayload(op); err != nil {
		return nil, fmt.Errorf("%s payload: %w", message.Type, err)
	}
	if err := validateOperation(op); err != nil {
		return nil, fmt.Errorf("%s payload: %w", message.Type, err)
	}
	return op, nil
}

func validateOperation(op Operation) error {
	switch v := op.(type) {
	case *ElementAdd:
		if v.Element == nil || v.Element.Id == "" {
			return errors.New("missing element")
		}
		if !v.Element.Type.Valid() {
			return fmt.Errorf("%w: %s", ErrUnknownComponentType, v.Element.Type)
		}
	case *ElementUpdate:
		if v.Id == "" {
			return errors.New("missing id")
		}
	case *ElementRemove:
		if v.Id == "" {
			return errors.New("missing id")
		}
	case *ScreenAdd:
		if v.Screen == nil || v.Screen.Id == "" {
			return errors.New("missing screen")
		}
		return validateElements(v.Screen.Elements)
	case *ScreenRename:
		if v.Id == "" {
			return errors.New("missing id")
		}
	case *ScreenDelete:
		if v.Id == "" {
			return errors.New("missing id")
		}
	case *ScreenUndo:
		return validateElements(v.Elements)
	case *ScreenRedo:
		return validateElements(v.Elements)
	}
	return nil
}

// every entry of a screen's element array must be a usable element with its own id
func validateElements(elements []*DesignElement) error {
	ids := map[string]bool{}
	for i, element := range elements {
		if element == nil {
			return fmt.Errorf("element %d is null", i)
		}
		if element.Id == "" {
			return fmt.Errorf("element %d has no id", i)
		}
		if !element.Type.Valid() {
			return fmt.Errorf("element %s: %w: %s", element.Id, ErrUnknownComponentType, element.Type)
		}
		if ids[element.Id] {
			return fmt.Errorf("duplicate element %s", element.Id)
		}
		ids[element.Id] = true
	}
	return nil
}
