package designer

import (
	"errors"
)

var (
	ErrScreenNotFound       = errors.New("screen not found")
	ErrElementNotFound      = errors.New("element not found")
	ErrLastScreen           = errors.New("cannot delete the last screen")
	ErrUnknownComponentType = errors.New("unknown component type")
	ErrUnknownMessageType   = errors.New("unknown message type")
	ErrNotConnected         = errors.New("not connected")
	ErrClosed               = errors.New("closed")
)
