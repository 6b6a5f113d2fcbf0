package designer

import (
	"encoding/json"
	"slices"
	"sync"
	"testing"

	"github.com/go-playground/assert/v2"
)

// records outbound messages and delivers inbound ones to the registered handlers
type testChannel struct {
	connected bool

	stateLock sync.Mutex
	sent      []*Message
	ephemeral []*Message
	handlers  map[MessageType]*CallbackList[MessageHandler]
}

func newTestChannel(connected bool) *testChannel {
	return &testChannel{
		connected: connected,
		handlers:  map[MessageType]*CallbackList[MessageHandler]{},
	}
}

func (self *testChannel) encode(messageType MessageType, payload any) *Message {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	return &Message{Type: messageType, Payload: payloadBytes}
}

func (self *testChannel) Send(messageType MessageType, payload any) error {
	message := self.encode(messageType, payload)
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.sent = append(self.sent, message)
	return nil
}

func (self *testChannel) SendEphemeral(messageType MessageType, payload any) bool {
	if !self.connected {
		return false
	}
	message := self.encode(messageType, payload)
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.ephemeral = append(self.ephemeral, message)
	return true
}

func (self *testChannel) On(messageType MessageType, handler MessageHandler) func() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	handlers, ok := self.handlers[messageType]
	if !ok {
		handlers = NewCallbackList[MessageHandler]()
		self.handlers[messageType] = handlers
	}
	return handlers.Add(handler)
}

func (self *testChannel) receive(messageType MessageType, payload any) {
	message := self.encode(messageType, payload)
	self.stateLock.Lock()
	handlers, ok := self.handlers[messageType]
	self.stateLock.Unlock()
	if !ok {
		return
	}
	for _, handler := range handlers.Get() {
		HandleError(func() {
			handler(message)
		})
	}
}

func (self *testChannel) Ephemeral() []*Message {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return append([]*Message{}, self.ephemeral...)
}

func (self *testChannel) HandlerCount() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	n := 0
	for _, handlers := range self.handlers {
		n += handlers.Len()
	}
	return n
}

func TestPresenceColor(t *testing.T) {
	channel := newTestChannel(true)
	presence := NewPresenceWithDefaults(channel, Identity{UserId: "u1", Username: "one"}, nil)
	assert.NotEqual(t, -1, slices.Index(DefaultCursorColors, presence.Color()))

	settings := DefaultPresenceSettings()
	settings.Colors = []string{}
	presence = NewPresence(channel, Identity{UserId: "u1"}, nil, settings)
	assert.Equal(t, "#FF0000", presence.Color())
}

func TestPresenceCursors(t *testing.T) {
	channel := newTestChannel(true)
	presence := NewPresenceWithDefaults(channel, Identity{UserId: "u1", Username: "one"}, nil)

	changes := []string{}
	presence.AddPresenceCallback(func(messageType MessageType, userId string) {
		changes = append(changes, string(messageType)+":"+userId)
	})

	channel.receive(MessageTypeCursorUpdate, &Cursor{UserId: "u3", Username: "three", Color: "#4ECDC4", X: 1, Y: 2})
	channel.receive(MessageTypeCursorUpdate, &Cursor{UserId: "u2", X: 5, Y: 6})
	// the latest position replaces the earlier one
	channel.receive(MessageTypeCursorUpdate, &Cursor{UserId: "u3", Username: "three", Color: "#4ECDC4", X: 10, Y: 20})
	// no user id
	channel.receive(MessageTypeCursorUpdate, &Cursor{X: 1, Y: 1})

	assert.Equal(t, []Cursor{
		{UserId: "u2", Username: DefaultUsername, Color: "#FF0000", X: 5, Y: 6},
		{UserId: "u3", Username: "three", Color: "#4ECDC4", X: 10, Y: 20},
	}, presence.Cursors())
	assert.Equal(t, []string{
		"cursor_update:u3",
		"cursor_update:u2",
		"cursor_update:u3",
	}, changes)
}

func TestPresenceConnectedUsers(t *testing.T) {
	channel := newTestChannel(true)
	presence := NewPresenceWithDefaults(channel, Identity{UserId: "u1", Username: "one"}, nil)

	channel.receive(MessageTypeUserConnected, &UserPresence{UserId: "u3", Username: "three"})
	channel.receive(MessageTypeUserConnected, &UserPresence{UserId: "u2", Username: "two"})
	channel.receive(MessageTypeUserConnected, &UserPresence{UserId: "u2", Username: "two"})
	channel.receive(MessageTypeCursorUpdate, &Cursor{UserId: "u2", X: 5, Y: 6})
	assert.Equal(t, []string{"u2", "u3"}, presence.ConnectedUsers())
	assert.Equal(t, 1, len(presence.Cursors()))

	// a departing user takes their cursor along
	channel.receive(MessageTypeUserDisconnected, &UserPresence{UserId: "u2"})
	assert.Equal(t, []string{"u3"}, presence.ConnectedUsers())
	assert.Equal(t, 0, len(presence.Cursors()))

	// unknown users are ignored
	channel.receive(MessageTypeUserDisconnected, &UserPresence{UserId: "u9"})
	assert.Equal(t, []string{"u3"}, presence.ConnectedUsers())
}

func TestPresenceSendCursor(t *testing.T) {
	channel := newTestChannel(false)
	presence := NewPresenceWithDefaults(channel, Identity{UserId: "u1"}, nil)

	assert.Equal(t, false, presence.UpdateCursorPosition(1, 2))
	assert.Equal(t, 0, len(channel.Ephemeral()))

	channel.connected = true
	assert.Equal(t, true, presence.UpdateCursorPosition(3, 4))
	messages := channel.Ephemeral()
	assert.Equal(t, 1, len(messages))
	assert.Equal(t, MessageTypeCursorUpdate, messages[0].Type)

	var cursor Cursor
	err := messages[0].DecodePayload(&cursor)
	assert.Equal(t, err, nil)
	assert.Equal(t, Cursor{
		UserId:   "u1",
		Username: DefaultUsername,
		Color:    presence.Color(),
		X:        3,
		Y:        4,
	}, cursor)
}

func TestPresenceComponentMoved(t *testing.T) {
	channel := newTestChannel(true)
	store := NewStoreWithDefaults(channel)
	element, err := store.AddElement(ComponentTypeButton, 40, 60)
	assert.Equal(t, err, nil)
	historyLen, _ := store.HistoryLen(store.CurrentScreenId())

	presence := NewPresenceWithDefaults(channel, Identity{UserId: "u1", Username: "one"}, store)

	moves := 0
	presence.AddPresenceCallback(func(messageType MessageType, userId string) {
		if messageType == MessageTypeComponentMoved {
			moves += 1
		}
	})

	channel.receive(MessageTypeComponentMoved, &ComponentMoved{
		UserId:      "u2",
		ComponentId: element.Id,
		Position:    Position{X: 100, Y: 120},
	})
	assert.Equal(t, Position{X: 100, Y: 120}, store.Element(element.Id).Position())
	assert.Equal(t, 1, moves)

	// own moves come back from the relay and are ignored
	channel.receive(MessageTypeComponentMoved, &ComponentMoved{
		UserId:      "u1",
		ComponentId: element.Id,
		Position:    Position{X: 0, Y: 0},
	})
	assert.Equal(t, Position{X: 100, Y: 120}, store.Element(element.Id).Position())

	// unknown elements are skipped
	channel.receive(MessageTypeComponentMoved, &ComponentMoved{
		UserId:      "u2",
		ComponentId: "missing",
		Position:    Position{X: 1, Y: 1},
	})
	assert.Equal(t, 1, moves)

	// moves are never history entries
	nextHistoryLen, _ := store.HistoryLen(store.CurrentScreenId())
	assert.Equal(t, historyLen, nextHistoryLen)
}

func TestPresenceSendComponentMovement(t *testing.T) {
	channel := newTestChannel(true)
	presence := NewPresenceWithDefaults(channel, Identity{UserId: "u1"}, nil)

	assert.Equal(t, true, presence.SendComponentMovement("e1", Position{X: 7, Y: 8}))
	messages := channel.Ephemeral()
	assert.Equal(t, 1, len(messages))

	var moved ComponentMoved
	err := messages[0].DecodePayload(&moved)
	assert.Equal(t, err, nil)
	assert.Equal(t, ComponentMoved{UserId: "u1", ComponentId: "e1", Position: Position{X: 7, Y: 8}}, moved)
}

func TestPresenceClose(t *testing.T) {
	channel := newTestChannel(true)
	presence := NewPresenceWithDefaults(channel, Identity{UserId: "u1"}, nil)
	assert.Equal(t, 4, channel.HandlerCount())

	presence.Close()
	assert.Equal(t, 0, channel.HandlerCount())

	channel.receive(MessageTypeUserConnected, &UserPresence{UserId: "u2"})
	assert.Equal(t, 0, len(presence.ConnectedUsers()))
}
