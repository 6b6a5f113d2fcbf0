package designer

import (
	mathrand "math/rand"
	"slices"
	"sync"

	"golang.org/x/exp/maps"

	"github.com/golang/glog"
)

// who this client is in a room
type Identity struct {
	UserId   string
	Username string
}

type Cursor struct {
	UserId   string  `json:"userId"`
	Username string  `json:"username"`
	Color    string  `json:"color"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
}

// payload of `user_connected` and `user_disconnected`, sent by the relay
type UserPresence struct {
	UserId   string `json:"userId"`
	Username string `json:"username,omitempty"`
}

type ComponentMoved struct {
	UserId      string   `json:"userId"`
	ComponentId string   `json:"componentId"`
	Position    Position `json:"position"`
}

// receives peers' drag positions. Satisfied by `*Store`.
type PositionSink interface {
	ApplyElementPosition(id string, position Position) error
}

type PresenceFunction func(messageType MessageType, userId string)

var DefaultCursorColors = []string{
	"#FF6B6B", "#4ECDC4", "#45B7D1", "#96CEB4",
	"#FFEEAD", "#D4A5A5", "#9B59B6", "#3498DB",
}

const DefaultUsername = "Anonymous"

type PresenceSettings struct {
	// the local color is picked at random from these
	Colors []string
	// used for cursors that arrive without one
	FallbackColor string
}

func DefaultPresenceSettings() *PresenceSettings {
	return &PresenceSettings{
		Colors:        DefaultCursorColors,
		FallbackColor: "#FF0000",
	}
}

// remote cursors and connected users
// All of it is ephemeral. Nothing here touches the document history.
type Presence struct {
	channel      Channel
	identity     Identity
	positionSink PositionSink
	color        string
	settings     *PresenceSettings

	stateLock      sync.Mutex
	cursors        map[string]*Cursor
	connectedUsers map[string]bool

	presenceCallbacks *CallbackList[PresenceFunction]
	removes           []func()
}

func NewPresenceWithDefaults(channel Channel, identity Identity, positionSink PositionSink) *Presence {
	return NewPresence(channel, identity, positionSink, DefaultPresenceSettings())
}

func NewPresence(
	channel Channel,
	identity Identity,
	positionSink PositionSink,
	settings *PresenceSettings,
) *Presence {
	color := settings.FallbackColor
	if 0 < len(settings.Colors) {
		color = settings.Colors[mathrand.Intn(len(settings.Colors))]
	}
	presence := &Presence{
		channel:           channel,
		identity:          identity,
		positionSink:      positionSink,
		color:             color,
		settings:          settings,
		cursors:           map[string]*Cursor{},
		connectedUsers:    map[string]bool{},
		presenceCallbacks: NewCallbackList[PresenceFunction](),
	}
	presence.removes = []func(){
		channel.On(MessageTypeCursorUpdate, presence.receiveCursor),
		channel.On(MessageTypeUserConnected, presence.receiveUserConnected),
		channel.On(MessageTypeUserDisconnected, presence.receiveUserDisconnected),
		channel.On(MessageTypeComponentMoved, presence.receiveComponentMoved),
	}
	return presence
}

func (self *Presence) AddPresenceCallback(callback PresenceFunction) func() {
	return self.presenceCallbacks.Add(callback)
}

func (self *Presence) receiveCursor(message *Message) {
	var cursor Cursor
	if err := message.DecodePayload(&cursor); err != nil || cursor.UserId == "" {
		glog.Infof("[p]drop cursor = %v\n", err)
		return
	}
	if cursor.Username == "" {
		cursor.Username = DefaultUsername
	}
	if cursor.Color == "" {
		cursor.Color = self.settings.FallbackColor
	}
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		self.cursors[cursor.UserId] = &cursor
	}()
	self.notify(message.Type, cursor.UserId)
}

func (self *Presence) receiveUserConnected(message *Message) {
	var user UserPresence
	if err := message.DecodePayload(&user); err != nil || user.UserId == "" {
		glog.Infof("[p]drop user connected = %v\n", err)
		return
	}
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		self.connectedUsers[user.UserId] = true
	}()
	self.notify(message.Type, user.UserId)
}

func (self *Presence) receiveUserDisconnected(message *Message) {
	var user UserPresence
	if err := message.DecodePayload(&user); err != nil || user.UserId == "" {
		glog.Infof("[p]drop user disconnected = %v\n", err)
		return
	}
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		delete(self.connectedUsers, user.UserId)
		delete(self.cursors, user.UserId)
	}()
	self.notify(message.Type, user.UserId)
}

func (self *Presence) receiveComponentMoved(message *Message) {
	var moved ComponentMoved
	if err := message.DecodePayload(&moved); err != nil || moved.ComponentId == "" {
		glog.Infof("[p]drop component moved = %v\n", err)
		return
	}
	if moved.UserId == self.identity.UserId {
		return
	}
	if self.positionSink != nil {
		if err := self.positionSink.ApplyElementPosition(moved.ComponentId, moved.Position); err != nil {
			glog.V(1).Infof("[p]skip component moved = %s\n", err)
			return
		}
	}
	self.notify(message.Type, moved.UserId)
}

func (self *Presence) notify(messageType MessageType, userId string) {
	for _, callback := range self.presenceCallbacks.Get() {
		HandleError(func() {
			callback(messageType, userId)
		})
	}
}

// returns false when not connected and the update was dropped
func (self *Presence) UpdateCursorPosition(x float64, y float64) bool {
	return self.channel.SendEphemeral(MessageTypeCursorUpdate, &Cursor{
		UserId:   self.identity.UserId,
		Username: self.username(),
		Color:    self.color,
		X:        x,
		Y:        y,
	})
}

func (self *Presence) SendComponentMovement(componentId string, position Position) bool {
	return self.channel.SendEphemeral(MessageTypeComponentMoved, &ComponentMoved{
		UserId:      self.identity.UserId,
		ComponentId: componentId,
		Position:    position,
	})
}

func (self *Presence) username() string {
	if self.identity.Username == "" {
		return DefaultUsername
	}
	return self.identity.Username
}

func (self *Presence) Color() string {
	return self.color
}

func (self *Presence) Identity() Identity {
	return self.identity
}

// ordered by user id
func (self *Presence) Cursors() []Cursor {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	userIds := maps.Keys(self.cursors)
	slices.Sort(userIds)
	cursors := make([]Cursor, 0, len(userIds))
	for _, userId := range userIds {
		cursors = append(cursors, *self.cursors[userId])
	}
	return cursors
}

// ordered by user id
func (self *Presence) ConnectedUsers() []string {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	userIds := maps.Keys(self.connectedUsers)
	slices.Sort(userIds)
	return userIds
}

func (self *Presence) Close() {
	for _, remove := range self.removes {
		remove()
	}
	self.removes = nil
}
