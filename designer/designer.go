package designer

import (
	"context"
)

type DesignerSettings struct {
	TransportSettings *TransportSettings
	StoreSettings     *StoreSettings
	PresenceSettings  *PresenceSettings
}

func DefaultDesignerSettings() *DesignerSettings {
	return &DesignerSettings{
		TransportSettings: DefaultTransportSettings(),
		StoreSettings:     DefaultStoreSettings(),
		PresenceSettings:  DefaultPresenceSettings(),
	}
}

// one collaborating client: a document, a connection to the relay, and the
// presence of the other users in the room
type Designer struct {
	ctx    context.Context
	cancel context.CancelFunc

	identity Identity

	Transport  *Transport
	Rooms      *RoomManager
	Store      *Store
	Reconciler *Reconciler
	Presence   *Presence
}

func NewDesignerWithDefaults(ctx context.Context, relayUrl string, identity Identity) *Designer {
	return NewDesigner(ctx, relayUrl, identity, DefaultDesignerSettings())
}

func NewDesigner(ctx context.Context, relayUrl string, identity Identity, settings *DesignerSettings) *Designer {
	cancelCtx, cancel := context.WithCancel(ctx)

	transport := NewTransport(cancelCtx, relayUrl, settings.TransportSettings)
	store := NewStore(transport, settings.StoreSettings)
	return &Designer{
		ctx:        cancelCtx,
		cancel:     cancel,
		identity:   identity,
		Transport:  transport,
		Rooms:      NewRoomManager(transport),
		Store:      store,
		Reconciler: NewReconciler(transport, store),
		Presence:   NewPresence(transport, identity, store, settings.PresenceSettings),
	}
}

func (self *Designer) Identity() Identity {
	return self.identity
}

func (self *Designer) CreateRoom(ctx context.Context) (string, error) {
	return self.Rooms.CreateRoom(ctx, self.identity.UserId, self.identity.Username)
}

func (self *Designer) JoinRoom(ctx context.Context, roomId string) error {
	return self.Rooms.JoinRoom(ctx, roomId, self.identity.UserId, self.identity.Username)
}

func (self *Designer) LeaveRoom() {
	self.Rooms.LeaveRoom()
}

// a drag step: moves the element locally and shows the move to peers
// Drag steps are not history entries. Commit the final position with
// `Store.UpdateElement` to make it undoable and durable for peers.
func (self *Designer) MoveElement(id string, position Position) error {
	if err := self.Store.MoveElement(id, position); err != nil {
		return err
	}
	self.Presence.SendComponentMovement(id, position)
	return nil
}

func (self *Designer) Close() {
	self.Presence.Close()
	self.Reconciler.Close()
	self.Rooms.LeaveRoom()
	self.Transport.Close()
	self.cancel()
}
