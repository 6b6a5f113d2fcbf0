package designer

import (
	"context"
	"sync"

	"github.com/golang/glog"
)

// tracks which room the transport is joined to
// A room is created implicitly by the relay when the first client connects,
// so creating and joining differ only in where the room id comes from.
type RoomManager struct {
	transport *Transport

	stateLock sync.Mutex
	roomId    string
}

func NewRoomManager(transport *Transport) *RoomManager {
	return &RoomManager{
		transport: transport,
	}
}

// generates a new room id and joins it
func (self *RoomManager) CreateRoom(ctx context.Context, userId string, username string) (string, error) {
	roomId := NewRoomId()
	if err := self.JoinRoom(ctx, roomId, userId, username); err != nil {
		return "", err
	}
	return roomId, nil
}

// joining a room that no one is in yet is not an error
func (self *RoomManager) JoinRoom(ctx context.Context, roomId string, userId string, username string) error {
	err := self.transport.Connect(ctx, ConnectionArgs{
		RoomId:   roomId,
		UserId:   userId,
		Username: username,
	})

	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	if err != nil {
		glog.Infof("[t]join %s error = %s\n", roomId, err)
		self.roomId = ""
		return err
	}
	self.roomId = roomId
	return nil
}

func (self *RoomManager) LeaveRoom() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if self.roomId == "" {
		return
	}
	self.transport.Leave()
	self.roomId = ""
}

func (self *RoomManager) RoomId() string {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.roomId
}

// joined means a room was entered and not left. The connection itself may be
// reconnecting.
func (self *RoomManager) IsJoined() bool {
	return self.RoomId() != ""
}
