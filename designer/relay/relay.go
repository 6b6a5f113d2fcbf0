package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"golang.org/x/exp/maps"

	"github.com/golang/glog"
)

// relay generated messages. Payloads use the same envelope clients use.
const (
	MessageTypeUserConnected    = "user_connected"
	MessageTypeUserDisconnected = "user_disconnected"
	MessageTypeKicked           = "kicked"
)

var ErrRoomFull = errors.New("room is full")

type Settings struct {
	MaxUsers       int
	WriteWait      time.Duration
	PongWait       time.Duration
	PingPeriod     time.Duration
	MaxMessageSize int64
	SendBufferSize int
	CheckOrigin    func(r *http.Request) bool
}

func DefaultSettings() *Settings {
	pongWait := 60 * time.Second
	return &Settings{
		MaxUsers:       4,
		WriteWait:      10 * time.Second,
		PongWait:       pongWait,
		PingPeriod:     (pongWait * 9) / 10,
		MaxMessageSize: 512 * 1024,
		SendBufferSize: 256,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

type message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type userPayload struct {
	UserId   string `json:"userId"`
	Username string `json:"username"`
}

type ConnectedUser struct {
	UserId   string `json:"user_id"`
	Username string `json:"username"`
}

type RoomInfo struct {
	ProjectId      string          `json:"project_id"`
	UsersCount     int             `json:"users_count"`
	MaxUsers       int             `json:"max_users"`
	ConnectedUsers []ConnectedUser `json:"connected_users"`
	IsFull         bool            `json:"is_full"`
}

type RoomsInfo struct {
	Rooms []*RoomInfo `json:"rooms"`
	Total int         `json:"total"`
}

// fans out every frame a client sends to every client in the same room,
// sender included. Frames are forwarded unchanged.
type Hub struct {
	settings *Settings
	upgrader *websocket.Upgrader

	roomsLock sync.Mutex
	rooms     map[string]*room
}

func NewHubWithDefaults() *Hub {
	return NewHub(DefaultSettings())
}

func NewHub(settings *Settings) *Hub {
	return &Hub{
		settings: settings,
		upgrader: &websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     settings.CheckOrigin,
		},
		rooms: map[string]*room{},
	}
}

// blocks until `ctx` is done, then disconnects every client
func (self *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	self.roomsLock.Lock()
	rooms := maps.Values(self.rooms)
	self.roomsLock.Unlock()

	for _, room := range rooms {
		for _, client := range room.members() {
			client.close()
		}
	}
}

func (self *Hub) Handler() http.Handler {
	router := gin.New()
	router.Use(gin.Recovery())

	ws := router.Group("/ws")
	// ws://<host>/ws/connect?project_id=<room>&user_id=<user>&username=<name>
	ws.GET("/connect", self.handleConnect)
	ws.GET("/rooms", self.handleRooms)
	ws.GET("/room/:project_id", self.handleRoom)
	// posts an envelope into a room as if a client had sent it
	ws.POST("/room/:project_id/message", self.handleMessage)
	ws.DELETE("/room/:project_id/user/:user_id", self.handleKick)
	return router
}

func (self *Hub) handleConnect(c *gin.Context) {
	projectId := c.Query("project_id")
	userId := c.Query("user_id")
	username := c.Query("username")
	if projectId == "" || userId == "" || username == "" {
		c.String(http.StatusBadRequest, "project_id, user_id and username are required")
		return
	}

	client, err := self.reserve(projectId, userId, username)
	if err != nil {
		glog.Infof("[relay]%s refused %s = %s\n", projectId, userId, err)
		c.String(http.StatusForbidden, err.Error())
		return
	}

	ws, err := self.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// the upgrader already wrote the error response
		glog.Infof("[relay]%s upgrade %s = %s\n", projectId, userId, err)
		self.unregister(client, false)
		return
	}
	client.setWs(ws)

	go client.writePump()
	self.announce(client)
	go client.readPump()
}

// adds a client to its room before the upgrade, so the user limit holds under
// concurrent connects
func (self *Hub) reserve(projectId string, userId string, username string) (*client, error) {
	self.roomsLock.Lock()
	defer self.roomsLock.Unlock()

	r, ok := self.rooms[projectId]
	if !ok {
		r = newRoom(projectId)
		self.rooms[projectId] = r
		glog.V(1).Infof("[relay]%s created\n", projectId)
	}

	r.lock.Lock()
	defer r.lock.Unlock()

	if self.settings.MaxUsers <= len(r.clients) {
		return nil, ErrRoomFull
	}
	c := &client{
		hub:      self,
		room:     r,
		userId:   userId,
		username: username,
		send:     make(chan []byte, self.settings.SendBufferSize),
	}
	r.clients[c] = true
	return c, nil
}

// the newcomer learns who is already here, then everyone learns about the newcomer
func (self *Hub) announce(c *client) {
	for _, member := range c.room.members() {
		if member == c {
			continue
		}
		if data, err := encode(MessageTypeUserConnected, &userPayload{
			UserId:   member.userId,
			Username: member.username,
		}); err == nil {
			c.trySend(data)
		}
	}
	if data, err := encode(MessageTypeUserConnected, &userPayload{
		UserId:   c.userId,
		Username: c.username,
	}); err == nil {
		self.broadcast(c.room, data)
	}
	glog.Infof("[relay]%s joined %s (%d)\n", c.userId, c.room.id, c.room.size())
}

func (self *Hub) unregister(c *client, notify bool) {
	removed, remaining := func() (bool, int) {
		c.room.lock.Lock()
		defer c.room.lock.Unlock()

		if !c.room.clients[c] {
			return false, len(c.room.clients)
		}
		delete(c.room.clients, c)
		close(c.send)
		return true, len(c.room.clients)
	}()
	if !removed {
		return
	}

	if remaining == 0 {
		self.removeRoomIfEmpty(c.room)
	} else if notify {
		if data, err := encode(MessageTypeUserDisconnected, &userPayload{
			UserId:   c.userId,
			Username: c.username,
		}); err == nil {
			self.broadcast(c.room, data)
		}
	}
	glog.Infof("[relay]%s left %s (%d)\n", c.userId, c.room.id, remaining)
}

func (self *Hub) removeRoomIfEmpty(r *room) {
	self.roomsLock.Lock()
	defer self.roomsLock.Unlock()

	if self.rooms[r.id] != r || 0 < r.size() {
		return
	}
	delete(self.rooms, r.id)
	glog.V(1).Infof("[relay]%s removed\n", r.id)
}

// a client whose buffer is full is dropped rather than slowing the room
func (self *Hub) broadcast(r *room, data []byte) {
	slow := []*client{}
	func() {
		r.lock.RLock()
		defer r.lock.RUnlock()

		for c := range r.clients {
			select {
			case c.send <- data:
			default:
				slow = append(slow, c)
			}
		}
	}()
	for _, c := range slow {
		glog.Infof("[relay]%s drop slow client %s\n", r.id, c.userId)
		self.unregister(c, true)
	}
}

func (self *Hub) room(projectId string) *room {
	self.roomsLock.Lock()
	defer self.roomsLock.Unlock()
	return self.rooms[projectId]
}

func (self *Hub) RoomInfo(projectId string) *RoomInfo {
	if r := self.room(projectId); r != nil {
		return r.info(self.settings.MaxUsers)
	}
	return &RoomInfo{
		ProjectId:      projectId,
		MaxUsers:       self.settings.MaxUsers,
		ConnectedUsers: []ConnectedUser{},
	}
}

// ordered by project id
func (self *Hub) Rooms() *RoomsInfo {
	self.roomsLock.Lock()
	rooms := maps.Values(self.rooms)
	self.roomsLock.Unlock()

	slices.SortFunc(rooms, func(a *room, b *room) int {
		return strings.Compare(a.id, b.id)
	})
	infos := make([]*RoomInfo, 0, len(rooms))
	for _, r := range rooms {
		infos = append(infos, r.info(self.settings.MaxUsers))
	}
	return &RoomsInfo{
		Rooms: infos,
		Total: len(infos),
	}
}

func (self *Hub) handleRoom(c *gin.Context) {
	c.JSON(http.StatusOK, self.RoomInfo(c.Param("project_id")))
}

func (self *Hub) handleRooms(c *gin.Context) {
	c.JSON(http.StatusOK, self.Rooms())
}

func (self *Hub) handleMessage(c *gin.Context) {
	room := self.room(c.Param("project_id"))
	if room == nil {
		c.String(http.StatusNotFound, "room not found")
		return
	}

	data, err := io.ReadAll(io.LimitReader(c.Request.Body, self.settings.MaxMessageSize))
	if err != nil {
		c.String(http.StatusBadRequest, err.Error())
		return
	}
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil || envelope.Type == "" {
		c.String(http.StatusBadRequest, "body must be a message with a type")
		return
	}

	self.broadcast(room, data)
	c.JSON(http.StatusOK, gin.H{
		"type": envelope.Type,
	})
}

func (self *Hub) handleKick(c *gin.Context) {
	projectId := c.Param("project_id")
	userId := c.Param("user_id")

	room := self.room(projectId)
	if room == nil {
		c.String(http.StatusNotFound, "room not found")
		return
	}
	kicked := 0
	for _, c := range room.members() {
		if c.userId != userId {
			continue
		}
		if data, err := encode(MessageTypeKicked, &userPayload{
			UserId:   c.userId,
			Username: c.username,
		}); err == nil {
			c.trySend(data)
		}
		// the write pump sends what is buffered, then the close frame
		self.unregister(c, true)
		kicked += 1
	}
	if kicked == 0 {
		c.String(http.StatusNotFound, "user not found in room")
		return
	}
	glog.Infof("[relay]%s kicked %s\n", projectId, userId)
	c.JSON(http.StatusOK, gin.H{
		"kicked": kicked,
	})
}

type room struct {
	id string

	lock    sync.RWMutex
	clients map[*client]bool
}

func newRoom(id string) *room {
	return &room{
		id:      id,
		clients: map[*client]bool{},
	}
}

func (self *room) size() int {
	self.lock.RLock()
	defer self.lock.RUnlock()
	return len(self.clients)
}

func (self *room) members() []*client {
	self.lock.RLock()
	defer self.lock.RUnlock()
	return maps.Keys(self.clients)
}

func (self *room) info(maxUsers int) *RoomInfo {
	self.lock.RLock()
	defer self.lock.RUnlock()

	users := make([]ConnectedUser, 0, len(self.clients))
	for c := range self.clients {
		users = append(users, ConnectedUser{
			UserId:   c.userId,
			Username: c.username,
		})
	}
	slices.SortFunc(users, func(a ConnectedUser, b ConnectedUser) int {
		return strings.Compare(a.UserId, b.UserId)
	})
	return &RoomInfo{
		ProjectId:      self.id,
		UsersCount:     len(users),
		MaxUsers:       maxUsers,
		ConnectedUsers: users,
		IsFull:         maxUsers <= len(users),
	}
}

type client struct {
	hub  *Hub
	room *room
	ws   *websocket.Conn

	userId   string
	username string

	// closed by `unregister` under the room lock
	send chan []byte
}

func (self *client) setWs(ws *websocket.Conn) {
	self.room.lock.Lock()
	defer self.room.lock.Unlock()
	self.ws = ws
}

func (self *client) close() {
	self.room.lock.RLock()
	ws := self.ws
	self.room.lock.RUnlock()
	if ws != nil {
		ws.Close()
	}
}

func (self *client) trySend(data []byte) {
	self.room.lock.RLock()
	defer self.room.lock.RUnlock()

	if !self.room.clients[self] {
		return
	}
	select {
	case self.send <- data:
	default:
		glog.Infof("[relay]%s drop to %s, buffer full\n", self.room.id, self.userId)
	}
}

func (self *client) readPump() {
	defer func() {
		self.hub.unregister(self, true)
		self.ws.Close()
	}()

	settings := self.hub.settings
	self.ws.SetReadLimit(settings.MaxMessageSize)
	self.ws.SetReadDeadline(time.Now().Add(settings.PongWait))
	self.ws.SetPongHandler(func(string) error {
		self.ws.SetReadDeadline(time.Now().Add(settings.PongWait))
		return nil
	})

	for {
		_, data, err := self.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				glog.Infof("[relay]%s read %s = %s\n", self.room.id, self.userId, err)
			}
			return
		}
		self.ws.SetReadDeadline(time.Now().Add(settings.PongWait))

		if !json.Valid(data) {
			glog.Infof("[relay]%s drop invalid json from %s\n", self.room.id, self.userId)
			continue
		}
		self.hub.broadcast(self.room, data)
	}
}

// one frame per message. Clients parse each frame as a single envelope.
func (self *client) writePump() {
	settings := self.hub.settings
	ticker := time.NewTicker(settings.PingPeriod)
	defer func() {
		ticker.Stop()
		self.ws.Close()
	}()

	for {
		select {
		case data, ok := <-self.send:
			self.ws.SetWriteDeadline(time.Now().Add(settings.WriteWait))
			if !ok {
				self.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := self.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			self.ws.SetWriteDeadline(time.Now().Add(settings.WriteWait))
			if err := self.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func encode(messageType string, payload any) ([]byte, error) {
	data, err := json.Marshal(&message{
		Type:    messageType,
		Payload: payload,
	})
	if err != nil {
		glog.Infof("[relay]encode %s = %s\n", messageType, err)
	}
	return data, err
}
