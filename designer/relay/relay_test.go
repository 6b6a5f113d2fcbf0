package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/assert/v2"
	"github.com/gorilla/websocket"
)

func init() {
	flag.Set("logtostderr", "true")
	gin.SetMode(gin.TestMode)
}

const testTimeout = 10 * time.Second

type testServer struct {
	hub    *Hub
	server *httptest.Server
	cancel context.CancelFunc
}

func newTestServer(settings *Settings) *testServer {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(settings)
	go hub.Run(ctx)
	return &testServer{
		hub:    hub,
		server: httptest.NewServer(hub.Handler()),
		cancel: cancel,
	}
}

func (self *testServer) Close() {
	self.server.Close()
	self.cancel()
}

func (self *testServer) dial(projectId string, userId string, username string) (*websocket.Conn, *http.Response, error) {
	query := url.Values{}
	query.Set("project_id", projectId)
	query.Set("user_id", userId)
	query.Set("username", username)
	connectUrl := "ws" + strings.TrimPrefix(self.server.URL, "http") + "/ws/connect?" + query.Encode()
	return websocket.DefaultDialer.Dial(connectUrl, nil)
}

func (self *testServer) connect(t *testing.T, projectId string, userId string) *websocket.Conn {
	ws, _, err := self.dial(projectId, userId, "name-"+userId)
	assert.Equal(t, err, nil)
	return ws
}

type testMessage struct {
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload"`
	SenderId string          `json:"senderId"`
}

// reads until a message of the given type arrives
func readType(t *testing.T, ws *websocket.Conn, messageType string) *testMessage {
	ws.SetReadDeadline(time.Now().Add(testTimeout))
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %s = %s", messageType, err)
		}
		var message testMessage
		if err := json.Unmarshal(data, &message); err != nil {
			t.Fatalf("bad frame %s", data)
		}
		if message.Type == messageType {
			return &message
		}
	}
}

func readUser(t *testing.T, ws *websocket.Conn, messageType string) userPayload {
	message := readType(t, ws, messageType)
	var user userPayload
	err := json.Unmarshal(message.Payload, &user)
	assert.Equal(t, err, nil)
	return user
}

func getJson(t *testing.T, getUrl string, v any) int {
	r, err := http.Get(getUrl)
	assert.Equal(t, err, nil)
	defer r.Body.Close()
	if r.StatusCode == http.StatusOK {
		err = json.NewDecoder(r.Body).Decode(v)
		assert.Equal(t, err, nil)
	}
	return r.StatusCode
}

func TestConnectRequiresParams(t *testing.T) {
	server := newTestServer(DefaultSettings())
	defer server.Close()

	for _, query := range []string{
		"",
		"?project_id=p1&user_id=u1",
		"?project_id=p1&username=one",
		"?user_id=u1&username=one",
	} {
		r, err := http.Get(server.server.URL + "/ws/connect" + query)
		assert.Equal(t, err, nil)
		r.Body.Close()
		assert.Equal(t, http.StatusBadRequest, r.StatusCode)
	}
}

func TestRoomFull(t *testing.T) {
	settings := DefaultSettings()
	settings.MaxUsers = 2
	server := newTestServer(settings)
	defer server.Close()

	a := server.connect(t, "p1", "u1")
	defer a.Close()
	b := server.connect(t, "p1", "u2")
	defer b.Close()

	_, r, err := server.dial("p1", "u3", "three")
	assert.Equal(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusForbidden, r.StatusCode)

	// other rooms are unaffected
	c := server.connect(t, "p2", "u3")
	defer c.Close()

	// a slot frees up when someone leaves
	b.Close()
	assert.Equal(t, "u2", readUser(t, a, MessageTypeUserDisconnected).UserId)
	d := server.connect(t, "p1", "u4")
	defer d.Close()
}

func TestFanOut(t *testing.T) {
	server := newTestServer(DefaultSettings())
	defer server.Close()

	a := server.connect(t, "p1", "u1")
	defer a.Close()
	b := server.connect(t, "p1", "u2")
	defer b.Close()
	c := server.connect(t, "p2", "u3")
	defer c.Close()

	frame := []byte(`{"type":"ELEMENT_ADD","payload":{"id":"e1"},"senderId":"s1"}`)
	err := a.WriteMessage(websocket.TextMessage, []byte("not json"))
	assert.Equal(t, err, nil)
	err = a.WriteMessage(websocket.TextMessage, frame)
	assert.Equal(t, err, nil)

	// the sender gets its own frame back, unchanged
	for _, ws := range []*websocket.Conn{a, b} {
		message := readType(t, ws, "ELEMENT_ADD")
		assert.Equal(t, "s1", message.SenderId)
		assert.Equal(t, `{"id":"e1"}`, string(message.Payload))
	}

	// rooms are separate
	err = c.WriteMessage(websocket.TextMessage, []byte(`{"type":"SCREEN_ADD","payload":{}}`))
	assert.Equal(t, err, nil)
	readType(t, c, "SCREEN_ADD")
	err = a.WriteMessage(websocket.TextMessage, []byte(`{"type":"SCREEN_CLEAR","payload":{}}`))
	assert.Equal(t, err, nil)
	assert.Equal(t, -1, slices.Index(readTypes(t, b, "SCREEN_CLEAR"), "SCREEN_ADD"))
}

func TestUserPresence(t *testing.T) {
	server := newTestServer(DefaultSettings())
	defer server.Close()

	a := server.connect(t, "p1", "u1")
	defer a.Close()
	// everyone, the newcomer included, hears about the newcomer
	assert.Equal(t, userPayload{UserId: "u1", Username: "name-u1"}, readUser(t, a, MessageTypeUserConnected))

	b := server.connect(t, "p1", "u2")
	// the newcomer first hears who is already here
	assert.Equal(t, "u1", readUser(t, b, MessageTypeUserConnected).UserId)
	assert.Equal(t, "u2", readUser(t, b, MessageTypeUserConnected).UserId)
	assert.Equal(t, userPayload{UserId: "u2", Username: "name-u2"}, readUser(t, a, MessageTypeUserConnected))

	err := b.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	assert.Equal(t, err, nil)
	assert.Equal(t, userPayload{UserId: "u2", Username: "name-u2"}, readUser(t, a, MessageTypeUserDisconnected))
	b.Close()
}

func TestRoomInfo(t *testing.T) {
	server := newTestServer(DefaultSettings())
	defer server.Close()

	var info RoomInfo
	assert.Equal(t, http.StatusOK, getJson(t, server.server.URL+"/ws/room/p1", &info))
	assert.Equal(t, RoomInfo{ProjectId: "p1", MaxUsers: 4, ConnectedUsers: []ConnectedUser{}}, info)

	a := server.connect(t, "p1", "u2")
	defer a.Close()
	b := server.connect(t, "p1", "u1")
	defer b.Close()
	c := server.connect(t, "p0", "u3")
	defer c.Close()

	assert.Equal(t, http.StatusOK, getJson(t, server.server.URL+"/ws/room/p1", &info))
	assert.Equal(t, RoomInfo{
		ProjectId:  "p1",
		UsersCount: 2,
		MaxUsers:   4,
		ConnectedUsers: []ConnectedUser{
			{UserId: "u1", Username: "name-u1"},
			{UserId: "u2", Username: "name-u2"},
		},
		IsFull: false,
	}, info)

	var rooms RoomsInfo
	assert.Equal(t, http.StatusOK, getJson(t, server.server.URL+"/ws/rooms", &rooms))
	assert.Equal(t, 2, rooms.Total)
	assert.Equal(t, "p0", rooms.Rooms[0].ProjectId)
	assert.Equal(t, "p1", rooms.Rooms[1].ProjectId)

	// empty rooms go away
	c.Close()
	waitFor(t, func() bool {
		return server.hub.Rooms().Total == 1
	})
}

func TestPostMessage(t *testing.T) {
	server := newTestServer(DefaultSettings())
	defer server.Close()

	post := func(projectId string, body string) int {
		r, err := http.Post(
			fmt.Sprintf("%s/ws/room/%s/message", server.server.URL, projectId),
			"application/json",
			bytes.NewReader([]byte(body)),
		)
		assert.Equal(t, err, nil)
		r.Body.Close()
		return r.StatusCode
	}

	assert.Equal(t, http.StatusNotFound, post("p1", `{"type":"notice","payload":{}}`))

	a := server.connect(t, "p1", "u1")
	defer a.Close()

	assert.Equal(t, http.StatusBadRequest, post("p1", `{"payload":{}}`))
	assert.Equal(t, http.StatusBadRequest, post("p1", `not json`))
	assert.Equal(t, http.StatusOK, post("p1", `{"type":"notice","payload":{"text":"hello"}}`))

	message := readType(t, a, "notice")
	assert.Equal(t, `{"text":"hello"}`, string(message.Payload))
}

func TestKick(t *testing.T) {
	server := newTestServer(DefaultSettings())
	defer server.Close()

	a := server.connect(t, "p1", "u1")
	defer a.Close()
	b := server.connect(t, "p1", "u2")
	defer b.Close()
	readUser(t, a, MessageTypeUserConnected)
	readUser(t, a, MessageTypeUserConnected)

	kick := func(projectId string, userId string) int {
		req, err := http.NewRequest("DELETE", fmt.Sprintf("%s/ws/room/%s/user/%s", server.server.URL, projectId, userId), nil)
		assert.Equal(t, err, nil)
		r, err := http.DefaultClient.Do(req)
		assert.Equal(t, err, nil)
		r.Body.Close()
		return r.StatusCode
	}

	assert.Equal(t, http.StatusNotFound, kick("p9", "u2"))
	assert.Equal(t, http.StatusNotFound, kick("p1", "u9"))
	assert.Equal(t, http.StatusOK, kick("p1", "u2"))

	// the kicked client is told, then disconnected
	assert.Equal(t, "u2", readUser(t, b, MessageTypeKicked).UserId)
	b.SetReadDeadline(time.Now().Add(testTimeout))
	for {
		if _, _, err := b.ReadMessage(); err != nil {
			break
		}
	}
	assert.Equal(t, "u2", readUser(t, a, MessageTypeUserDisconnected).UserId)
	assert.Equal(t, 1, server.hub.RoomInfo("p1").UsersCount)
}

func TestSlowClientDropped(t *testing.T) {
	settings := DefaultSettings()
	settings.SendBufferSize = 1
	server := newTestServer(settings)
	defer server.Close()

	r := server.hub.room("p1")
	assert.Equal(t, (*room)(nil), r)

	slow, err := server.hub.reserve("p1", "u1", "one")
	assert.Equal(t, err, nil)
	r = server.hub.room("p1")

	// nothing drains the reserved client, so its buffer fills
	server.hub.broadcast(r, []byte(`{"type":"a"}`))
	assert.Equal(t, 1, r.size())
	server.hub.broadcast(r, []byte(`{"type":"b"}`))
	assert.Equal(t, 0, r.size())
	assert.Equal(t, (*room)(nil), server.hub.room("p1"))

	_, ok := <-slow.send
	assert.Equal(t, true, ok)
	_, ok = <-slow.send
	assert.Equal(t, false, ok)
}

func TestRunClosesClients(t *testing.T) {
	server := newTestServer(DefaultSettings())
	defer server.server.Close()

	a := server.connect(t, "p1", "u1")
	defer a.Close()
	readUser(t, a, MessageTypeUserConnected)

	server.cancel()
	a.SetReadDeadline(time.Now().Add(testTimeout))
	_, _, err := a.ReadMessage()
	assert.NotEqual(t, err, nil)
	waitFor(t, func() bool {
		return server.hub.Rooms().Total == 0
	})
}

// reads until a message of the given type arrives, returning every type seen
func readTypes(t *testing.T, ws *websocket.Conn, messageType string) []string {
	ws.SetReadDeadline(time.Now().Add(testTimeout))
	messageTypes := []string{}
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %s = %s", messageType, err)
		}
		var message testMessage
		if err := json.Unmarshal(data, &message); err != nil {
			t.Fatalf("bad frame %s", data)
		}
		messageTypes = append(messageTypes, message.Type)
		if message.Type == messageType {
			return messageTypes
		}
	}
}

func waitFor(t *testing.T, condition func() bool) {
	end := time.Now().Add(testTimeout)
	for !condition() {
		if end.Before(time.Now()) {
			t.Fatal("timed out")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
