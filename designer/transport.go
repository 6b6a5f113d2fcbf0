package designer

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/golang/glog"
)

type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	// reconnect attempts are exhausted. `Retry` starts over.
	Failed
)

func (self ConnectionState) String() string {
	switch self {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(self))
	}
}

type ConnectionStateFunction func(state ConnectionState)

type TransportSettings struct {
	WsHandshakeTimeout  time.Duration
	ReconnectTimeout    time.Duration
	MaxReconnectTimeout time.Duration
	ReconnectAttempts   int
	PingTimeout         time.Duration
	WriteTimeout        time.Duration
	ReadTimeout         time.Duration
	MaxMessageSize      int64
}

func DefaultTransportSettings() *TransportSettings {
	return &TransportSettings{
		WsHandshakeTimeout:  5 * time.Second,
		ReconnectTimeout:    1 * time.Second,
		MaxReconnectTimeout: 30 * time.Second,
		ReconnectAttempts:   10,
		PingTimeout:         15 * time.Second,
		WriteTimeout:        10 * time.Second,
		ReadTimeout:         60 * time.Second,
		MaxMessageSize:      512 * 1024,
	}
}

// the identity triple a connection is opened with
// reconnects reuse the same triple
type ConnectionArgs struct {
	RoomId   string
	UserId   string
	Username string
}

// a transport client for one relay
//
// Outbound document messages go on an ordered queue that survives reconnects.
// The active connection drains it, and a message is removed only after it was
// written, so each message is written once even when connections change.
// Presence messages bypass the queue and are dropped when not connected.
type Transport struct {
	ctx    context.Context
	cancel context.CancelFunc

	relayUrl   string
	instanceId Id
	settings   *TransportSettings
	dialer     *websocket.Dialer

	stateLock     sync.Mutex
	state         ConnectionState
	args          *ConnectionArgs
	lastRoomId    string
	sessionCancel context.CancelFunc
	retry         chan struct{}
	activeWs      *websocket.Conn
	activeCtx     context.Context

	queueLock   sync.Mutex
	queue       [][]byte
	queueNotify chan struct{}

	// held for every data frame written to any connection
	writeLock sync.Mutex

	handlersLock sync.Mutex
	handlers     map[MessageType]*CallbackList[MessageHandler]

	connectionStateCallbacks *CallbackList[ConnectionStateFunction]
}

func NewTransportWithDefaults(ctx context.Context, relayUrl string) *Transport {
	return NewTransport(ctx, relayUrl, DefaultTransportSettings())
}

func NewTransport(ctx context.Context, relayUrl string, settings *TransportSettings) *Transport {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &Transport{
		ctx:        cancelCtx,
		cancel:     cancel,
		relayUrl:   relayUrl,
		instanceId: NewId(),
		settings:   settings,
		dialer: &websocket.Dialer{
			HandshakeTimeout: settings.WsHandshakeTimeout,
		},
		state:                    Disconnected,
		queue:                    [][]byte{},
		queueNotify:              make(chan struct{}, 1),
		handlers:                 map[MessageType]*CallbackList[MessageHandler]{},
		connectionStateCallbacks: NewCallbackList[ConnectionStateFunction](),
	}
}

// the sender id this transport stamps on every outbound message
func (self *Transport) InstanceId() Id {
	return self.instanceId
}

func (self *Transport) ConnectionState() ConnectionState {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.state
}

func (self *Transport) ConnectionArgs() (ConnectionArgs, bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	if self.args == nil {
		return ConnectionArgs{}, false
	}
	return *self.args, true
}

func (self *Transport) AddConnectionStateCallback(callback ConnectionStateFunction) func() {
	return self.connectionStateCallbacks.Add(callback)
}

// opens a connection to the room and blocks until the socket is open
// `ctx` bounds the dial only. The connection lives until `Leave` or `Close`.
// Any current connection is left first. Messages queued for a different room
// are discarded.
func (self *Transport) Connect(ctx context.Context, args ConnectionArgs) error {
	if self.ctx.Err() != nil {
		return ErrClosed
	}

	self.Leave()

	self.stateLock.Lock()
	sessionCtx, sessionCancel := context.WithCancel(self.ctx)
	if self.lastRoomId != "" && self.lastRoomId != args.RoomId {
		self.clearQueue()
	}
	self.args = &args
	self.lastRoomId = args.RoomId
	self.sessionCancel = sessionCancel
	self.retry = make(chan struct{}, 1)
	retry := self.retry
	self.stateLock.Unlock()

	self.setSessionState(sessionCtx, Connecting)

	dialCtx, dialCancel := context.WithCancel(ctx)
	defer dialCancel()
	go func() {
		select {
		case <-dialCtx.Done():
		case <-sessionCtx.Done():
			dialCancel()
		}
	}()

	ws, err := self.dial(dialCtx, args)
	if err != nil {
		glog.Infof("[t]connect %s error = %s\n", args.RoomId, err)
		sessionCancel()
		self.stateLock.Lock()
		if self.retry == retry {
			self.args = nil
			self.sessionCancel = nil
			self.retry = nil
		}
		self.stateLock.Unlock()
		self.setState(Disconnected)
		return err
	}

	// wait until the connection is handled, so the state is `Connected` on return
	ready := make(chan struct{})
	var readyOnce sync.Once
	connected := func() {
		readyOnce.Do(func() {
			close(ready)
		})
	}
	go HandleError(func() {
		defer connected()
		self.run(sessionCtx, args, ws, retry, connected)
	}, func(err error) {
		sessionCancel()
	})
	<-ready
	return nil
}

func (self *Transport) dial(ctx context.Context, args ConnectionArgs) (*websocket.Conn, error) {
	connectUrl, err := url.Parse(self.relayUrl)
	if err != nil {
		return nil, err
	}
	query := connectUrl.Query()
	query.Set("project_id", args.RoomId)
	query.Set("user_id", args.UserId)
	query.Set("username", args.Username)
	connectUrl.RawQuery = query.Encode()

	dial := func() (*websocket.Conn, error) {
		ws, _, err := self.dialer.DialContext(ctx, connectUrl.String(), nil)
		return ws, err
	}
	if glog.V(2) {
		return TraceWithReturnError(fmt.Sprintf("[t]dial %s", args.RoomId), dial)
	}
	return dial()
}

func (self *Transport) run(
	sessionCtx context.Context,
	args ConnectionArgs,
	ws *websocket.Conn,
	retry chan struct{},
	connected func(),
) {
	reconnect := NewReconnect(self.settings.ReconnectTimeout, self.settings.MaxReconnectTimeout)
	for {
		if ws != nil {
			reconnect.Reset()
			c := func() {
				self.handle(sessionCtx, ws, connected)
			}
			if glog.V(2) {
				Trace(fmt.Sprintf("[t]connect run %s", args.RoomId), c)
			} else {
				c()
			}
			ws = nil
		}

		select {
		case <-sessionCtx.Done():
			return
		default:
		}

		if self.settings.ReconnectAttempts <= reconnect.Attempts() {
			glog.Infof("[t]reconnect %s failed after %d attempts\n", args.RoomId, reconnect.Attempts())
			self.setSessionState(sessionCtx, Failed)
			select {
			case <-sessionCtx.Done():
				return
			case <-retry:
				reconnect.Reset()
			}
			self.setSessionState(sessionCtx, Connecting)
		} else {
			self.setSessionState(sessionCtx, Connecting)
			select {
			case <-sessionCtx.Done():
				return
			case <-reconnect.After():
			}
		}

		var err error
		ws, err = self.dial(sessionCtx, args)
		if err != nil {
			glog.Infof("[t]reconnect %s (%d) error = %s\n", args.RoomId, reconnect.Attempts(), err)
			ws = nil
		}
	}
}

// runs one connection until it ends
func (self *Transport) handle(sessionCtx context.Context, ws *websocket.Conn, connected func()) {
	defer ws.Close()

	handleCtx, handleCancel := context.WithCancel(sessionCtx)
	defer handleCancel()

	extendReadDeadline := func() {
		ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
	}
	if 0 < self.settings.MaxMessageSize {
		ws.SetReadLimit(self.settings.MaxMessageSize)
	}
	extendReadDeadline()
	ws.SetPongHandler(func(string) error {
		extendReadDeadline()
		return nil
	})
	ws.SetPingHandler(func(appData string) error {
		extendReadDeadline()
		err := ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(self.settings.WriteTimeout))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})

	self.stateLock.Lock()
	self.activeWs = ws
	self.activeCtx = handleCtx
	self.stateLock.Unlock()
	defer func() {
		self.stateLock.Lock()
		if self.activeWs == ws {
			self.activeWs = nil
			self.activeCtx = nil
		}
		self.stateLock.Unlock()
	}()

	self.setSessionState(sessionCtx, Connected)
	connected()

	go HandleError(func() {
		defer handleCancel()

		for {
			if err := self.flush(handleCtx, ws); err != nil {
				// note that for websocket a deadline timeout cannot be recovered
				glog.Infof("[ts]write error = %s\n", err)
				return
			}
			select {
			case <-handleCtx.Done():
				return
			case <-self.queueNotify:
				if handleCtx.Err() != nil {
					// pass the notification on to the next connection
					self.notifyQueue()
					return
				}
			case <-time.After(self.settings.PingTimeout):
				err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(self.settings.WriteTimeout))
				if err != nil {
					glog.Infof("[ts]ping error = %s\n", err)
					return
				}
				glog.V(2).Infof("[ts]ping->\n")
			}
		}
	}, func(err error) {
		handleCancel()
	})

	go HandleError(func() {
		defer handleCancel()

		for {
			messageType, data, err := ws.ReadMessage()
			if err != nil {
				if handleCtx.Err() == nil {
					glog.Infof("[tr]<- error = %s\n", err)
				}
				return
			}
			extendReadDeadline()

			switch messageType {
			case websocket.TextMessage, websocket.BinaryMessage:
				glog.V(2).Infof("[tr]<- %d bytes\n", len(data))
				self.Dispatch(data)
			default:
				glog.V(2).Infof("[tr]other=%d<-\n", messageType)
			}
		}
	}, func(err error) {
		handleCancel()
	})

	select {
	case <-handleCtx.Done():
	}

	if sessionCtx.Err() != nil {
		// leaving. Tell the relay rather than letting the read deadline expire.
		ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(self.settings.WriteTimeout),
		)
	}
}

// writes queued messages in order
// The write lock is held from peek to pop, so a connection being replaced and
// its successor never write the same message.
func (self *Transport) flush(handleCtx context.Context, ws *websocket.Conn) error {
	for {
		err, more := func() (error, bool) {
			self.writeLock.Lock()
			defer self.writeLock.Unlock()

			if handleCtx.Err() != nil {
				return nil, false
			}
			message, ok := self.peek()
			if !ok {
				return nil, false
			}
			ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
			if err := ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return err, false
			}
			self.pop()
			glog.V(2).Infof("[ts]-> %d bytes\n", len(message))
			return nil, true
		}()
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
}

func (self *Transport) peek() ([]byte, bool) {
	self.queueLock.Lock()
	defer self.queueLock.Unlock()
	if len(self.queue) == 0 {
		return nil, false
	}
	return self.queue[0], true
}

func (self *Transport) pop() {
	self.queueLock.Lock()
	defer self.queueLock.Unlock()
	if 0 < len(self.queue) {
		self.queue[0] = nil
		self.queue = self.queue[1:]
	}
}

func (self *Transport) clearQueue() {
	self.queueLock.Lock()
	defer self.queueLock.Unlock()
	if 0 < len(self.queue) {
		glog.Infof("[t]drop %d queued messages\n", len(self.queue))
	}
	self.queue = [][]byte{}
}

// number of messages waiting to be written
func (self *Transport) QueueSize() int {
	self.queueLock.Lock()
	defer self.queueLock.Unlock()
	return len(self.queue)
}

// queues a document message
// The message is written in order by the current or next connection.
// Only encoding errors and a closed transport are reported.
func (self *Transport) Send(messageType MessageType, payload any) error {
	if self.ctx.Err() != nil {
		return ErrClosed
	}
	message, err := EncodeMessage(messageType, payload, self.instanceId)
	if err != nil {
		return err
	}

	func() {
		self.queueLock.Lock()
		defer self.queueLock.Unlock()
		self.queue = append(self.queue, message)
	}()

	self.notifyQueue()
	return nil
}

func (self *Transport) notifyQueue() {
	select {
	case self.queueNotify <- struct{}{}:
	default:
	}
}

// writes a presence message if connected, otherwise drops it
func (self *Transport) SendEphemeral(messageType MessageType, payload any) bool {
	self.stateLock.Lock()
	ws := self.activeWs
	activeCtx := self.activeCtx
	self.stateLock.Unlock()
	if ws == nil {
		glog.V(2).Infof("[ts]drop %s, not connected\n", messageType)
		return false
	}

	message, err := EncodeMessage(messageType, payload, self.instanceId)
	if err != nil {
		glog.Infof("[ts]drop %s = %s\n", messageType, err)
		return false
	}

	self.writeLock.Lock()
	defer self.writeLock.Unlock()

	if activeCtx.Err() != nil {
		return false
	}
	ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
	if err := ws.WriteMessage(websocket.TextMessage, message); err != nil {
		glog.Infof("[ts]%s-> error = %s\n", messageType, err)
		return false
	}
	return true
}

// registers a handler for one message type
// Handlers run on the receive goroutine in registration order.
func (self *Transport) On(messageType MessageType, handler MessageHandler) func() {
	self.handlersLock.Lock()
	defer self.handlersLock.Unlock()

	handlers, ok := self.handlers[messageType]
	if !ok {
		handlers = NewCallbackList[MessageHandler]()
		self.handlers[messageType] = handlers
	}
	return handlers.Add(handler)
}

// decodes one inbound frame and passes it to the handlers for its type
// Echoes of this transport's own messages and malformed frames are dropped.
func (self *Transport) Dispatch(data []byte) {
	message, err := DecodeMessage(data)
	if err != nil {
		glog.Infof("[tr]drop malformed message = %s\n", err)
		return
	}
	if message.SenderId != "" && message.SenderId == self.instanceId.String() {
		glog.V(2).Infof("[tr]drop echo %s\n", message.Type)
		return
	}

	self.handlersLock.Lock()
	handlers, ok := self.handlers[message.Type]
	self.handlersLock.Unlock()
	if !ok || handlers.Len() == 0 {
		glog.V(2).Infof("[tr]no handler for %s\n", message.Type)
		return
	}

	for _, handler := range handlers.Get() {
		HandleError(func() {
			handler(message)
		})
	}
}

// starts reconnecting again after the attempts were exhausted
func (self *Transport) Retry() bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if self.state != Failed || self.retry == nil {
		return false
	}
	select {
	case self.retry <- struct{}{}:
	default:
	}
	return true
}

// closes the current connection, if any. Queued messages are kept for the next
// connection to the same room.
func (self *Transport) Leave() {
	self.stateLock.Lock()
	sessionCancel := self.sessionCancel
	self.sessionCancel = nil
	self.retry = nil
	self.args = nil
	self.stateLock.Unlock()

	if sessionCancel != nil {
		sessionCancel()
		self.setState(Disconnected)
	}
}

func (self *Transport) Close() {
	self.Leave()
	self.cancel()
}

// updates the state only if the session is still the current one
func (self *Transport) setSessionState(sessionCtx context.Context, state ConnectionState) {
	changed := func() bool {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		if sessionCtx.Err() != nil {
			return false
		}
		if self.state == state {
			return false
		}
		self.state = state
		return true
	}()
	if changed {
		self.notifyState(state)
	}
}

func (self *Transport) setState(state ConnectionState) {
	changed := func() bool {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		if self.state == state {
			return false
		}
		self.state = state
		return true
	}()
	if changed {
		self.notifyState(state)
	}
}

func (self *Transport) notifyState(state ConnectionState) {
	glog.V(1).Infof("[t]state %s\n", state)
	for _, callback := range self.connectionStateCallbacks.Get() {
		HandleError(func() {
			callback(state)
		})
	}
}
