package designer

import (
	"context"
	"fmt"
	"testing"

	"github.com/go-playground/assert/v2"
)

// a client whose transport never connects. Outbound frames stay queued and
// are delivered by hand with `deliver`.
type testClient struct {
	transport  *Transport
	store      *Store
	reconciler *Reconciler
}

func newTestClient(ctx context.Context) *testClient {
	transport := NewTransportWithDefaults(ctx, "ws://127.0.0.1:0/ws/connect")
	store := NewStoreWithDefaults(transport)
	return &testClient{
		transport:  transport,
		store:      store,
		reconciler: NewReconciler(transport, store),
	}
}

// takes every queued outbound frame
func (self *testClient) drain() [][]byte {
	frames := [][]byte{}
	for {
		frame, ok := self.transport.peek()
		if !ok {
			return frames
		}
		self.transport.pop()
		frames = append(frames, frame)
	}
}

func deliver(frames [][]byte, clients ...*testClient) {
	for _, client := range clients {
		for _, frame := range frames {
			client.transport.Dispatch(frame)
		}
	}
}

func TestReconcileConverges(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := newTestClient(ctx)
	b := newTestClient(ctx)

	button, _ := a.store.AddElement(ComponentTypeButton, 40, 60)
	a.store.AddElement(ComponentTypeCheckboxWithLabel, 0, 80)
	a.store.UpdateElementProperties(button.Id, Properties{"text": "Save"})
	screenId, _ := a.store.AddScreen("Details")
	a.store.AddElement(ComponentTypeChatMessage, 0, 0)
	a.store.Undo()
	a.store.RenameScreen(screenId, "More")
	deliver(a.drain(), b)

	assert.Equal(t, a.store.Screens(), b.store.Screens())

	a.store.NavigateToScreen("screen-1")
	b.store.NavigateToScreen(screenId)
	b.store.AddElement(ComponentTypeRadio, 3, 3)
	b.store.DeleteScreen("screen-1")
	deliver(b.drain(), a)

	assert.Equal(t, a.store.Screens(), b.store.Screens())
	assert.Equal(t, 1, len(a.store.Screens()))
	// a was on the deleted screen
	assert.Equal(t, screenId, a.store.CurrentScreenId())
}

func TestReconcileIdempotentAdd(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := newTestClient(ctx)
	b := newTestClient(ctx)

	a.store.AddElement(ComponentTypeButton, 0, 0)
	frames := a.drain()
	deliver(frames, b)
	deliver(frames, b)

	assert.Equal(t, 1, len(b.store.CurrentScreen().Elements))
	n, _ := b.store.HistoryLen("screen-1")
	assert.Equal(t, 2, n)
}

func TestReconcileEchoSuppressed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := newTestClient(ctx)
	a.store.AddElement(ComponentTypeButton, 0, 0)
	a.store.ClearCanvas()

	n, _ := a.store.HistoryLen("screen-1")
	// the relay sends everything back to its sender
	deliver(a.drain(), a)

	assert.Equal(t, 0, len(a.store.CurrentScreen().Elements))
	n2, _ := a.store.HistoryLen("screen-1")
	assert.Equal(t, n, n2)
	assert.Equal(t, 0, a.transport.QueueSize())
}

// concurrent edits of one field settle on whichever arrives last at each client
func TestReconcileLastWriterWins(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := newTestClient(ctx)
	b := newTestClient(ctx)
	c := newTestClient(ctx)

	element, _ := a.store.AddElement(ComponentTypeLabel, 0, 0)
	deliver(a.drain(), b, c)

	a.store.UpdateElementProperties(element.Id, Properties{"text": "from a"})
	b.store.UpdateElementProperties(element.Id, Properties{"text": "from b"})
	fromA := a.drain()
	fromB := b.drain()

	deliver(fromA, c)
	deliver(fromB, c)
	assert.Equal(t, "from b", c.store.Element(element.Id).Properties.String("text"))

	deliver(fromB, a)
	deliver(fromA, b)
	assert.Equal(t, "from b", a.store.Element(element.Id).Properties.String("text"))
	assert.Equal(t, "from a", b.store.Element(element.Id).Properties.String("text"))
}

// concurrent edits of different fields of one element both survive
func TestReconcileFieldMerge(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := newTestClient(ctx)
	b := newTestClient(ctx)

	element, _ := a.store.AddElement(ComponentTypeButton, 0, 0)
	deliver(a.drain(), b)

	a.store.UpdateElement(element.Id, MoveTo(100, 200))
	b.store.UpdateElementProperties(element.Id, Properties{"color": "#000000"})
	fromA := a.drain()
	fromB := b.drain()
	deliver(fromB, a)
	deliver(fromA, b)

	for _, client := range []*testClient{a, b} {
		merged := client.store.Element(element.Id)
		assert.Equal(t, Position{X: 100, Y: 200}, merged.Position())
		assert.Equal(t, "#000000", merged.Properties.String("color"))
		assert.Equal(t, "Button", merged.Properties.String("text"))
	}
	assert.Equal(t, a.store.Screens(), b.store.Screens())
}

func TestReconcileDropsMalformed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := newTestClient(ctx)
	a.store.AddElement(ComponentTypeButton, 0, 0)
	a.drain()
	before := a.store.Screens()

	a.transport.Dispatch([]byte(`not json`))
	a.transport.Dispatch([]byte(`{"payload":{}}`))
	a.transport.Dispatch([]byte(`{"type":"ELEMENT_ADD"}`))
	a.transport.Dispatch([]byte(`{"type":"ELEMENT_ADD","payload":{"screenId":"screen-1"}}`))
	a.transport.Dispatch([]byte(`{"type":"ELEMENT_ADD","payload":{"screenId":"screen-1","element":{"id":"x","type":"slider"}}}`))
	a.transport.Dispatch([]byte(`{"type":"ELEMENT_UPDATE","payload":{"screenId":"screen-1","id":"missing","updates":{"x":1}}}`))
	a.transport.Dispatch([]byte(`{"type":"SCREEN_DELETE","payload":{"id":"screen-1"}}`))
	a.transport.Dispatch([]byte(`{"type":"SOMETHING_NEW","payload":{}}`))
	a.transport.Dispatch([]byte(`{"type":"ELEMENT_REMOVE","payload":"wrong shape"}`))

	assert.Equal(t, before, a.store.Screens())
	assert.Equal(t, 0, a.transport.QueueSize())
}

func TestReconcileDropsBadSnapshot(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := newTestClient(ctx)
	a.store.AddElement(ComponentTypeButton, 0, 0)
	a.drain()
	before := a.store.Screens()

	for _, messageType := range []string{"SCREEN_UNDO", "SCREEN_REDO"} {
		for _, elements := range []string{
			`[null]`,
			`[{"id":"","type":"button"}]`,
			`[{"id":"x","type":"slider"}]`,
			`[{"id":"x","type":"button"},{"id":"x","type":"label"}]`,
		} {
			a.transport.Dispatch([]byte(fmt.Sprintf(
				`{"type":"%s","payload":{"screenId":"screen-1","elements":%s},"senderId":"peer"}`,
				messageType,
				elements,
			)))
		}
	}
	assert.Equal(t, before, a.store.Screens())

	// local edits still work against the untouched screen
	element, err := a.store.AddElement(ComponentTypeButton, 1, 2)
	assert.Equal(t, err, nil)
	err = a.store.UpdateElement(element.Id, MoveTo(3, 4))
	assert.Equal(t, err, nil)
	err = a.store.RemoveElement(element.Id)
	assert.Equal(t, err, nil)
	assert.Equal(t, 1, len(a.store.CurrentScreen().Elements))
}

func TestReconcileDropsBadScreen(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := newTestClient(ctx)

	a.transport.Dispatch([]byte(`{"type":"SCREEN_ADD","payload":{"screen":{"id":"screen-2","name":"Two","elements":[null]}},"senderId":"peer"}`))
	a.transport.Dispatch([]byte(`{"type":"SCREEN_ADD","payload":{"screen":{"id":"screen-3","name":"Three","elements":[{"id":"x","type":"button"},{"id":"x","type":"button"}]}},"senderId":"peer"}`))
	assert.Equal(t, 1, len(a.store.Screens()))
	assert.NotEqual(t, a.store.NavigateToScreen("screen-2"), nil)
	assert.NotEqual(t, a.store.NavigateToScreen("screen-3"), nil)

	// a valid screen after the bad ones is applied and editable
	a.transport.Dispatch([]byte(`{"type":"SCREEN_ADD","payload":{"screen":{"id":"screen-4","name":"Four","elements":[{"id":"y","type":"label"}]}},"senderId":"peer"}`))
	assert.Equal(t, 2, len(a.store.Screens()))
	err := a.store.NavigateToScreen("screen-4")
	assert.Equal(t, err, nil)
	element, err := a.store.AddElement(ComponentTypeButton, 1, 2)
	assert.Equal(t, err, nil)
	err = a.store.RemoveElement(element.Id)
	assert.Equal(t, err, nil)
	assert.Equal(t, []string{"y"}, idsOf(a.store.CurrentScreen().Elements))
}

func TestReconcileHandlerPanicContained(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := newTestClient(ctx)
	b := newTestClient(ctx)

	b.transport.On(MessageTypeElementAdd, func(message *Message) {
		panic("bad handler")
	})
	received := 0
	b.transport.On(MessageTypeElementAdd, func(message *Message) {
		received += 1
	})

	a.store.AddElement(ComponentTypeButton, 0, 0)
	a.store.AddElement(ComponentTypeButton, 0, 0)
	deliver(a.drain(), b)

	assert.Equal(t, 2, received)
	assert.Equal(t, 2, len(b.store.CurrentScreen().Elements))
}

func TestReconcileClose(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := newTestClient(ctx)
	b := newTestClient(ctx)
	b.reconciler.Close()

	a.store.AddElement(ComponentTypeButton, 0, 0)
	deliver(a.drain(), b)
	assert.Equal(t, 0, len(b.store.CurrentScreen().Elements))
}
