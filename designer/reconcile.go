package designer

import (
	"errors"

	"github.com/golang/glog"
)

// the subset of `*Transport` the reconciler and presence tracker use
type Channel interface {
	Broadcaster
	SendEphemeral(messageType MessageType, payload any) bool
	On(messageType MessageType, handler MessageHandler) func()
}

var skipLog = SubLogFn(LogFn(1, "r"), "skip")

// applies document messages from peers to the local store
//
// Echoes are dropped by the transport before they get here.
// Duplicate adds are ignored by the store. Everything else applies in arrival
// order, so the last update a client receives for a field wins.
type Reconciler struct {
	store   *Store
	removes []func()
}

func NewReconciler(channel Channel, store *Store) *Reconciler {
	reconciler := &Reconciler{
		store: store,
	}
	for _, messageType := range DocumentMessageTypes {
		reconciler.removes = append(reconciler.removes, channel.On(messageType, reconciler.receive))
	}
	return reconciler
}

func (self *Reconciler) receive(message *Message) {
	op, err := DecodeOperation(message)
	if err != nil {
		glog.Infof("[r]drop %s = %s\n", message.Type, err)
		return
	}
	if err := self.store.ApplyRemote(op); err != nil {
		if errors.Is(err, ErrScreenNotFound) || errors.Is(err, ErrElementNotFound) || errors.Is(err, ErrLastScreen) {
			// a peer acted on state this client no longer has
			skipLog("%s = %s\n", message.Type, err)
		} else {
			glog.Infof("[r]apply %s error = %s\n", message.Type, err)
		}
		return
	}
	glog.V(2).Infof("[r]applied %s from %s\n", message.Type, message.SenderId)
}

func (self *Reconciler) Close() {
	for _, remove := range self.removes {
		remove()
	}
	self.removes = nil
}
