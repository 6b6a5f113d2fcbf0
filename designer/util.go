package designer

import (
	"sync"
	"time"
)

type callbackEntry[T any] struct {
	id       uint64
	callback T
}

// makes a copy of the list on update, so `Get` can be iterated without holding the lock
// functions are not comparable, so each add returns its own remove function
type CallbackList[T any] struct {
	mutex   sync.Mutex
	nextId  uint64
	entries []callbackEntry[T]
}

func NewCallbackList[T any]() *CallbackList[T] {
	return &CallbackList[T]{
		entries: []callbackEntry[T]{},
	}
}

func (self *CallbackList[T]) Get() []T {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	callbacks := make([]T, 0, len(self.entries))
	for _, entry := range self.entries {
		callbacks = append(callbacks, entry.callback)
	}
	return callbacks
}

func (self *CallbackList[T]) Len() int {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return len(self.entries)
}

func (self *CallbackList[T]) Add(callback T) (remove func()) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	id := self.nextId
	self.nextId += 1
	nextEntries := make([]callbackEntry[T], 0, len(self.entries)+1)
	nextEntries = append(nextEntries, self.entries...)
	nextEntries = append(nextEntries, callbackEntry[T]{
		id:       id,
		callback: callback,
	})
	self.entries = nextEntries

	var once sync.Once
	return func() {
		once.Do(func() {
			self.remove(id)
		})
	}
}

func (self *CallbackList[T]) remove(id uint64) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	nextEntries := make([]callbackEntry[T], 0, len(self.entries))
	for _, entry := range self.entries {
		if entry.id != id {
			nextEntries = append(nextEntries, entry)
		}
	}
	self.entries = nextEntries
}

// exponential backoff between connection attempts
// each `After` doubles the next timeout, up to `maxTimeout`
type Reconnect struct {
	timeout    time.Duration
	maxTimeout time.Duration
	attempts   int
}

func NewReconnect(timeout time.Duration, maxTimeout time.Duration) *Reconnect {
	if maxTimeout < timeout {
		maxTimeout = timeout
	}
	return &Reconnect{
		timeout:    timeout,
		maxTimeout: maxTimeout,
	}
}

func (self *Reconnect) Timeout() time.Duration {
	timeout := self.timeout
	for i := 0; i < self.attempts && timeout < self.maxTimeout; i += 1 {
		timeout *= 2
	}
	return min(timeout, self.maxTimeout)
}

func (self *Reconnect) After() <-chan time.Time {
	timeout := self.Timeout()
	self.attempts += 1
	return time.After(timeout)
}

func (self *Reconnect) Attempts() int {
	return self.attempts
}

func (self *Reconnect) Reset() {
	self.attempts = 0
}
