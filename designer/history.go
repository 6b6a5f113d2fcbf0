package designer

const DefaultHistoryLimit = 50

// linear undo stack of full element snapshots for one screen
// invariant: 0 <= index < len(states)
type History struct {
	states [][]*DesignElement
	index  int
	limit  int
}

func NewHistory(initial []*DesignElement, limit int) *History {
	if limit < 1 {
		limit = 1
	}
	return &History{
		states: [][]*DesignElement{snapshotOf(initial)},
		index:  0,
		limit:  limit,
	}
}

// drops the redo tail, appends, and discards the oldest state past the limit
func (self *History) Push(elements []*DesignElement) {
	self.states = append(self.states[:self.index+1], snapshotOf(elements))
	if self.limit < len(self.states) {
		// copy so the discarded prefix can be collected
		self.states = append([][]*DesignElement{}, self.states[len(self.states)-self.limit:]...)
	}
	self.index = len(self.states) - 1
}

func (self *History) Undo() ([]*DesignElement, bool) {
	if self.index == 0 {
		return nil, false
	}
	self.index -= 1
	return cloneElements(self.states[self.index]), true
}

func (self *History) Redo() ([]*DesignElement, bool) {
	if self.index == len(self.states)-1 {
		return nil, false
	}
	self.index += 1
	return cloneElements(self.states[self.index]), true
}

func (self *History) CanUndo() bool {
	return 0 < self.index
}

func (self *History) CanRedo() bool {
	return self.index < len(self.states)-1
}

func (self *History) Index() int {
	return self.index
}

func (self *History) Len() int {
	return len(self.states)
}

func (self *History) Current() []*DesignElement {
	return cloneElements(self.states[self.index])
}

// snapshots never alias live elements
func snapshotOf(elements []*DesignElement) []*DesignElement {
	if elements == nil {
		return []*DesignElement{}
	}
	return cloneElements(elements)
}
