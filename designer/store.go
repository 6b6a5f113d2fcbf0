package designer

import (
	"errors"
	"fmt"
	"sync"

	"github.com/golang/glog"
)

type Origin int

const (
	OriginLocal Origin = iota
	OriginRemote
)

func (self Origin) String() string {
	switch self {
	case OriginLocal:
		return "local"
	case OriginRemote:
		return "remote"
	default:
		return fmt.Sprintf("origin(%d)", int(self))
	}
}

var duplicateLog = SubLogFn(LogFn(1, "s"), "duplicate")

// satisfied by `*Transport`
type Broadcaster interface {
	Send(messageType MessageType, payload any) error
}

// store changes that never go on the wire
const (
	ChangeSelect   MessageType = "select"
	ChangeNavigate MessageType = "navigate"
	ChangeMove     MessageType = MessageTypeComponentMoved
	ChangeImport   MessageType = "import"
)

type ChangeEvent struct {
	Change   MessageType
	ScreenId string
	Origin   Origin
}

type ChangeFunction func(event ChangeEvent)

type StoreSettings struct {
	HistoryLimit      int
	InitialScreenId   string
	InitialScreenName string
}

func DefaultStoreSettings() *StoreSettings {
	return &StoreSettings{
		HistoryLimit:      DefaultHistoryLimit,
		InitialScreenId:   "screen-1",
		InitialScreenName: "Home",
	}
}

// the local copy of the design document
//
// Local operations apply to the current screen and broadcast the operation.
// Remote operations name their screen, never broadcast, and skip duplicate adds.
// Both go through `apply`, so the two paths cannot drift apart.
type Store struct {
	broadcaster Broadcaster
	settings    *StoreSettings

	stateLock sync.Mutex
	// insertion order is tab order
	screens         []*Screen
	histories       map[string]*History
	currentScreenId string
	selectedId      string

	changeCallbacks *CallbackList[ChangeFunction]
}

func NewStoreWithDefaults(broadcaster Broadcaster) *Store {
	return NewStore(broadcaster, DefaultStoreSettings())
}

// `broadcaster` may be nil for an offline store
func NewStore(broadcaster Broadcaster, settings *StoreSettings) *Store {
	initialScreen := &Screen{
		Id:       settings.InitialScreenId,
		Name:     settings.InitialScreenName,
		Elements: []*DesignElement{},
	}
	return &Store{
		broadcaster: broadcaster,
		settings:    settings,
		screens:     []*Screen{initialScreen},
		histories: map[string]*History{
			initialScreen.Id: NewHistory(initialScreen.Elements, settings.HistoryLimit),
		},
		currentScreenId: initialScreen.Id,
		changeCallbacks: NewCallbackList[ChangeFunction](),
	}
}

func (self *Store) AddChangeCallback(callback ChangeFunction) func() {
	return self.changeCallbacks.Add(callback)
}

// local operations

func (self *Store) AddElement(componentType ComponentType, x float64, y float64) (*DesignElement, error) {
	element, err := NewDesignElement(componentType, x, y)
	if err != nil {
		glog.Infof("[s]add element = %s\n", err)
		return nil, err
	}
	if err := self.apply(&ElementAdd{Element: element}, OriginLocal); err != nil {
		glog.Infof("[s]add element = %s\n", err)
		return nil, err
	}
	return element.Clone(), nil
}

func (self *Store) UpdateElement(id string, updates ElementUpdates) error {
	return self.apply(&ElementUpdate{Id: id, Updates: updates}, OriginLocal)
}

func (self *Store) UpdateElementProperties(id string, properties Properties) error {
	return self.apply(&ElementUpdate{Id: id, Updates: ElementUpdates{Properties: properties}}, OriginLocal)
}

func (self *Store) RemoveElement(id string) error {
	return self.apply(&ElementRemove{Id: id}, OriginLocal)
}

// undo and redo at the ends of the history are no-ops and broadcast nothing
func (self *Store) Undo() error {
	return self.apply(&ScreenUndo{}, OriginLocal)
}

func (self *Store) Redo() error {
	return self.apply(&ScreenRedo{}, OriginLocal)
}

func (self *Store) ClearCanvas() error {
	return self.apply(&ScreenClear{}, OriginLocal)
}

// returns the new screen id. The new screen becomes the current screen.
func (self *Store) AddScreen(name string) (string, error) {
	screen := &Screen{
		Id:       NewScreenId(),
		Name:     name,
		Elements: []*DesignElement{},
	}
	if err := self.apply(&ScreenAdd{Screen: screen}, OriginLocal); err != nil {
		return "", err
	}
	return screen.Id, nil
}

// adds a screen pre-populated with generated elements
// Each element gets a fresh id, zero sizes take the defaults for the type, and
// properties are merged over the type defaults. Nesting is not allowed for
// generated content, so children are dropped.
func (self *Store) AddScreenFromGenerated(name string, elements []*DesignElement) (string, error) {
	screen := &Screen{
		Id:       NewScreenId(),
		Name:     name,
		Elements: make([]*DesignElement, 0, len(elements)),
	}
	for _, generated := range elements {
		if generated == nil {
			continue
		}
		if !generated.Type.Valid() {
			return "", fmt.Errorf("%w: %s", ErrUnknownComponentType, generated.Type)
		}
		if 0 < len(generated.Children) {
			glog.Infof("[s]generated %s has %d children, dropped\n", generated.Type, len(generated.Children))
		}
		element := &DesignElement{
			Id:         NewElementId(),
			Type:       generated.Type,
			X:          generated.X,
			Y:          generated.Y,
			Width:      generated.Width,
			Height:     generated.Height,
			Properties: DefaultProperties(generated.Type),
			Children:   []*DesignElement{},
		}
		size := DefaultSize(generated.Type)
		if element.Width <= 0 {
			element.Width = size.Width
		}
		if element.Height <= 0 {
			element.Height = size.Height
		}
		for key, value := range NormalizeProperties(generated.Properties) {
			element.Properties[key] = value
		}
		screen.Elements = append(screen.Elements, element)
	}
	if err := self.apply(&ScreenAdd{Screen: screen}, OriginLocal); err != nil {
		return "", err
	}
	return screen.Id, nil
}

func (self *Store) RenameScreen(id string, name string) error {
	return self.apply(&ScreenRename{Id: id, Name: name}, OriginLocal)
}

// refuses with `ErrLastScreen` when only one screen is left
func (self *Store) DeleteScreen(id string) error {
	return self.apply(&ScreenDelete{Id: id}, OriginLocal)
}

// remote

// applies an operation received from a peer. Never broadcasts.
// Operations are validated first, so a bad payload changes nothing.
func (self *Store) ApplyRemote(op Operation) error {
	if op == nil {
		return errors.New("missing operation")
	}
	if err := validateOperation(op); err != nil {
		return err
	}
	return self.apply(op, OriginRemote)
}

func (self *Store) apply(op Operation, origin Origin) error {
	var event *ChangeEvent
	var err error
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		event, err = self.mutate(op, origin)
		if err != nil || event == nil {
			return
		}
		// send while holding the lock so the outbound order matches the apply order
		if origin == OriginLocal && self.broadcaster != nil {
			if sendErr := self.broadcaster.Send(op.MessageType(), op); sendErr != nil {
				glog.Infof("[s]broadcast %s error = %s\n", op.MessageType(), sendErr)
			}
		}
	}()
	if event != nil {
		self.notify(*event)
	}
	return err
}

// returns a nil event when nothing changed
func (self *Store) mutate(op Operation, origin Origin) (*ChangeEvent, error) {
	switch v := op.(type) {
	case *ElementAdd:
		screen, err := self.resolveScreen(&v.ScreenId, origin)
		if err != nil {
			return nil, err
		}
		if v.Element == nil {
			return nil, errors.New("missing element")
		}
		if screen.Element(v.Element.Id) != nil {
			// double delivery
			duplicateLog("%s element %s\n", origin, v.Element.Id)
			return nil, nil
		}
		screen.Elements = append(screen.Elements, v.Element.Clone())
		self.pushHistory(screen)
		if origin == OriginLocal {
			self.selectedId = v.Element.Id
		}
		return self.event(v, screen.Id, origin), nil

	case *ElementUpdate:
		screen, err := self.resolveScreen(&v.ScreenId, origin)
		if err != nil {
			return nil, err
		}
		element := screen.Element(v.Id)
		if element == nil {
			return nil, fmt.Errorf("%w: %s", ErrElementNotFound, v.Id)
		}
		if v.Updates.IsEmpty() {
			// nothing to record or send
			return nil, nil
		}
		element.applyUpdates(&v.Updates)
		self.pushHistory(screen)
		return self.event(v, screen.Id, origin), nil

	case *ElementRemove:
		screen, err := self.resolveScreen(&v.ScreenId, origin)
		if err != nil {
			return nil, err
		}
		i := indexOfElement(screen.Elements, v.Id)
		if i < 0 {
			return nil, fmt.Errorf("%w: %s", ErrElementNotFound, v.Id)
		}
		nextElements := make([]*DesignElement, 0, len(screen.Elements)-1)
		nextElements = append(nextElements, screen.Elements[:i]...)
		nextElements = append(nextElements, screen.Elements[i+1:]...)
		screen.Elements = nextElements
		if self.selectedId == v.Id {
			self.selectedId = ""
		}
		self.pushHistory(screen)
		return self.event(v, screen.Id, origin), nil

	case *ScreenAdd:
		if v.Screen == nil {
			return nil, errors.New("missing screen")
		}
		if self.screen(v.Screen.Id) != nil {
			duplicateLog("%s screen %s\n", origin, v.Screen.Id)
			return nil, nil
		}
		screen := v.Screen.Clone()
		if screen.Elements == nil {
			screen.Elements = []*DesignElement{}
		}
		self.screens = append(self.screens, screen)
		self.histories[screen.Id] = NewHistory(screen.Elements, self.settings.HistoryLimit)
		if origin == OriginLocal {
			self.currentScreenId = screen.Id
			self.selectedId = ""
		}
		return self.event(v, screen.Id, origin), nil

	case *ScreenRename:
		screen := self.screen(v.Id)
		if screen == nil {
			return nil, fmt.Errorf("%w: %s", ErrScreenNotFound, v.Id)
		}
		screen.Name = v.Name
		return self.event(v, screen.Id, origin), nil

	case *ScreenDelete:
		i := self.indexOfScreen(v.Id)
		if i < 0 {
			return nil, fmt.Errorf("%w: %s", ErrScreenNotFound, v.Id)
		}
		if len(self.screens) <= 1 {
			return nil, ErrLastScreen
		}
		deleted := self.screens[i]
		nextScreens := make([]*Screen, 0, len(self.screens)-1)
		nextScreens = append(nextScreens, self.screens[:i]...)
		nextScreens = append(nextScreens, self.screens[i+1:]...)
		self.screens = nextScreens
		delete(self.histories, v.Id)
		if self.currentScreenId == v.Id {
			self.currentScreenId = self.screens[0].Id
			self.selectedId = ""
		} else if deleted.Element(self.selectedId) != nil {
			self.selectedId = ""
		}
		return self.event(v, v.Id, origin), nil

	case *ScreenClear:
		screen, err := self.resolveScreen(&v.ScreenId, origin)
		if err != nil {
			return nil, err
		}
		if screen.Element(self.selectedId) != nil {
			self.selectedId = ""
		}
		screen.Elements = []*DesignElement{}
		self.pushHistory(screen)
		return self.event(v, screen.Id, origin), nil

	case *ScreenUndo:
		return self.restore(v, &v.ScreenSnapshot, origin, (*History).Undo)

	case *ScreenRedo:
		return self.restore(v, &v.ScreenSnapshot, origin, (*History).Redo)

	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownMessageType, op)
	}
}

// Local: steps the history and fills the snapshot for the broadcast.
// Remote: replaces the elements with the peer's snapshot and records it as a new state.
func (self *Store) restore(
	op Operation,
	snapshot *ScreenSnapshot,
	origin Origin,
	step func(*History) ([]*DesignElement, bool),
) (*ChangeEvent, error) {
	screen, err := self.resolveScreen(&snapshot.ScreenId, origin)
	if err != nil {
		return nil, err
	}
	switch origin {
	case OriginLocal:
		elements, ok := step(self.history(screen.Id))
		if !ok {
			return nil, nil
		}
		screen.Elements = elements
		snapshot.Elements = cloneElements(elements)
		self.selectedId = ""
	default:
		screen.Elements = snapshotOf(snapshot.Elements)
		self.pushHistory(screen)
		if self.selectedId != "" && self.findElement(self.selectedId) == nil {
			self.selectedId = ""
		}
	}
	return self.event(op, screen.Id, origin), nil
}

// local operations leave the screen id empty and target the current screen.
// The resolved id is written back so the broadcast names it.
func (self *Store) resolveScreen(screenId *string, origin Origin) (*Screen, error) {
	if *screenId == "" && origin == OriginLocal {
		*screenId = self.currentScreenId
	}
	screen := self.screen(*screenId)
	if screen == nil {
		return nil, fmt.Errorf("%w: %q", ErrScreenNotFound, *screenId)
	}
	return screen, nil
}

func (self *Store) event(op Operation, screenId string, origin Origin) *ChangeEvent {
	return &ChangeEvent{
		Change:   op.MessageType(),
		ScreenId: screenId,
		Origin:   origin,
	}
}

func (self *Store) notify(event ChangeEvent) {
	for _, callback := range self.changeCallbacks.Get() {
		HandleError(func() {
			callback(event)
		})
	}
}

func (self *Store) screen(id string) *Screen {
	if i := self.indexOfScreen(id); 0 <= i {
		return self.screens[i]
	}
	return nil
}

func (self *Store) indexOfScreen(id string) int {
	for i, screen := range self.screens {
		if screen.Id == id {
			return i
		}
	}
	return -1
}

func (self *Store) findElement(id string) *DesignElement {
	for _, screen := range self.screens {
		if element := screen.Element(id); element != nil {
			return element
		}
	}
	return nil
}

func (self *Store) history(screenId string) *History {
	history, ok := self.histories[screenId]
	if !ok {
		history = NewHistory([]*DesignElement{}, self.settings.HistoryLimit)
		self.histories[screenId] = history
	}
	return history
}

func (self *Store) pushHistory(screen *Screen) {
	self.history(screen.Id).Push(screen.Elements)
}

// selection and navigation are local only

func (self *Store) Select(id string) error {
	self.stateLock.Lock()
	screen := self.screen(self.currentScreenId)
	if screen == nil || screen.Element(id) == nil {
		self.stateLock.Unlock()
		return fmt.Errorf("%w: %s", ErrElementNotFound, id)
	}
	self.selectedId = id
	screenId := screen.Id
	self.stateLock.Unlock()

	self.notify(ChangeEvent{Change: ChangeSelect, ScreenId: screenId, Origin: OriginLocal})
	return nil
}

func (self *Store) ClearSelection() {
	self.stateLock.Lock()
	self.selectedId = ""
	screenId := self.currentScreenId
	self.stateLock.Unlock()

	self.notify(ChangeEvent{Change: ChangeSelect, ScreenId: screenId, Origin: OriginLocal})
}

// switches the current screen only if `id` exists
func (self *Store) NavigateToScreen(id string) error {
	self.stateLock.Lock()
	if self.screen(id) == nil {
		self.stateLock.Unlock()
		return fmt.Errorf("%w: %s", ErrScreenNotFound, id)
	}
	changed := self.currentScreenId != id
	self.currentScreenId = id
	if changed {
		self.selectedId = ""
	}
	self.stateLock.Unlock()

	if changed {
		self.notify(ChangeEvent{Change: ChangeNavigate, ScreenId: id, Origin: OriginLocal})
	}
	return nil
}

// the "button navigateTo" interaction
// returns true when the element is a button with a target and navigation happened
func (self *Store) ActivateElement(id string) (bool, error) {
	element := self.currentElement(id)
	if element == nil {
		return false, fmt.Errorf("%w: %s", ErrElementNotFound, id)
	}
	if element.Type != ComponentTypeButton {
		return false, nil
	}
	buttonProperties, err := ButtonPropertiesOf(element.Properties)
	if err != nil {
		return false, err
	}
	if buttonProperties.NavigateTo == "" {
		return false, nil
	}
	if err := self.NavigateToScreen(buttonProperties.NavigateTo); err != nil {
		return false, err
	}
	return true, nil
}

// drag positions. Not recorded in history, so intermediate drag states do not
// flood the undo stack, and not broadcast as a document operation.

func (self *Store) MoveElement(id string, position Position) error {
	return self.setElementPosition(id, position, OriginLocal)
}

// the presence path for a peer's drag. Searches every screen.
func (self *Store) ApplyElementPosition(id string, position Position) error {
	return self.setElementPosition(id, position, OriginRemote)
}

func (self *Store) setElementPosition(id string, position Position, origin Origin) error {
	self.stateLock.Lock()
	var screenId string
	var element *DesignElement
	for _, screen := range self.screens {
		if element = screen.Element(id); element != nil {
			screenId = screen.Id
			break
		}
	}
	if element == nil {
		self.stateLock.Unlock()
		return fmt.Errorf("%w: %s", ErrElementNotFound, id)
	}
	element.X = position.X
	element.Y = position.Y
	self.stateLock.Unlock()

	self.notify(ChangeEvent{Change: ChangeMove, ScreenId: screenId, Origin: origin})
	return nil
}

// reads. All returned values are copies.

func (self *Store) Screens() []*Screen {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	screens := make([]*Screen, len(self.screens))
	for i, screen := range self.screens {
		screens[i] = screen.Clone()
	}
	return screens
}

func (self *Store) Screen(id string) (*Screen, bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	screen := self.screen(id)
	if screen == nil {
		return nil, false
	}
	return screen.Clone(), true
}

func (self *Store) CurrentScreenId() string {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.currentScreenId
}

func (self *Store) CurrentScreen() *Screen {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.screen(self.currentScreenId).Clone()
}

func (self *Store) Element(id string) *DesignElement {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.findElement(id).Clone()
}

func (self *Store) currentElement(id string) *DesignElement {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	screen := self.screen(self.currentScreenId)
	if screen == nil {
		return nil
	}
	return screen.Element(id).Clone()
}

// the selected element as it is now, or nil
func (self *Store) Selected() *DesignElement {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if self.selectedId == "" {
		return nil
	}
	return self.findElement(self.selectedId).Clone()
}

func (self *Store) HistoryIndex(screenId string) (int, bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	history, ok := self.histories[screenId]
	if !ok {
		return 0, false
	}
	return history.Index(), true
}

func (self *Store) HistoryLen(screenId string) (int, bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	history, ok := self.histories[screenId]
	if !ok {
		return 0, false
	}
	return history.Len(), true
}

func (self *Store) CanUndo() bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.history(self.currentScreenId).CanUndo()
}

func (self *Store) CanRedo() bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.history(self.currentScreenId).CanRedo()
}

// the saved form of a design, as stored by the project service
type Project struct {
	Name          string     `json:"name"`
	Screens       []*Screen  `json:"screens"`
	DeviceDefault DeviceType `json:"deviceDefault"`
}

func (self *Store) Export(name string, device DeviceType) *Project {
	return &Project{
		Name:          name,
		Screens:       self.Screens(),
		DeviceDefault: device,
	}
}

// replaces the whole document. Not broadcast.
// Histories restart with the imported elements as their only state.
func (self *Store) Import(project *Project) error {
	if project == nil {
		return errors.New("missing project")
	}
	screens := []*Screen{}
	seen := map[string]bool{}
	for _, screen := range project.Screens {
		if screen == nil || screen.Id == "" {
			return errors.New("screen missing id")
		}
		if seen[screen.Id] {
			return fmt.Errorf("duplicate screen %s", screen.Id)
		}
		seen[screen.Id] = true
		if err := validateElements(screen.Elements); err != nil {
			return fmt.Errorf("screen %s: %w", screen.Id, err)
		}
		clone := screen.Clone()
		if clone.Elements == nil {
			clone.Elements = []*DesignElement{}
		}
		screens = append(screens, clone)
	}
	if len(screens) == 0 {
		screens = append(screens, &Screen{
			Id:       self.settings.InitialScreenId,
			Name:     self.settings.InitialScreenName,
			Elements: []*DesignElement{},
		})
	}

	self.stateLock.Lock()
	self.screens = screens
	self.histories = map[string]*History{}
	for _, screen := range screens {
		self.histories[screen.Id] = NewHistory(screen.Elements, self.settings.HistoryLimit)
	}
	self.currentScreenId = screens[0].Id
	self.selectedId = ""
	self.stateLock.Unlock()

	self.notify(ChangeEvent{Change: ChangeImport, ScreenId: screens[0].Id, Origin: OriginLocal})
	return nil
}
