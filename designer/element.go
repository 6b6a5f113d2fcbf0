package designer

import (
	"fmt"
)

type ComponentType string

const (
	ComponentTypeButton            ComponentType = "button"
	ComponentTypeTextField         ComponentType = "textField"
	ComponentTypeCard              ComponentType = "card"
	ComponentTypeList              ComponentType = "list"
	ComponentTypeContainer         ComponentType = "container"
	ComponentTypeRow               ComponentType = "row"
	ComponentTypeColumn            ComponentType = "column"
	ComponentTypeStack             ComponentType = "stack"
	ComponentTypeSwitch            ComponentType = "switch"
	ComponentTypeCheckbox          ComponentType = "checkbox"
	ComponentTypeRadio             ComponentType = "radio"
	ComponentTypeChatInput         ComponentType = "chatInput"
	ComponentTypeChatMessage       ComponentType = "chatMessage"
	ComponentTypeDropdown          ComponentType = "dropdown"
	ComponentTypeInputWithLabel    ComponentType = "inputWithLabel"
	ComponentTypeSwitchWithLabel   ComponentType = "switchWithLabel"
	ComponentTypeRadioWithLabel    ComponentType = "radioWithLabel"
	ComponentTypeCheckboxWithLabel ComponentType = "checkboxWithLabel"
	ComponentTypeDynamicTable      ComponentType = "dynamicTable"
	ComponentTypeLabel             ComponentType = "label"
)

var ComponentTypes = []ComponentType{
	ComponentTypeButton,
	ComponentTypeTextField,
	ComponentTypeCard,
	ComponentTypeList,
	ComponentTypeContainer,
	ComponentTypeRow,
	ComponentTypeColumn,
	ComponentTypeStack,
	ComponentTypeSwitch,
	ComponentTypeCheckbox,
	ComponentTypeRadio,
	ComponentTypeChatInput,
	ComponentTypeChatMessage,
	ComponentTypeDropdown,
	ComponentTypeInputWithLabel,
	ComponentTypeSwitchWithLabel,
	ComponentTypeRadioWithLabel,
	ComponentTypeCheckboxWithLabel,
	ComponentTypeDynamicTable,
	ComponentTypeLabel,
}

func (self ComponentType) Valid() bool {
	for _, componentType := range ComponentTypes {
		if componentType == self {
			return true
		}
	}
	return false
}

func ParseComponentType(s string) (ComponentType, error) {
	componentType := ComponentType(s)
	if !componentType.Valid() {
		return "", fmt.Errorf("%w: %s", ErrUnknownComponentType, s)
	}
	return componentType, nil
}

// canvas-space pixels
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// field names match what browser clients put on the wire
type DesignElement struct {
	Id         string           `json:"id"`
	Type       ComponentType    `json:"type"`
	X          float64          `json:"x"`
	Y          float64          `json:"y"`
	Width      float64          `json:"width"`
	Height     float64          `json:"height"`
	Properties Properties       `json:"properties"`
	Children   []*DesignElement `json:"children"`
}

// a new element with a fresh id and the defaults for its type
func NewDesignElement(componentType ComponentType, x float64, y float64) (*DesignElement, error) {
	if !componentType.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownComponentType, componentType)
	}
	size := DefaultSize(componentType)
	return &DesignElement{
		Id:         NewElementId(),
		Type:       componentType,
		X:          x,
		Y:          y,
		Width:      size.Width,
		Height:     size.Height,
		Properties: DefaultProperties(componentType),
		Children:   []*DesignElement{},
	}, nil
}

func (self *DesignElement) Position() Position {
	return Position{X: self.X, Y: self.Y}
}

func (self *DesignElement) Size() Size {
	return Size{Width: self.Width, Height: self.Height}
}

func (self *DesignElement) Clone() *DesignElement {
	if self == nil {
		return nil
	}
	clone := *self
	clone.Properties = self.Properties.Clone()
	clone.Children = cloneElements(self.Children)
	return &clone
}

func (self *DesignElement) applyUpdates(updates *ElementUpdates) {
	if updates.X != nil {
		self.X = *updates.X
	}
	if updates.Y != nil {
		self.Y = *updates.Y
	}
	if updates.Width != nil {
		self.Width = *updates.Width
	}
	if updates.Height != nil {
		self.Height = *updates.Height
	}
	if 0 < len(updates.Properties) {
		if self.Properties == nil {
			self.Properties = Properties{}
		}
		for key, value := range NormalizeProperties(updates.Properties) {
			self.Properties[key] = value
		}
	}
}

// a partial update. Top level fields are replaced when set,
// properties are merged key by key, so concurrent edits to different fields of
// the same element from different clients all survive.
type ElementUpdates struct {
	X          *float64   `json:"x,omitempty"`
	Y          *float64   `json:"y,omitempty"`
	Width      *float64   `json:"width,omitempty"`
	Height     *float64   `json:"height,omitempty"`
	Properties Properties `json:"properties,omitempty"`
}

func Float64(v float64) *float64 {
	return &v
}

func MoveTo(x float64, y float64) ElementUpdates {
	return ElementUpdates{
		X: Float64(x),
		Y: Float64(y),
	}
}

func ResizeTo(width float64, height float64) ElementUpdates {
	return ElementUpdates{
		Width:  Float64(width),
		Height: Float64(height),
	}
}

func (self *ElementUpdates) IsEmpty() bool {
	return self.X == nil && self.Y == nil && self.Width == nil && self.Height == nil && len(self.Properties) == 0
}

// nil stays nil so local copies and copies decoded from the wire compare equal
func cloneElements(elements []*DesignElement) []*DesignElement {
	if elements == nil {
		return nil
	}
	clones := make([]*DesignElement, len(elements))
	for i, element := range elements {
		clones[i] = element.Clone()
	}
	return clones
}

func indexOfElement(elements []*DesignElement, id string) int {
	for i, element := range elements {
		if element != nil && element.Id == id {
			return i
		}
	}
	return -1
}

type Screen struct {
	Id       string           `json:"id"`
	Name     string           `json:"name"`
	Elements []*DesignElement `json:"elements"`
}

func (self *Screen) Clone() *Screen {
	if self == nil {
		return nil
	}
	return &Screen{
		Id:       self.Id,
		Name:     self.Name,
		Elements: cloneElements(self.Elements),
	}
}

func (self *Screen) Element(id string) *DesignElement {
	if i := indexOfElement(self.Elements, id); 0 <= i {
		return self.Elements[i]
	}
	return nil
}
