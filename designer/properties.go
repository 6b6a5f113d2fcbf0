package designer

import (
	"encoding/json"
	"fmt"

	"github.com/golang/glog"
)

// type specific attributes of an element
// Values are always JSON native (string, float64, bool, nil, []any, map[string]any),
// so a local copy and the copy a peer decodes from the wire are deeply equal.
type Properties map[string]any

// converts any JSON encodable map into JSON native values
func NormalizeProperties(properties map[string]any) Properties {
	if properties == nil {
		return Properties{}
	}
	normalized, err := propertiesOf(properties)
	if err != nil {
		glog.Infof("[s]properties not encodable = %s\n", err)
		return Properties{}
	}
	return normalized
}

func propertiesOf(v any) (Properties, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	properties := Properties{}
	if err := json.Unmarshal(b, &properties); err != nil {
		return nil, err
	}
	return properties, nil
}

func mustPropertiesOf(v any) Properties {
	properties, err := propertiesOf(v)
	if err != nil {
		panic(err)
	}
	return properties
}

func (self Properties) Clone() Properties {
	if self == nil {
		return nil
	}
	clone := make(Properties, len(self))
	for key, value := range self {
		clone[key] = cloneValue(value)
	}
	return clone
}

func cloneValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		clone := make(map[string]any, len(v))
		for key, value := range v {
			clone[key] = cloneValue(value)
		}
		return clone
	case Properties:
		return v.Clone()
	case []any:
		clone := make([]any, len(v))
		for i, value := range v {
			clone[i] = cloneValue(value)
		}
		return clone
	default:
		return v
	}
}

func (self Properties) String(key string) string {
	if s, ok := self[key].(string); ok {
		return s
	}
	return ""
}

func (self Properties) Number(key string) (float64, bool) {
	n, ok := self[key].(float64)
	return n, ok
}

func (self Properties) Bool(key string) bool {
	b, _ := self[key].(bool)
	return b
}

// decodes properties into a typed view
// `arrayKeys` name sub-fields that older clients stored as JSON text; those are
// parsed back into arrays before decoding.
func decodeProperties[T any](properties Properties, arrayKeys ...string) (*T, error) {
	normalized := properties.Clone()
	for _, key := range arrayKeys {
		if s, ok := normalized[key].(string); ok {
			var array []any
			if s == "" {
				array = []any{}
			} else if err := json.Unmarshal([]byte(s), &array); err != nil {
				return nil, fmt.Errorf("property %s: %w", key, err)
			}
			normalized[key] = array
		}
	}
	b, err := json.Marshal(normalized)
	if err != nil {
		return nil, err
	}
	var view T
	if err := json.Unmarshal(b, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

type ButtonProperties struct {
	Text       string  `json:"text"`
	Variant    string  `json:"variant"`
	Rounded    bool    `json:"rounded"`
	Color      string  `json:"color"`
	TextColor  string  `json:"textColor"`
	Padding    float64 `json:"padding"`
	NavigateTo string  `json:"navigateTo"`
}

func ButtonPropertiesOf(properties Properties) (*ButtonProperties, error) {
	return decodeProperties[ButtonProperties](properties)
}

type Option struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

type DropdownProperties struct {
	Label           string   `json:"label"`
	Placeholder     string   `json:"placeholder"`
	Options         []Option `json:"options"`
	Value           string   `json:"value"`
	Required        bool     `json:"required"`
	Disabled        bool     `json:"disabled"`
	BorderColor     string   `json:"borderColor"`
	BackgroundColor string   `json:"backgroundColor"`
}

func DropdownPropertiesOf(properties Properties) (*DropdownProperties, error) {
	return decodeProperties[DropdownProperties](properties, "options")
}

type TableColumn struct {
	Id    string  `json:"id"`
	Title string  `json:"title"`
	Width float64 `json:"width"`
}

// column id -> cell value
type TableRow map[string]any

type DynamicTableProperties struct {
	Title        string        `json:"title"`
	Columns      []TableColumn `json:"columns"`
	Rows         []TableRow    `json:"data"`
	ShowHeader   bool          `json:"showHeader"`
	ShowBorder   bool          `json:"showBorder"`
	Striped      bool          `json:"striped"`
	HeaderColor  string        `json:"headerColor"`
	BorderColor  string        `json:"borderColor"`
	EvenRowColor string        `json:"evenRowColor"`
	OddRowColor  string        `json:"oddRowColor"`
	Sortable     bool          `json:"sortable"`
}

func DynamicTablePropertiesOf(properties Properties) (*DynamicTableProperties, error) {
	return decodeProperties[DynamicTableProperties](properties, "columns", "data")
}

func DefaultSize(componentType ComponentType) Size {
	switch componentType {
	case ComponentTypeButton:
		return Size{120, 40}
	case ComponentTypeTextField:
		return Size{200, 56}
	case ComponentTypeCard:
		return Size{300, 200}
	case ComponentTypeList:
		return Size{300, 300}
	case ComponentTypeContainer:
		return Size{200, 200}
	case ComponentTypeRow:
		return Size{300, 50}
	case ComponentTypeColumn:
		return Size{200, 200}
	case ComponentTypeStack:
		return Size{200, 200}
	case ComponentTypeSwitch:
		return Size{60, 24}
	case ComponentTypeCheckbox:
		return Size{24, 24}
	case ComponentTypeRadio:
		return Size{24, 24}
	case ComponentTypeChatInput:
		return Size{300, 50}
	case ComponentTypeChatMessage:
		return Size{250, 80}
	case ComponentTypeDropdown:
		return Size{200, 70}
	case ComponentTypeInputWithLabel:
		return Size{200, 70}
	case ComponentTypeSwitchWithLabel:
		return Size{200, 40}
	case ComponentTypeRadioWithLabel:
		return Size{200, 40}
	case ComponentTypeCheckboxWithLabel:
		return Size{200, 40}
	case ComponentTypeDynamicTable:
		return Size{350, 200}
	case ComponentTypeLabel:
		return Size{200, 24}
	default:
		return Size{100, 50}
	}
}

func DefaultProperties(componentType ComponentType) Properties {
	switch componentType {
	case ComponentTypeButton:
		return mustPropertiesOf(&ButtonProperties{
			Text:      "Button",
			Variant:   "primary",
			Rounded:   true,
			Color:     "#2196F3",
			TextColor: "#FFFFFF",
			Padding:   16,
		})
	case ComponentTypeLabel:
		return NormalizeProperties(map[string]any{
			"text":       "Label",
			"fontSize":   14,
			"fontWeight": "normal",
			"color":      "#000000",
			"textAlign":  "left",
		})
	case ComponentTypeTextField:
		return NormalizeProperties(map[string]any{
			"hint":              "Enter text",
			"label":             "Label",
			"hasIcon":           false,
			"icon":              "search",
			"validation":        false,
			"validationMessage": "Please enter a valid value",
		})
	case ComponentTypeCard:
		return NormalizeProperties(map[string]any{
			"elevation":    2,
			"borderRadius": 8,
			"color":        "#FFFFFF",
			"padding":      16,
			"title":        "Card Title",
			"subtitle":     "Card Subtitle",
			"content":      "This is the main content of the card. You can add any text or description here.",
			"showImage":    true,
			"imageHeight":  120,
		})
	case ComponentTypeSwitch:
		return NormalizeProperties(map[string]any{
			"value":         false,
			"activeColor":   "#2196F3",
			"inactiveColor": "#9E9E9E",
		})
	case ComponentTypeCheckbox:
		return NormalizeProperties(map[string]any{
			"value":       false,
			"activeColor": "#2196F3",
		})
	case ComponentTypeRadio:
		return NormalizeProperties(map[string]any{
			"value":       false,
			"activeColor": "#2196F3",
			"groupValue":  "option1",
		})
	case ComponentTypeChatInput:
		return NormalizeProperties(map[string]any{
			"placeholder": "Type a message...",
			"buttonText":  "Send",
			"buttonColor": "#2196F3",
		})
	case ComponentTypeChatMessage:
		return NormalizeProperties(map[string]any{
			"text":      "Hello! This is a sample message.",
			"isUser":    true,
			"avatar":    true,
			"timestamp": true,
		})
	case ComponentTypeDropdown:
		return mustPropertiesOf(&DropdownProperties{
			Label:       "Select an option",
			Placeholder: "Choose...",
			Options: []Option{
				{Label: "Option 1", Value: "option1"},
				{Label: "Option 2", Value: "option2"},
				{Label: "Option 3", Value: "option3"},
			},
			BorderColor:     "#d1d5db",
			BackgroundColor: "#ffffff",
		})
	case ComponentTypeInputWithLabel:
		return NormalizeProperties(map[string]any{
			"label":       "Input Label",
			"placeholder": "Enter text...",
			"value":       "",
			"type":        "text",
			"required":    false,
			"disabled":    false,
			"borderColor": "#d1d5db",
			"labelColor":  "#374151",
		})
	case ComponentTypeSwitchWithLabel:
		return NormalizeProperties(map[string]any{
			"label":         "Toggle Switch",
			"value":         false,
			"activeColor":   "#2196F3",
			"inactiveColor": "#9E9E9E",
			"labelPosition": "right",
			"disabled":      false,
			"labelColor":    "#374151",
		})
	case ComponentTypeRadioWithLabel:
		return NormalizeProperties(map[string]any{
			"label":         "Radio Option",
			"value":         false,
			"activeColor":   "#2196F3",
			"groupValue":    "option1",
			"labelPosition": "right",
			"disabled":      false,
			"labelColor":    "#374151",
		})
	case ComponentTypeCheckboxWithLabel:
		return NormalizeProperties(map[string]any{
			"label":         "Checkbox Option",
			"value":         false,
			"activeColor":   "#2196F3",
			"labelPosition": "right",
			"disabled":      false,
			"labelColor":    "#374151",
		})
	case ComponentTypeDynamicTable:
		return mustPropertiesOf(&DynamicTableProperties{
			Title: "Data Table",
			Columns: []TableColumn{
				{Id: "name", Title: "Name", Width: 120},
				{Id: "email", Title: "Email", Width: 180},
				{Id: "role", Title: "Role", Width: 100},
			},
			Rows: []TableRow{
				{"name": "John Doe", "email": "john@example.com", "role": "Admin"},
				{"name": "Jane Smith", "email": "jane@example.com", "role": "User"},
				{"name": "Bob Johnson", "email": "bob@example.com", "role": "Editor"},
			},
			ShowHeader:   true,
			ShowBorder:   true,
			Striped:      true,
			HeaderColor:  "#f3f4f6",
			BorderColor:  "#e5e7eb",
			EvenRowColor: "#ffffff",
			OddRowColor:  "#f9fafb",
			Sortable:     true,
		})
	default:
		return Properties{}
	}
}

type DeviceType string

const (
	DeviceTypeSamsungA10      DeviceType = "samsungA10"
	DeviceTypeRealme85g       DeviceType = "realme8_5g"
	DeviceTypeSamsungS22Ultra DeviceType = "samsungS22Ultra"
)

type Device struct {
	Id          DeviceType
	Label       string
	Width       float64
	Height      float64
	AspectRatio string
}

var Devices = []Device{
	{Id: DeviceTypeSamsungA10, Label: "Samsung Galaxy A10", Width: 360, Height: 760, AspectRatio: "19:9"},
	{Id: DeviceTypeRealme85g, Label: "Realme 8 5G", Width: 360, Height: 800, AspectRatio: "20:9"},
	{Id: DeviceTypeSamsungS22Ultra, Label: "Samsung Galaxy S22 Ultra", Width: 412, Height: 915, AspectRatio: "19.3:9"},
}

// unknown devices get the smallest supported viewport
func ViewportDimensions(deviceType DeviceType) Size {
	for _, device := range Devices {
		if device.Id == deviceType {
			return Size{Width: device.Width, Height: device.Height}
		}
	}
	return Size{Width: 360, Height: 760}
}
