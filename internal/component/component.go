package component

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Component is the typed view of a form schema node. Properties the server
// does not act on are left in the raw schema stored with the form.
type Component struct {
	Key               string       `json:"key"`
	Type              string       `json:"type"`
	Label             string       `json:"label,omitempty"`
	Input             bool         `json:"input,omitempty"`
	Tree              bool         `json:"tree,omitempty"`
	Multiple          bool         `json:"multiple,omitempty"`
	Persistent        any          `json:"persistent,omitempty"`
	Protected         bool         `json:"protected,omitempty"`
	Unique            bool         `json:"unique,omitempty"`
	Reference         bool         `json:"reference,omitempty"`
	Hidden            bool         `json:"hidden,omitempty"`
	ClearOnHide       *bool        `json:"clearOnHide,omitempty"`
	Validate          Validate     `json:"validate"`
	Conditional       Conditional  `json:"conditional"`
	CustomConditional string       `json:"customConditional,omitempty"`
	CalculateValue    string       `json:"calculateValue,omitempty"`
	CalculateServer   bool         `json:"calculateServer,omitempty"`
	DataSrc           string       `json:"dataSrc,omitempty"`
	Data              DataConfig   `json:"data"`
	ValueProperty     string       `json:"valueProperty,omitempty"`
	Filter            string       `json:"filter,omitempty"`
	Form              string       `json:"form,omitempty"`
	Trigger           Trigger      `json:"trigger"`
	Fetch             Fetch        `json:"fetch"`
	DecimalLimit      *int         `json:"decimalLimit,omitempty"`
	Components        []*Component `json:"components,omitempty"`
	Columns           []Column     `json:"columns,omitempty"`
	Rows              [][]Column   `json:"rows,omitempty"`
}

type Validate struct {
	Required           bool   `json:"required,omitempty"`
	MinLength          any    `json:"minLength,omitempty"`
	MaxLength          any    `json:"maxLength,omitempty"`
	MinWords           any    `json:"minWords,omitempty"`
	MaxWords           any    `json:"maxWords,omitempty"`
	Min                any    `json:"min,omitempty"`
	Max                any    `json:"max,omitempty"`
	Pattern            string `json:"pattern,omitempty"`
	Custom             string `json:"custom,omitempty"`
	CustomMessage      string `json:"customMessage,omitempty"`
	OnlyAvailableItems bool   `json:"onlyAvailableItems,omitempty"`
}

// Conditional is the simple show/when/eq visibility rule.
type Conditional struct {
	Show any    `json:"show,omitempty"`
	When string `json:"when,omitempty"`
	Eq   any    `json:"eq,omitempty"`
}

type DataConfig struct {
	Resource string   `json:"resource,omitempty"`
	URL      string   `json:"url,omitempty"`
	Values   []Option `json:"values,omitempty"`
}

type Option struct {
	Label string `json:"label"`
	Value any    `json:"value"`
}

type Trigger struct {
	Init   bool `json:"init,omitempty"`
	Server bool `json:"server,omitempty"`
}

type Header struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type FetchColumn struct {
	Path string `json:"path"`
	Key  string `json:"key,omitempty"`
}

// Fetch configures datasource requests and datatable resource columns.
type Fetch struct {
	DataSrc        string        `json:"dataSrc,omitempty"`
	URL            string        `json:"url,omitempty"`
	Method         string        `json:"method,omitempty"`
	Resource       string        `json:"resource,omitempty"`
	Headers        []Header      `json:"headers,omitempty"`
	Body           string        `json:"specifyBody,omitempty"`
	Authenticate   bool          `json:"authenticate,omitempty"`
	ForwardHeaders bool          `json:"forwardHeaders,omitempty"`
	Components     []FetchColumn `json:"components,omitempty"`
}

type Column struct {
	Components []*Component `json:"components,omitempty"`
}

var layoutTypes = map[string]bool{
	"":            true,
	"panel":       true,
	"fieldset":    true,
	"well":        true,
	"columns":     true,
	"table":       true,
	"tabs":        true,
	"htmlelement": true,
	"content":     true,
}

var arrayTypes = map[string]bool{
	"datagrid":  true,
	"editgrid":  true,
	"datatable": true,
	"tagpad":    true,
}

// Parse decodes a raw components array.
func Parse(raw []byte) ([]*Component, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var comps []*Component
	if err := json.Unmarshal(raw, &comps); err != nil {
		return nil, fmt.Errorf("parse components: %w", err)
	}
	return comps, nil
}

// IsLayout reports whether the component only arranges others and owns no data.
func (c *Component) IsLayout() bool {
	return layoutTypes[c.Type] || c.Key == ""
}

// HasData reports whether the component owns a key in the submission data.
func (c *Component) HasData() bool { return !c.IsLayout() }

// IsArray reports whether the component stores a list of row objects.
func (c *Component) IsArray() bool { return arrayTypes[c.Type] }

// NestsData reports whether children are stored under this component's key.
func (c *Component) NestsData() bool {
	if c.IsLayout() {
		return false
	}
	return c.IsArray() || c.Type == "container" || c.Type == "form" || (c.Tree && len(c.Children()) > 0)
}

// IsPersistent is false for persistent:false and "client-only" components.
func (c *Component) IsPersistent() bool {
	switch v := c.Persistent.(type) {
	case bool:
		return v
	case string:
		return v != "client-only" && v != "false"
	}
	return true
}

// IsSecret reports whether values of c must never be sent to clients.
func (c *Component) IsSecret() bool { return c.Protected || c.Type == "password" }

// ClearsOnHide defaults to true.
func (c *Component) ClearsOnHide() bool {
	return c.ClearOnHide == nil || *c.ClearOnHide
}

// DisplayLabel is the label used in error messages.
func (c *Component) DisplayLabel() string {
	if c.Label != "" {
		return c.Label
	}
	return c.Key
}

// Children returns the direct child components, including column and table cells.
func (c *Component) Children() []*Component {
	if c.Type == "address" {
		return nil
	}
	if len(c.Columns) == 0 && len(c.Rows) == 0 {
		return c.Components
	}
	out := append([]*Component(nil), c.Components...)
	for _, col := range c.Columns {
		out = append(out, col.Components...)
	}
	for _, row := range c.Rows {
		for _, cell := range row {
			out = append(out, cell.Components...)
		}
	}
	return out
}

// IntSetting reads numeric schema settings that builders store as numbers or strings.
func IntSetting(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		return i, err == nil
	}
	return 0, false
}

// BoolSetting reads flags that may be stored as booleans or "true"/"false".
func BoolSetting(v any) (value bool, set bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		parsed, err := strconv.ParseBool(b)
		return parsed, err == nil
	}
	return false, false
}
