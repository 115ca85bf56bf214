package component

import "strconv"

// Visitor receives each component with its schema data path (layout
// components get their parent's path). Returning false skips the children.
type Visitor func(c *Component, path string) bool

// Each walks the schema depth first.
func Each(components []*Component, fn Visitor) {
	each(components, "", fn)
}

func each(components []*Component, prefix string, fn Visitor) {
	for _, c := range components {
		if c == nil {
			continue
		}
		path := prefix
		if c.HasData() {
			path = Join(prefix, c.Key)
		}
		if !fn(c, path) {
			continue
		}
		childPrefix := prefix
		if c.NestsData() {
			childPrefix = path
			if c.Type == "form" {
				childPrefix = Join(path, "data")
			}
		}
		each(c.Children(), childPrefix, fn)
	}
}

// Instance is one occurrence of a component inside submission data.
type Instance struct {
	Component *Component
	// Path is the instance path, e.g. "grid[0].name". Empty for top-level layout.
	Path string
	// Scope is the object the component's key lives in.
	Scope map[string]any
	// Row is the nearest datagrid row, or the root data outside grids.
	Row     map[string]any
	Value   any
	Exists  bool
	InArray bool
}

// InstanceVisitor returns false to skip the instance's children.
type InstanceVisitor func(inst *Instance) bool

// EachValue walks data-bearing and layout components against data.
func EachValue(components []*Component, data map[string]any, fn InstanceVisitor) {
	eachValue(components, data, data, "", false, fn)
}

func eachValue(components []*Component, scope, row map[string]any, prefix string, inArray bool, fn InstanceVisitor) {
	for _, c := range components {
		if c == nil {
			continue
		}
		if c.IsLayout() {
			inst := &Instance{Component: c, Path: prefix, Scope: scope, Row: row, InArray: inArray}
			if fn(inst) {
				eachValue(c.Children(), scope, row, prefix, inArray, fn)
			}
			continue
		}

		path := Join(prefix, c.Key)
		val, ok := scope[c.Key]
		inst := &Instance{Component: c, Path: path, Scope: scope, Row: row, Value: val, Exists: ok, InArray: inArray}
		if !fn(inst) {
			continue
		}
		children := c.Children()
		if len(children) == 0 {
			continue
		}

		switch {
		case c.IsArray():
			rows, _ := val.([]any)
			for i, r := range rows {
				rm, ok := r.(map[string]any)
				if !ok {
					continue
				}
				eachValue(children, rm, rm, path+"["+strconv.Itoa(i)+"]", true, fn)
			}
		case c.Type == "form":
			wrapper, _ := val.(map[string]any)
			sub, _ := wrapper["data"].(map[string]any)
			if sub == nil {
				sub = map[string]any{}
			}
			eachValue(children, sub, sub, Join(path, "data"), inArray, fn)
		case c.NestsData():
			m, _ := val.(map[string]any)
			if m == nil {
				m = map[string]any{}
			}
			eachValue(children, m, row, path, inArray, fn)
		default:
			eachValue(children, scope, row, prefix, inArray, fn)
		}
	}
}

// EachChild walks the children of a layout instance in the instance's scope.
func (inst *Instance) EachChild(fn InstanceVisitor) {
	eachValue(inst.Component.Children(), inst.Scope, inst.Row, inst.Path, inst.InArray, fn)
}

// Flatten indexes data-bearing components by schema path.
func Flatten(components []*Component) map[string]*Component {
	out := map[string]*Component{}
	Each(components, func(c *Component, path string) bool {
		if c.HasData() {
			out[path] = c
		}
		return true
	})
	return out
}

// DuplicateKeys returns schema paths that more than one component claims.
func DuplicateKeys(components []*Component) []string {
	seen := map[string]int{}
	var dups []string
	Each(components, func(c *Component, path string) bool {
		if !c.HasData() {
			return true
		}
		seen[path]++
		if seen[path] == 2 {
			dups = append(dups, path)
		}
		return true
	})
	return dups
}

// Find returns the first data component with the given key.
func Find(components []*Component, key string) (*Component, string) {
	var found *Component
	var foundPath string
	Each(components, func(c *Component, path string) bool {
		if found != nil {
			return false
		}
		if c.HasData() && c.Key == key {
			found, foundPath = c, path
			return false
		}
		return true
	})
	return found, foundPath
}

// StripSecrets removes protected and password values from data in place.
func StripSecrets(components []*Component, data map[string]any) map[string]any {
	Each(components, func(c *Component, path string) bool {
		if c.IsSecret() {
			DeleteAll(data, path)
		}
		return true
	})
	return data
}
