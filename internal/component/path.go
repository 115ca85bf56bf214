package component

import (
	"strconv"
	"strings"
)

type segment struct {
	key   string
	index int
	isIdx bool
}

// Join appends key to a dotted data path.
func Join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	if key == "" {
		return prefix
	}
	return prefix + "." + key
}

func parse(path string) []segment {
	var segs []segment
	for _, part := range strings.Split(path, ".") {
		for part != "" {
			open := strings.IndexByte(part, '[')
			if open < 0 {
				segs = append(segs, segment{key: part})
				break
			}
			if open > 0 {
				segs = append(segs, segment{key: part[:open]})
			}
			end := strings.IndexByte(part[open:], ']')
			if end < 0 {
				segs = append(segs, segment{key: part[open:]})
				break
			}
			idx, err := strconv.Atoi(part[open+1 : open+end])
			if err != nil {
				segs = append(segs, segment{key: part[open : open+end+1]})
			} else {
				segs = append(segs, segment{index: idx, isIdx: true})
			}
			part = part[open+end+1:]
		}
	}
	return segs
}

// Tokens splits an instance path like "grid[1].a" into ["grid", 1, "a"].
func Tokens(path string) []any {
	segs := parse(path)
	out := make([]any, 0, len(segs))
	for _, s := range segs {
		if s.isIdx {
			out = append(out, s.index)
		} else {
			out = append(out, s.key)
		}
	}
	return out
}

// Get resolves an instance path inside data.
func Get(data map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	var cur any = data
	for _, s := range parse(path) {
		switch node := cur.(type) {
		case map[string]any:
			if s.isIdx {
				return nil, false
			}
			v, ok := node[s.key]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			if !s.isIdx || s.index < 0 || s.index >= len(node) {
				return nil, false
			}
			cur = node[s.index]
		default:
			return nil, false
		}
	}
	return cur, true
}

// Set writes value at path, creating intermediate objects as needed.
// Array segments must already exist.
func Set(data map[string]any, path string, value any) bool {
	segs := parse(path)
	if len(segs) == 0 {
		return false
	}
	var cur any = data
	for i, s := range segs {
		last := i == len(segs)-1
		switch node := cur.(type) {
		case map[string]any:
			if s.isIdx {
				return false
			}
			if last {
				node[s.key] = value
				return true
			}
			next, ok := node[s.key]
			if !ok || next == nil {
				if segs[i+1].isIdx {
					return false
				}
				next = map[string]any{}
				node[s.key] = next
			}
			cur = next
		case []any:
			if !s.isIdx || s.index < 0 || s.index >= len(node) {
				return false
			}
			if last {
				node[s.index] = value
				return true
			}
			cur = node[s.index]
		default:
			return false
		}
	}
	return false
}

// Delete removes the value at path. Array elements are left in place.
func Delete(data map[string]any, path string) bool {
	segs := parse(path)
	if len(segs) == 0 {
		return false
	}
	var cur any = data
	for i, s := range segs {
		last := i == len(segs)-1
		switch node := cur.(type) {
		case map[string]any:
			if s.isIdx {
				return false
			}
			if last {
				_, ok := node[s.key]
				delete(node, s.key)
				return ok
			}
			next, ok := node[s.key]
			if !ok {
				return false
			}
			cur = next
		case []any:
			if !s.isIdx || s.index < 0 || s.index >= len(node) || last {
				return false
			}
			cur = node[s.index]
		default:
			return false
		}
	}
	return false
}

// DeleteAll removes every instance of schemaPath from data.
func DeleteAll(data map[string]any, schemaPath string) {
	for _, p := range Expand(data, schemaPath) {
		Delete(data, p)
	}
}

// Expand turns a schema path ("grid.ref") into the instance paths present in
// data ("grid[0].ref", "grid[1].ref"), fanning out over row arrays.
func Expand(data map[string]any, schemaPath string) []string {
	if schemaPath == "" || data == nil {
		return nil
	}
	keys := strings.Split(schemaPath, ".")
	var out []string
	var walk func(v any, i int, prefix string)
	walk = func(v any, i int, prefix string) {
		if i == len(keys) {
			out = append(out, prefix)
			return
		}
		switch node := v.(type) {
		case map[string]any:
			child, ok := node[keys[i]]
			if !ok {
				return
			}
			walk(child, i+1, Join(prefix, keys[i]))
		case []any:
			for idx, el := range node {
				walk(el, i, prefix+"["+strconv.Itoa(idx)+"]")
			}
		}
	}
	walk(data, 0, "")
	return out
}

// InArray reports whether an instance path points inside a row array.
func InArray(path string) bool {
	return strings.Contains(path, "[")
}
