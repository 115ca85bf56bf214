package processor

import (
	"fmt"

	"formio-api/internal/component"
)

// Visible evaluates the simple show/when/eq conditional of an instance.
// The referenced key is looked up in the current row before the root data.
func Visible(inst *component.Instance, data map[string]any) bool {
	cond := inst.Component.Conditional
	show, set := component.BoolSetting(cond.Show)
	if !set || cond.When == "" {
		return true
	}
	value, ok := inst.Row[cond.When]
	if !ok {
		value, ok = component.Get(data, cond.When)
	}
	matches := ok && stringify(value) == stringify(cond.Eq)
	if show {
		return matches
	}
	return !matches
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
	}
	return fmt.Sprint(v)
}
