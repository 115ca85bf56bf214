package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"formio-api/internal/component"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var (
	formats     = validator.New()
	patternsMu  sync.Mutex
	patternMemo = map[string]*regexp.Regexp{}
)

type rule func(ctx context.Context, pc *Context, inst *component.Instance) (*Error, error)

// Order matters: unique runs last so invalid values never hit storage.
var rules = []rule{
	lengthRule,
	wordsRule,
	patternRule,
	formatRule,
	numberRule,
	selectRule,
	uniqueRule,
}

func runRules(ctx context.Context, pc *Context, inst *component.Instance) error {
	if isEmpty(inst.Component, inst.Value) {
		if inst.Component.Validate.Required {
			pc.Scope.Errors = append(pc.Scope.Errors, NewError(inst, "required", inst.Component.DisplayLabel()+" is required"))
		}
		return nil
	}
	for _, r := range rules {
		e, err := r(ctx, pc, inst)
		if err != nil {
			return err
		}
		if e != nil {
			pc.Scope.Errors = append(pc.Scope.Errors, *e)
		}
	}
	return nil
}

func isEmpty(c *component.Component, v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	case bool:
		return c.Type == "checkbox" && !t
	}
	return false
}

// values spreads multiple-value components into their elements.
func values(c *component.Component, v any) []any {
	if arr, ok := v.([]any); ok && c.Multiple {
		return arr
	}
	return []any{v}
}

func fail(inst *component.Instance, validator, format string, args ...any) *Error {
	e := NewError(inst, validator, fmt.Sprintf(format, args...))
	return &e
}

func lengthRule(_ context.Context, _ *Context, inst *component.Instance) (*Error, error) {
	c := inst.Component
	minLen, hasMin := component.IntSetting(c.Validate.MinLength)
	maxLen, hasMax := component.IntSetting(c.Validate.MaxLength)
	if !hasMin && !hasMax {
		return nil, nil
	}
	for _, v := range values(c, inst.Value) {
		s, ok := v.(string)
		if !ok {
			continue
		}
		n := len([]rune(s))
		if hasMin && minLen > 0 && n < minLen {
			return fail(inst, "minLength", "%s must have at least %d characters.", c.DisplayLabel(), minLen), nil
		}
		if hasMax && maxLen > 0 && n > maxLen {
			return fail(inst, "maxLength", "%s must have no more than %d characters.", c.DisplayLabel(), maxLen), nil
		}
	}
	return nil, nil
}

func wordsRule(_ context.Context, _ *Context, inst *component.Instance) (*Error, error) {
	c := inst.Component
	minWords, hasMin := component.IntSetting(c.Validate.MinWords)
	maxWords, hasMax := component.IntSetting(c.Validate.MaxWords)
	if !hasMin && !hasMax {
		return nil, nil
	}
	for _, v := range values(c, inst.Value) {
		s, ok := v.(string)
		if !ok {
			continue
		}
		n := len(strings.Fields(s))
		if hasMin && minWords > 0 && n < minWords {
			return fail(inst, "minWords", "%s must have at least %d words.", c.DisplayLabel(), minWords), nil
		}
		if hasMax && maxWords > 0 && n > maxWords {
			return fail(inst, "maxWords", "%s must have no more than %d words.", c.DisplayLabel(), maxWords), nil
		}
	}
	return nil, nil
}

func compilePattern(p string) (*regexp.Regexp, error) {
	patternsMu.Lock()
	defer patternsMu.Unlock()
	if re, ok := patternMemo[p]; ok {
		return re, nil
	}
	re, err := regexp.Compile("^(?:" + p + ")$")
	if err != nil {
		return nil, err
	}
	patternMemo[p] = re
	return re, nil
}

func patternRule(_ context.Context, _ *Context, inst *component.Instance) (*Error, error) {
	c := inst.Component
	if c.Validate.Pattern == "" {
		return nil, nil
	}
	re, err := compilePattern(c.Validate.Pattern)
	if err != nil {
		// invalid schema patterns are ignored
		return nil, nil
	}
	for _, v := range values(c, inst.Value) {
		s, ok := v.(string)
		if ok && !re.MatchString(s) {
			return fail(inst, "pattern", "%s does not match the pattern %s", c.DisplayLabel(), c.Validate.Pattern), nil
		}
	}
	return nil, nil
}

func formatRule(_ context.Context, _ *Context, inst *component.Instance) (*Error, error) {
	c := inst.Component
	var tag, msg string
	switch c.Type {
	case "email":
		tag, msg = "email", "%s must be a valid email."
	case "url":
		tag, msg = "url", "%s must be a valid url."
	default:
		return nil, nil
	}
	for _, v := range values(c, inst.Value) {
		s, ok := v.(string)
		if !ok || formats.Var(s, tag) != nil {
			return fail(inst, tag, msg, c.DisplayLabel()), nil
		}
	}
	return nil, nil
}

func toDecimal(v any) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case float64:
		return decimal.NewFromFloat(n), true
	case int:
		return decimal.NewFromInt(int64(n)), true
	case int64:
		return decimal.NewFromInt(n), true
	case json.Number:
		d, err := decimal.NewFromString(n.String())
		return d, err == nil
	case string:
		if strings.TrimSpace(n) == "" {
			return decimal.Decimal{}, false
		}
		d, err := decimal.NewFromString(strings.TrimSpace(n))
		return d, err == nil
	}
	return decimal.Decimal{}, false
}

func numberRule(_ context.Context, _ *Context, inst *component.Instance) (*Error, error) {
	c := inst.Component
	if c.Type != "number" && c.Type != "currency" {
		return nil, nil
	}
	for _, v := range values(c, inst.Value) {
		if _, isString := v.(string); isString {
			return fail(inst, "number", "%s must be a number.", c.DisplayLabel()), nil
		}
		d, ok := toDecimal(v)
		if !ok {
			return fail(inst, "number", "%s must be a number.", c.DisplayLabel()), nil
		}
		if lim, ok := toDecimal(c.Validate.Min); ok && d.LessThan(lim) {
			return fail(inst, "min", "%s cannot be less than %s.", c.DisplayLabel(), lim.String()), nil
		}
		if lim, ok := toDecimal(c.Validate.Max); ok && d.GreaterThan(lim) {
			return fail(inst, "max", "%s cannot be greater than %s.", c.DisplayLabel(), lim.String()), nil
		}
		if c.DecimalLimit != nil && -d.Exponent() > int32(*c.DecimalLimit) {
			return fail(inst, "decimalLimit", "%s must have no more than %d decimal places.", c.DisplayLabel(), *c.DecimalLimit), nil
		}
	}
	return nil, nil
}

func selectRule(ctx context.Context, pc *Context, inst *component.Instance) (*Error, error) {
	c := inst.Component
	if (c.Type != "select" && c.Type != "radio") || !c.Validate.OnlyAvailableItems {
		return nil, nil
	}
	if c.DataSrc == "resource" {
		if pc.Database == nil {
			return nil, nil
		}
		for _, v := range values(c, inst.Value) {
			ok, err := pc.Database.ValidateResourceSelectValue(ctx, c, v)
			if err != nil {
				return nil, fmt.Errorf("validate select %s: %w", inst.Path, err)
			}
			if !ok {
				return fail(inst, "select", "%s contains an invalid selection", c.DisplayLabel()), nil
			}
		}
		return nil, nil
	}
	if len(c.Data.Values) == 0 {
		return nil, nil
	}
	for _, v := range values(c, inst.Value) {
		found := false
		for _, opt := range c.Data.Values {
			if stringify(opt.Value) == stringify(v) {
				found = true
				break
			}
		}
		if !found {
			return fail(inst, "onlyAvailableItems", "%s is an invalid value.", c.DisplayLabel()), nil
		}
	}
	return nil, nil
}

// uniqueRule only applies outside row arrays; a path with indices cannot be
// matched against other documents.
func uniqueRule(ctx context.Context, pc *Context, inst *component.Instance) (*Error, error) {
	c := inst.Component
	if !c.Unique || inst.InArray || pc.Database == nil || pc.Scope.HasErrorAt(inst.Path) {
		return nil, nil
	}
	conflictID, unique, err := pc.Database.IsUnique(ctx, c, inst.Path, inst.Value)
	if err != nil {
		return nil, fmt.Errorf("unique check %s: %w", inst.Path, err)
	}
	if unique {
		return nil, nil
	}
	e := fail(inst, "unique", "%s must be unique", c.DisplayLabel())
	e.Context.ConflictID = conflictID
	return e, nil
}
