package repository

import (
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrNotFound is returned by every repository implementation for missing rows.
var ErrNotFound = gorm.ErrRecordNotFound

// UniqueKind selects how a value is compared against stored submissions.
type UniqueKind int

const (
	// UniqueEqual compares JSON values exactly (numbers, objects, booleans).
	UniqueEqual UniqueKind = iota
	// UniqueCaseInsensitive compares strings ignoring case.
	UniqueCaseInsensitive
	// UniqueCollation compares ASCII strings under the configured collation.
	UniqueCollation
	// UniqueArray matches documents whose array contains every element.
	UniqueArray
	// UniquePlace matches address values on their place id.
	UniquePlace
)

// UniqueQuery looks for another live submission holding Value at Path.
type UniqueQuery struct {
	FormID    uuid.UUID
	Path      string
	Value     any
	Kind      UniqueKind
	ExcludeID *uuid.UUID
}

// FieldFilter is an equality filter on "_id", "owner" or a "data.<path>".
type FieldFilter struct {
	Path  string
	Value any
}

type SubmissionQuery struct {
	FormID  uuid.UUID
	Owner   *uuid.UUID
	Filters []FieldFilter
	Sort    string
	Skip    int
	Limit   int
}

type FormQuery struct {
	Type   string
	Offset int
	Limit  int
}

// DataPath strips the "data." prefix of a filter path, reporting whether
// the filter targets submission data.
func DataPath(path string) (string, bool) {
	if strings.HasPrefix(path, "data.") {
		return strings.TrimPrefix(path, "data."), true
	}
	return "", false
}

// pgTextArray renders a dotted path as a postgres text[] literal for #> and #>>.
func pgTextArray(path string) string {
	parts := strings.Split(path, ".")
	for i, p := range parts {
		p = strings.ReplaceAll(p, `\`, `\\`)
		p = strings.ReplaceAll(p, `"`, `\"`)
		parts[i] = `"` + p + `"`
	}
	return "{" + strings.Join(parts, ",") + "}"
}
