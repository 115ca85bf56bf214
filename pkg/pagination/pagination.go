package pagination

import (
	"fmt"
	"strconv"

	"github.com/gin-gonic/gin"
)

const (
	DefaultPage  = 1
	DefaultLimit = 20
	MaxLimit     = 100
	MinLimit     = 1

	// DefaultWindow and MaxWindow bound skip/limit style index queries.
	DefaultWindow = 10
	MaxWindow     = 1000
)

// Params holds validated pagination parameters
type Params struct {
	Page   int
	Limit  int
	Offset int
}

// Parse extracts and validates page/limit from query parameters
func Parse(c *gin.Context) Params {
	page, _ := strconv.Atoi(c.DefaultQuery("page", strconv.Itoa(DefaultPage)))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(DefaultLimit)))

	if page < 1 {
		page = DefaultPage
	}
	if limit < MinLimit {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	return Params{
		Page:   page,
		Limit:  limit,
		Offset: (page - 1) * limit,
	}
}

// Window holds validated skip/limit parameters
type Window struct {
	Skip  int
	Limit int
}

// ParseWindow extracts skip/limit from query parameters
func ParseWindow(c *gin.Context) Window {
	skip, _ := strconv.Atoi(c.Query("skip"))
	limit, err := strconv.Atoi(c.Query("limit"))

	if skip < 0 {
		skip = 0
	}
	if err != nil || limit < MinLimit {
		limit = DefaultWindow
	}
	if limit > MaxWindow {
		limit = MaxWindow
	}
	return Window{Skip: skip, Limit: limit}
}

// ContentRange formats the "items a-b/total" header value for count items
// starting at skip. An empty page reads "items */total".
func ContentRange(skip, count int, total int64) string {
	if count == 0 {
		return fmt.Sprintf("items */%d", total)
	}
	return fmt.Sprintf("items %d-%d/%d", skip, skip+count-1, total)
}
