package response

// Response is the envelope used by the form, action and role endpoints.
// Submission endpoints answer with raw documents instead.
type Response struct {
	Status     string `json:"status"` // "success" or "error"
	StatusCode int    `json:"status_code"`
	Data       any    `json:"data,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Page is the data of a paginated listing.
type Page[T any] struct {
	Items []T   `json:"items"`
	Total int64 `json:"total"`
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
}

func Success(statusCode int, data any) Response {
	return Response{
		Status:     "success",
		StatusCode: statusCode,
		Data:       data,
	}
}

// List wraps one page of items. A nil slice is sent as [].
func List[T any](statusCode int, items []T, total int64, page, limit int) Response {
	if items == nil {
		items = []T{}
	}
	return Success(statusCode, Page[T]{Items: items, Total: total, Page: page, Limit: limit})
}

func Error(statusCode int, err string) Response {
	return Response{
		Status:     "error",
		StatusCode: statusCode,
		Error:      err,
	}
}
