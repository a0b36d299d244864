package pagination

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultSize = 20
	MaxSize     = 100
)

// Params holds zero-based page parameters extracted from a request.
type Params struct {
	Page int
	Size int
}

// FromContext extracts page and size from the echo context.
func FromContext(c echo.Context) Params {
	size, _ := strconv.Atoi(c.QueryParam("size"))
	if size <= 0 {
		size = DefaultSize
	}
	if size > MaxSize {
		size = MaxSize
	}

	page, _ := strconv.Atoi(c.QueryParam("page"))
	if page < 0 {
		page = 0
	}

	return Params{Page: page, Size: size}
}

// Offset returns the index of the first element on the page.
func (p Params) Offset() int {
	return p.Page * p.Size
}

// Window returns the [start, end) bounds of the page within total elements.
func (p Params) Window(total int) (start, end int) {
	start = p.Offset()
	if start > total {
		start = total
	}
	end = start + p.Size
	if end > total {
		end = total
	}
	return start, end
}

// Page is a single page of results.
type Page struct {
	Content       interface{} `json:"content"`
	Page          int         `json:"page"`
	Size          int         `json:"size"`
	TotalElements int         `json:"totalElements"`
	TotalPages    int         `json:"totalPages"`
}

// NewPage builds a Page for content drawn from total elements.
func NewPage(content interface{}, p Params, total int) *Page {
	pages := 0
	if p.Size > 0 {
		pages = (total + p.Size - 1) / p.Size
	}
	return &Page{
		Content:       content,
		Page:          p.Page,
		Size:          p.Size,
		TotalElements: total,
		TotalPages:    pages,
	}
}

// HasNext returns true if there are more pages after this one.
func (p *Page) HasNext() bool {
	return p.Page+1 < p.TotalPages
}

// Envelope is the response wrapper used by every REST endpoint.
type Envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

// OK wraps data in a successful envelope.
func OK(data interface{}) Envelope {
	return Envelope{Success: true, Data: data}
}

// Fail builds an unsuccessful envelope carrying message.
func Fail(message string) Envelope {
	return Envelope{Success: false, Message: message}
}
