package server

import (
	"fmt"
	"net/http"
)

const (
	Red     = "\033[31m"
	Green   = "\033[32m"
	Yellow  = "\033[33m"
	Blue    = "\033[34m"
	Magenta = "\033[35m"
	Cyan    = "\033[36m"
	Gray    = "\033[90m"

	ResetColor = "\033[0m"
)

var methodColors = map[string]string{
	http.MethodGet:     Green,
	http.MethodPost:    Blue,
	http.MethodPut:     Cyan,
	http.MethodDelete:  Yellow,
	http.MethodOptions: Magenta,
}

// colourStatus colours a response status by class: redirects cyan, client errors yellow,
// server errors red.
func colourStatus(status int) string {
	colour := Green
	switch {
	case status >= http.StatusInternalServerError:
		colour = Red
	case status >= http.StatusBadRequest:
		colour = Yellow
	case status >= http.StatusMultipleChoices:
		colour = Cyan
	}
	return fmt.Sprintf("%s%d%s", colour, status, ResetColor)
}
