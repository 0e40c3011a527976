package handlers

import (
	"errors"
	"net/http"

	"github.com/schemabounce/kolumn/directory/core"
)

// Response is the envelope transports send back for every operation.
type Response struct {
	Status  int         `json:"status"`
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Info    string      `json:"info,omitempty"`
	Error   string      `json:"errormsg,omitempty"`
}

// Respond wraps the outcome of an operation. A partially successful create
// keeps its data and status 200 but is not a success.
func Respond(data interface{}, err error) Response {
	if err == nil {
		return Response{Status: http.StatusOK, Success: true, Data: data}
	}

	var partial *PartialSuccessError
	if errors.As(err, &partial) {
		return Response{
			Status: http.StatusOK,
			Data:   data,
			Error:  partial.Error(),
			Info:   partial.Err.Error(),
		}
	}
	return Response{Status: core.StatusCode(err), Error: err.Error()}
}
