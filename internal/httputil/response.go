// Package httputil holds the JSON response helpers shared by the handlers
// and controllers.
package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/newsletter-service/internal/errors"
	"github.com/unclebandit/newsletter-service/internal/logger"
)

// ErrorResponse is the error envelope for every API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// JSON writes data with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.L().Warn("json encode failed", zap.Error(err))
	}
}

func OK(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, data)
}

func Created(w http.ResponseWriter, data any) {
	JSON(w, http.StatusCreated, data)
}

func Accepted(w http.ResponseWriter, data any) {
	JSON(w, http.StatusAccepted, data)
}

func Error(w http.ResponseWriter, status int, code, message string) {
	JSON(w, status, ErrorResponse{Error: message, Code: code})
}

func BadRequest(w http.ResponseWriter, message string) {
	Error(w, http.StatusBadRequest, "bad_request", message)
}

// InternalError logs err and writes a generic 500.
func InternalError(w http.ResponseWriter, err error) {
	logger.L().Error("internal error", zap.Error(err))
	Error(w, http.StatusInternalServerError, "internal", "internal server error")
}

// Decode reads a JSON body into dst. It writes a 400 and returns false when
// the body does not parse.
func Decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		BadRequest(w, "invalid JSON: "+err.Error())
		return false
	}
	return true
}

// IntParam parses a positive integer path or query value.
func IntParam(raw string) (int, bool) {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// StatusFor maps a service error to its HTTP status and error code.
func StatusFor(err error) (int, string) {
	if errors.Is(err, appErrors.ErrDispatchBusy) {
		return http.StatusConflict, "dispatch_busy"
	}
	if appErrors.IsNotFound(err) {
		return http.StatusNotFound, "not_found"
	}
	if appErrors.IsValidation(err) {
		return http.StatusBadRequest, "validation"
	}
	if appErrors.IsConfiguration(err) {
		return http.StatusUnprocessableEntity, "configuration"
	}
	if _, ok := appErrors.AsTransport(err); ok {
		return http.StatusBadGateway, "transport"
	}
	return http.StatusInternalServerError, "internal"
}

// ServiceError writes err using StatusFor. Storage and unknown errors are
// logged and reported without their message.
func ServiceError(w http.ResponseWriter, err error) {
	status, code := StatusFor(err)
	if status == http.StatusInternalServerError {
		InternalError(w, err)
		return
	}
	Error(w, status, code, err.Error())
}
