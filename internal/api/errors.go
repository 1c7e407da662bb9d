package api

import (
	"crypto/rand"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/idconsensus/internal/errors"
	"github.com/tphakala/idconsensus/internal/logger"
)

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Code          int    `json:"code"`
	CorrelationID string `json:"correlation_id"`
}

// NewErrorResponse creates a new API error response
func NewErrorResponse(err error, message string, code int) *ErrorResponse {
	errorStr := message
	if err != nil {
		errorStr = err.Error()
	}
	return &ErrorResponse{
		Error:         errorStr,
		Message:       message,
		Code:          code,
		CorrelationID: generateCorrelationID(),
	}
}

func generateCorrelationID() string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	const length = 8

	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "ERR-RAND"
	}
	for i := range b {
		b[i] = charset[int(b[i])%len(charset)]
	}
	return string(b)
}

// statusFor maps an error category to an HTTP status.
func statusFor(err error) int {
	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		return he.Code
	case errors.IsNotFound(err):
		return http.StatusNotFound
	case errors.IsInvalidState(err), errors.IsCategory(err, errors.CategoryConflict):
		return http.StatusConflict
	case errors.IsValidation(err):
		return http.StatusUnprocessableEntity
	case errors.IsLookupFailure(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func errorType(err error) string {
	var ee *errors.EnhancedError
	if errors.As(err, &ee) {
		return ee.GetCategory()
	}
	return string(errors.CategoryGeneric)
}

// HandleError writes err as an ErrorResponse and logs it with its correlation id.
func (s *Server) HandleError(c echo.Context, err error, message string) error {
	code := statusFor(err)
	resp := NewErrorResponse(err, message, code)
	if code >= http.StatusInternalServerError {
		// internal details stay in the log
		resp.Error = http.StatusText(code)
	}
	if code == http.StatusServiceUnavailable {
		c.Response().Header().Set("Retry-After", retryAfterSeconds)
	}

	log := s.log.WithContext(c.Request().Context())
	fields := []logger.Field{
		logger.String("correlation_id", resp.CorrelationID),
		logger.String("method", c.Request().Method),
		logger.String("path", c.Path()),
		logger.Int("code", code),
		logger.Error(err),
	}
	if code >= http.StatusInternalServerError {
		log.Error(message, fields...)
	} else {
		log.Debug(message, fields...)
	}
	if s.metrics != nil {
		s.metrics.HTTP.RecordHTTPRequestError(c.Request().Method, c.Path(), errorType(err))
	}

	return c.JSON(code, resp)
}

// httpErrorHandler renders errors returned past the handlers, such as
// unknown routes and malformed bodies, in the same shape.
func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	var he *echo.HTTPError
	message := "request failed"
	if errors.As(err, &he) {
		if msg, ok := he.Message.(string); ok {
			message = msg
		}
	}
	if herr := s.HandleError(c, err, message); herr != nil {
		s.log.Warn("failed to write error response", logger.Error(herr))
	}
}
