package server

import (
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/resourcefinder/internal/chat"
	"github.com/mohammad-safakhou/resourcefinder/models"
	"github.com/mohammad-safakhou/resourcefinder/provider"
	"github.com/mohammad-safakhou/resourcefinder/tools/deep_research"
	"github.com/mohammad-safakhou/resourcefinder/tools/query"
)

// FriendlyError is what a person sees when a turn fails and causes are not exposed.
const FriendlyError = "Sorry, I couldn't finish looking that up right now. Please try again in a moment, or call 211 for immediate help."

// turnError marks a failure of the conversation turn itself (as opposed to a
// malformed request) so the error handler can apply the exposure policy.
type turnError struct {
	err error
}

func (e *turnError) Error() string { return e.err.Error() }
func (e *turnError) Unwrap() error { return e.err }

// statusFor maps the failure taxonomy onto HTTP status codes.
func statusFor(err error) int {
	var (
		llmErr     *provider.LLMError
		extractErr *query.ExtractionError
	)
	switch {
	case errors.Is(err, provider.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, chat.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, deep_research.ErrServiceTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, deep_research.ErrServiceUnreachable), errors.Is(err, deep_research.ErrServiceError):
		return http.StatusBadGateway
	case errors.As(err, &extractErr), errors.As(err, &llmErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func errorHandler(logger *log.Logger, expose bool) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()

		var (
			he *echo.HTTPError
			te *turnError
		)
		switch {
		case errors.As(err, &te):
			code = statusFor(te.err)
			if code >= http.StatusInternalServerError && !expose {
				msg = FriendlyError
			}
		case errors.As(err, &he):
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}

		req := c.Request()
		logger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			if req.Method == http.MethodHead {
				_ = c.NoContent(code)
				return
			}
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
}
