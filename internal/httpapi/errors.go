package httpapi

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rbaliyan/campusmail"
	"github.com/rbaliyan/campusmail/store"
)

type errorResponse struct {
	Error  string   `json:"error"`
	Fields []string `json:"fields,omitempty"`
}

// statusOf maps errors onto HTTP status codes. Store sentinels are matched
// directly because every campusmail sentinel wraps its store counterpart
// and attachment sources return store errors unchanged.
func statusOf(err error) int {
	var (
		he *echo.HTTPError
		pe *campusmail.PluginError
	)
	switch {
	case errors.As(err, &he):
		return he.Code
	case errors.Is(err, store.ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.As(err, &pe):
		return http.StatusUnprocessableEntity
	case errors.Is(err, store.ErrNotFound), errors.Is(err, campusmail.ErrAttachmentNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, campusmail.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, campusmail.ErrIdentityNotFound), errors.Is(err, campusmail.ErrInvalidUserID):
		return http.StatusUnauthorized
	case errors.Is(err, store.ErrNotADraft), errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, campusmail.ErrAttachmentSourceNotConfigured):
		return http.StatusNotImplemented
	case errors.Is(err, store.ErrNotConnected):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := statusOf(err)
	resp := errorResponse{Error: err.Error()}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		if msg, ok := he.Message.(string); ok {
			resp.Error = msg
		} else {
			resp.Error = http.StatusText(he.Code)
		}
	}
	if ve, ok := campusmail.IsValidationError(err); ok {
		resp.Fields = ve.Fields
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.Path(), "error", err)
		resp.Error = http.StatusText(status)
	}

	var werr error
	if c.Request().Method == http.MethodHead {
		werr = c.NoContent(status)
	} else {
		werr = c.JSON(status, resp)
	}
	if werr != nil {
		s.logger.Error("write error response", "error", werr)
	}
}
