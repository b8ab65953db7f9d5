// Package httpapi exposes a campusmail.Service over HTTP/JSON using echo.
//
// Every /api/v1 request acts as the user named by the X-User-ID header,
// resolved through the service's IdentityProvider. The header is trusted;
// authentication belongs to whatever sits in front of the daemon.
package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rbaliyan/campusmail"
)

// HeaderUserID names the acting user.
const HeaderUserID = "X-User-ID"

const mailboxKey = "mailbox"

// Server routes HTTP requests to a campusmail.Service.
type Server struct {
	svc    campusmail.Service
	logger *slog.Logger
	echo   *echo.Echo
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger for request and error logs.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// New builds the router for svc.
func New(svc campusmail.Service, opts ...Option) *Server {
	s := &Server{svc: svc, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.handleError
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
				"user", c.Request().Header.Get(HeaderUserID),
			}
			if v.Error != nil {
				s.logger.Warn("request failed", append(attrs, "error", v.Error)...)
				return nil
			}
			s.logger.Debug("request", attrs...)
			return nil
		},
	}))

	e.GET("/healthz", s.health)

	api := e.Group("/api/v1", s.viewer)
	api.GET("/messages", s.listMessages)
	api.POST("/messages", s.compose)
	api.GET("/messages/counts", s.counts)
	api.POST("/messages/bulk/flags", s.bulkFlags)
	api.POST("/messages/bulk/delete", s.bulkDelete)
	api.GET("/messages/:id", s.getMessage)
	api.PATCH("/messages/:id", s.updateDraft)
	api.DELETE("/messages/:id", s.deleteMessage)
	api.GET("/messages/:id/reply", s.replyTo)
	api.POST("/messages/:id/send", s.sendDraft)
	api.PUT("/messages/:id/read", s.setFlag(campusmail.Mailbox.SetRead))
	api.PUT("/messages/:id/starred", s.setFlag(campusmail.Mailbox.SetStarred))
	api.PUT("/messages/:id/archived", s.setFlag(campusmail.Mailbox.SetArchived))
	api.GET("/messages/:id/attachments/:aid", s.openAttachment)

	s.echo = e
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

func (s *Server) health(c echo.Context) error {
	if !s.svc.IsConnected() {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// viewer resolves the acting user and stores their Mailbox on the context.
func (s *Server) viewer(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID := c.Request().Header.Get(HeaderUserID)
		if userID == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, HeaderUserID+" header is required")
		}
		mb, err := s.svc.ClientFor(c.Request().Context(), userID)
		if err != nil {
			return err
		}
		c.Set(mailboxKey, mb)
		return next(c)
	}
}

func mailboxOf(c echo.Context) campusmail.Mailbox {
	return c.Get(mailboxKey).(campusmail.Mailbox)
}
