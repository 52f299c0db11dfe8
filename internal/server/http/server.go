// Package httpserver is the public front door serving files behind share tokens.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"math"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/and161185/sharegate/internal/errs"
	"github.com/and161185/sharegate/internal/filestore"
	"github.com/and161185/sharegate/internal/model"
	"github.com/and161185/sharegate/internal/service"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

// PasswordHeader carries the optional share password.
const PasswordHeader = "X-Share-Password"

// Wire bodies. Every 403 looks the same whatever the cause.
const (
	msgDenied      = "access denied"
	msgRateLimited = "rate limit exceeded"
	msgInternal    = "internal error"
)

type errorBody struct {
	Error string `json:"error"`
}

// Options tune the front door.
type Options struct {
	// TrustProxy takes the client IP from X-Forwarded-For instead of the socket.
	TrustProxy bool
}

// Server serves shared files.
type Server struct {
	e        *echo.Echo
	recorder service.AccessRecorder
	files    filestore.Store
	log      *zap.Logger
}

// New builds the echo instance with routes and middleware.
func New(recorder service.AccessRecorder, files filestore.Store, log *zap.Logger, opts Options) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadHeaderTimeout = 10 * time.Second
	e.Server.IdleTimeout = 2 * time.Minute
	if opts.TrustProxy {
		e.IPExtractor = echo.ExtractIPFromXFFHeader()
	} else {
		e.IPExtractor = echo.ExtractIPDirect()
	}
	e.HTTPErrorHandler = errorHandler(log)

	s := &Server{e: e, recorder: recorder, files: files, log: log}

	e.Use(RequestLogger(log))
	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			log.Error("panic recovered",
				zap.String("route", c.Path()),
				zap.Error(err),
				zap.ByteString("stack", stack),
			)
			return err
		},
	}))
	e.Use(SecurityHeaders())

	e.GET("/healthz", s.handleHealth)
	e.GET("/s/:token", s.handleShare(model.AccessView))
	e.GET("/s/:token/download", s.handleShare(model.AccessDownload))
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.e }

// Start listens on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.log.Info("http listening", zap.String("addr", addr))
	if err := s.e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.e.Shutdown(ctx)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleShare(at model.AccessType) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		ctx := req.Context()
		token := c.Param("token")

		res, err := s.recorder.Authorize(ctx, service.AccessRequest{
			Token:     token,
			IP:        c.RealIP(),
			UserAgent: req.UserAgent(),
			Type:      at,
			Password:  req.Header.Get(PasswordHeader),
		})
		if err != nil {
			return internalError(c)
		}
		if !res.Allowed {
			return writeDenial(c, res)
		}

		rc, info, err := s.files.LoadBytes(ctx, res.Record.FileID)
		if err != nil {
			s.log.Error("load shared file",
				zap.String("file_id", res.Record.FileID.String()),
				zap.Error(err),
			)
			return internalError(c)
		}
		defer func() { _ = rc.Close() }()

		disposition := "inline"
		if at == model.AccessDownload {
			disposition = "attachment"
		}
		h := c.Response().Header()
		h.Set(echo.HeaderContentDisposition, mime.FormatMediaType(disposition, map[string]string{"filename": info.Name}))
		h.Set(echo.HeaderContentLength, strconv.FormatInt(info.Size, 10))
		h.Set(echo.HeaderLastModified, info.ModTime.UTC().Format(http.TimeFormat))
		h.Set("Cache-Control", "no-store")
		return c.Stream(http.StatusOK, info.ContentType, rc)
	}
}

// writeDenial maps a verdict to the wire. The internal reason was already logged.
func writeDenial(c echo.Context, res model.AuthorizationResult) error {
	status := res.Denial.HTTPStatus()
	err := res.Err()
	switch {
	case errors.Is(err, errs.ErrRateLimited):
		setRetryAfter(c, res.RetryAfter)
		return c.JSON(status, errorBody{Error: msgRateLimited})
	case errors.Is(err, errs.ErrSuspiciousActivity):
		setRetryAfter(c, res.RetryAfter)
	}
	return c.JSON(status, errorBody{Error: msgDenied})
}

func setRetryAfter(c echo.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	secs := int64(math.Ceil(d.Seconds()))
	c.Response().Header().Set(echo.HeaderRetryAfter, strconv.FormatInt(secs, 10))
}

func internalError(c echo.Context) error {
	return c.JSON(http.StatusInternalServerError, errorBody{Error: msgInternal})
}

// errorHandler renders echo errors (unknown routes, panics) as JSON.
func errorHandler(log *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		code := http.StatusInternalServerError
		msg := msgInternal
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			if code < http.StatusInternalServerError {
				msg = fmt.Sprint(he.Message)
			}
		} else {
			log.Error("unhandled http error", zap.String("route", c.Path()), zap.Error(err))
		}
		if c.Request().Method == http.MethodHead {
			err = c.NoContent(code)
		} else {
			err = c.JSON(code, errorBody{Error: msg})
		}
		if err != nil {
			log.Warn("write error response", zap.Error(err))
		}
	}
}
