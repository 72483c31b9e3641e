package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/forPelevin/segrecap/internal/failure"
	"github.com/forPelevin/segrecap/internal/logger"
	"github.com/forPelevin/segrecap/internal/types"
)

const (
	msgInvalidDuration = "Invalid video duration provided."
	msgNoFile          = "No file uploaded."
	msgSuccess         = "Files uploaded, converted, and saved successfully"
	msgFailure         = "An error occurred during file conversion."
)

// Runner is the orchestration entry point the upload handler drives.
type Runner interface {
	Run(ctx context.Context, totalSeconds int, src types.Source) ([]types.TranscriptionResult, error)
}

type Options struct {
	Addr        string
	MaxUploadMB int
}

type Server struct {
	e      *echo.Echo
	runner Runner
	log    logger.Logger
	addr   string
}

type uploadResponse struct {
	Message              string        `json:"message"`
	TranscriptionResults []types.Entry `json:"transcriptionResults"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Kind    string `json:"kind,omitempty"`
	Segment int    `json:"segment,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

func New(runner Runner, log logger.Logger, opts Options) *Server {
	if log == nil {
		log = logger.Nop()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	if opts.MaxUploadMB > 0 {
		e.Use(middleware.BodyLimit(strconv.Itoa(opts.MaxUploadMB) + "M"))
	}

	s := &Server{e: e, runner: runner, log: log, addr: opts.Addr}
	e.POST("/upload", s.handleUpload)
	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	return s
}

func (s *Server) Handler() http.Handler { return s.e }

// Start serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info(ctx, "listening on %s", s.addr)
		errCh <- s.e.Start(s.addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.log.Info(context.Background(), "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.e.Shutdown(shutdownCtx)
}

func (s *Server) handleUpload(c echo.Context) error {
	req := c.Request()
	ctx := logger.WithRunID(req.Context(), c.Response().Header().Get(echo.HeaderXRequestID))

	duration, ok := parseDuration(c.FormValue("duration"))
	if !ok {
		return c.String(http.StatusBadRequest, msgInvalidDuration)
	}

	fh, err := c.FormFile("file")
	if err != nil {
		s.log.Warn(ctx, "no file uploaded: %v", err)
		return c.String(http.StatusBadRequest, msgNoFile)
	}
	f, err := fh.Open()
	if err != nil {
		return c.String(http.StatusBadRequest, msgNoFile)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		s.log.Error(ctx, "read upload %s: %v", fh.Filename, err)
		return c.String(http.StatusBadRequest, msgNoFile)
	}

	s.log.Info(ctx, "upload %s: %d bytes, %ds", fh.Filename, len(data), duration)
	results, err := s.runner.Run(ctx, duration, types.Source{Name: fh.Filename, Data: data})
	if err != nil {
		s.log.Error(ctx, "upload %s failed: %v", fh.Filename, err)
		return c.JSON(http.StatusInternalServerError, failureBody(err))
	}

	return c.JSON(http.StatusOK, uploadResponse{
		Message:              msgSuccess,
		TranscriptionResults: types.Entries(results),
	})
}

// parseDuration accepts a positive whole number of seconds.
func parseDuration(raw string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func failureBody(err error) errorResponse {
	out := errorResponse{Error: msgFailure}
	var fe *failure.Error
	if !errors.As(err, &fe) {
		return out
	}
	out.Segment = fe.Segment
	// Report the innermost classified cause.
	cause := fe
	for {
		var next *failure.Error
		if cause.Err == nil || !errors.As(cause.Err, &next) {
			break
		}
		cause = next
	}
	out.Kind = string(cause.Kind)
	if cause.Op != "" {
		out.Detail = cause.Op
	}
	return out
}
