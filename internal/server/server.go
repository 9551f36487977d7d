// Package server bridges the in-process message bus to other processes over
// HTTP: lifecycle messages stream out as SSE, control commands and trigger
// activations come in as JSON.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"

	"ghostwriter/internal/background"
	"ghostwriter/internal/bus"
	"ghostwriter/internal/completion"
	"ghostwriter/internal/logger"
	"ghostwriter/internal/menu"
	"ghostwriter/internal/protocol"
)

const (
	defaultKeepAlive = 15 * time.Second

	// eventNotice tags user notifications on the event stream; lifecycle
	// messages carry no event name.
	eventNotice = "notice"
)

// Activator starts generations for trigger activations.
type Activator interface {
	Activate(triggerID, selection string) (*completion.Run, error)
}

// TriggerLister lists the registered triggers.
type TriggerLister interface {
	Triggers() []menu.Trigger
}

// TurnStore reads and merges the persisted turn list.
type TurnStore interface {
	LoadTurns(ctx context.Context) ([]protocol.Turn, error)
	SaveTurns(ctx context.Context, upserts []protocol.Turn, removed []string) error
}

// Config wires the server to the rest of the process.
type Config struct {
	Bus       *bus.Bus
	Activator Activator
	Triggers  TriggerLister
	Turns     TurnStore
	// KeepAlive is the interval of SSE comment pings; defaults to 15s.
	KeepAlive time.Duration
}

// ActivateRequest is the body of POST /triggers/:id.
type ActivateRequest struct {
	SelectionText string `json:"selectionText"`
}

// ActivateResponse is the body of a successful activation.
type ActivateResponse struct {
	TurnID string `json:"turnId"`
}

// MergeTurnsRequest is the body of POST /chats. Turns are merged by id.
type MergeTurnsRequest struct {
	Upserts []protocol.Turn `json:"upserts"`
	Removed []string        `json:"removed"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Server is the HTTP bridge.
type Server struct {
	cfg  Config
	app  *fiber.App
	done chan struct{}
}

// New builds the fiber app and its routes.
func New(cfg Config) *Server {
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = defaultKeepAlive
	}
	s := &Server{cfg: cfg, done: make(chan struct{})}
	s.app = fiber.New(fiber.Config{
		AppName:               "ghostwriter",
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})
	s.app.Get("/events", s.handleEvents)
	s.app.Post("/control", s.handleControl)
	s.app.Get("/triggers", s.handleTriggers)
	s.app.Post("/triggers/:id", s.handleActivate)
	s.app.Get("/chats", s.handleChats)
	s.app.Post("/chats", s.handleMergeChats)
	s.app.Get("/protocol", s.handleProtocol)
	s.app.Get("/health", s.handleHealth)
	return s
}

// App exposes the fiber app for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves on addr until Shutdown.
func (s *Server) Listen(addr string) error {
	logger.Info("http bridge listening", "addr", addr)
	return s.app.Listen(addr)
}

// Serve serves on an existing listener until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	logger.Info("http bridge listening", "addr", ln.Addr().String())
	return s.app.Listener(ln)
}

// Shutdown ends open event streams and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) handleEvents(c *fiber.Ctx) error {
	sub := s.cfg.Bus.Subscribe()
	notices := s.cfg.Bus.SubscribeNotices()

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")

	// The connection is never reused after the stream, so reading it only
	// serves to notice the client hanging up.
	c.Context().SetConnectionClose()
	if conn := c.Context().Conn(); conn != nil {
		go detachOnHangup(conn, func() {
			sub.Close()
			notices.Close()
		})
	}

	keepAlive := s.cfg.KeepAlive
	done := s.done
	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer sub.Close()
		defer notices.Close()
		ticker := time.NewTicker(keepAlive)
		defer ticker.Stop()

		// The comment line flushes headers so clients see the stream open.
		if err := writeFlush(w, ": connected\n\n"); err != nil {
			return
		}
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := writeFlush(w, ": ping\n\n"); err != nil {
					logger.Debug("event stream closed", "err", err)
					return
				}
			case n, ok := <-notices.C():
				if !ok {
					return
				}
				if err := writeRecord(w, eventNotice, n); err != nil {
					logger.Debug("event stream closed", "err", err)
					return
				}
			case msg, ok := <-sub.C():
				if !ok {
					return
				}
				if err := writeRecord(w, "", msg); err != nil {
					logger.Debug("event stream closed", "err", err)
					return
				}
			}
		}
	}))
	return nil
}

// detachOnHangup runs detach as soon as the client closes the connection, so
// a dead stream stops counting as a receiver before the next keepalive. An
// SSE client sends nothing after its request, so only a read error matters.
func detachOnHangup(conn net.Conn, detach func()) {
	buf := make([]byte, 512)
	for {
		if _, err := conn.Read(buf); err != nil {
			logger.Debug("event stream client gone", "remote", conn.RemoteAddr(), "err", err)
			detach()
			return
		}
	}
}

func writeRecord(w *bufio.Writer, event string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		logger.Warn("encode event record", "event", event, "err", err)
		return nil
	}
	frame := "data: " + string(raw) + "\n\n"
	if event != "" {
		frame = "event: " + event + "\n" + frame
	}
	return writeFlush(w, frame)
}

func writeFlush(w *bufio.Writer, s string) error {
	if _, err := w.WriteString(s); err != nil {
		return err
	}
	return w.Flush()
}

func (s *Server) handleControl(c *fiber.Ctx) error {
	var cmd protocol.Control
	if err := json.Unmarshal(c.Body(), &cmd); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("decode control command: %v", err))
	}
	if err := s.cfg.Bus.SendControl(cmd); err != nil {
		switch {
		case errors.Is(err, protocol.ErrInvalidControl):
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		case errors.Is(err, bus.ErrNoReceiver), errors.Is(err, bus.ErrClosed):
			return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
		default:
			return err
		}
	}
	return c.SendStatus(fiber.StatusAccepted)
}

func (s *Server) handleTriggers(c *fiber.Ctx) error {
	triggers := s.cfg.Triggers.Triggers()
	if triggers == nil {
		triggers = []menu.Trigger{}
	}
	return c.JSON(triggers)
}

func (s *Server) handleActivate(c *fiber.Ctx) error {
	var req ActivateRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("decode activation: %v", err))
	}
	run, err := s.cfg.Activator.Activate(c.Params("id"), req.SelectionText)
	if err != nil {
		switch {
		case errors.Is(err, menu.ErrUnknownTrigger):
			return fiber.NewError(fiber.StatusNotFound, err.Error())
		case errors.Is(err, menu.ErrEmptySelection):
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		case errors.Is(err, completion.ErrBusy):
			return fiber.NewError(fiber.StatusConflict, err.Error())
		case errors.Is(err, background.ErrNotRunning):
			return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
		default:
			return err
		}
	}
	return c.Status(fiber.StatusAccepted).JSON(ActivateResponse{TurnID: run.TurnID})
}

func (s *Server) handleChats(c *fiber.Ctx) error {
	turns, err := s.cfg.Turns.LoadTurns(c.UserContext())
	if err != nil {
		return err
	}
	if turns == nil {
		turns = []protocol.Turn{}
	}
	return c.JSON(turns)
}

func (s *Server) handleMergeChats(c *fiber.Ctx) error {
	var req MergeTurnsRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("decode turns: %v", err))
	}
	if err := s.cfg.Turns.SaveTurns(c.UserContext(), req.Upserts, req.Removed); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleProtocol(c *fiber.Ctx) error {
	schema, err := protocol.Schema()
	if err != nil {
		return err
	}
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Send(schema)
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"receivers": s.cfg.Bus.Receivers()})
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var ferr *fiber.Error
	if errors.As(err, &ferr) {
		code = ferr.Code
	}
	if code >= fiber.StatusInternalServerError {
		logger.Error("http request failed", "method", c.Method(), "path", c.Path(), "err", err)
	}
	return c.Status(code).JSON(ErrorResponse{Error: err.Error()})
}
