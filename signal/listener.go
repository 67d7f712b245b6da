package signal

import (
	"context"
	"encoding/json"
	"net"
	"os"
	"sync"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/nerio-ai/cascade"
)

// callbackRequest is the push callback wire format:
// POST http://{callbackAddress}/ with this JSON body, answered with 200 on
// an accepted wake-up, 403 on token mismatch, 500 on internal error.
type callbackRequest struct {
	SignalID string          `json:"signalId"`
	Token    string          `json:"token"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Source   string          `json:"source,omitempty"`
}

// CallbackHandler validates and applies an accepted push notification
type CallbackHandler func(ctx context.Context, signalID, token string, payload json.RawMessage, source string) error

// CallbackListener is the embedded HTTP endpoint remote firers push wake-up
// notifications to. It is a separate component with its own lifecycle so it
// can be embedded next to a signal manager, run standalone, or left out
// entirely (polling alone is sufficient for correctness).
type CallbackListener struct {
	host    string
	bind    string
	logger  zerolog.Logger
	handler CallbackHandler

	mu      sync.Mutex
	app     *fiber.App
	ln      net.Listener
	running bool
}

// ListenerOption configures a callback listener
type ListenerOption func(*CallbackListener)

// WithListenerLogger sets a custom logger
func WithListenerLogger(logger zerolog.Logger) ListenerOption {
	return func(l *CallbackListener) {
		l.logger = logger
	}
}

// WithAdvertisedHost sets the host other processes use to reach this
// listener. Defaults to 127.0.0.1, which is only correct for single-host
// deployments.
func WithAdvertisedHost(host string) ListenerOption {
	return func(l *CallbackListener) {
		l.host = host
	}
}

// WithBindAddress sets the local bind address. The default binds an
// ephemeral port on all interfaces.
func WithBindAddress(addr string) ListenerOption {
	return func(l *CallbackListener) {
		l.bind = addr
	}
}

// NewCallbackListener creates a stopped listener. Attach it to a manager
// with WithListener, then call Start.
func NewCallbackListener(opts ...ListenerOption) *CallbackListener {
	defaultLogger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().
		Timestamp().
		Logger().
		Level(zerolog.InfoLevel)

	l := &CallbackListener{
		host:   "127.0.0.1",
		bind:   ":0",
		logger: defaultLogger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Start binds the listener and begins serving callbacks. Starting an
// already-running listener is an error.
func (l *CallbackListener) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		return cascade.NewValidation("callback listener already running")
	}
	if l.handler == nil {
		return cascade.NewValidation("callback listener has no manager attached")
	}

	ln, err := net.Listen("tcp", l.bind)
	if err != nil {
		return err
	}

	app := fiber.New()

	app.Get("/health", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	app.Post("/", func(c fiber.Ctx) error {
		var req callbackRequest
		if err := c.Bind().Body(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid callback body",
			})
		}

		err := l.handler(c.Context(), req.SignalID, req.Token, req.Payload, req.Source)
		switch {
		case err == nil:
			return c.JSON(fiber.Map{"accepted": true})
		case cascade.IsTokenMismatch(err), cascade.IsNotFound(err):
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "signal or token not recognized",
			})
		default:
			l.logger.Error().
				Str("signal_id", req.SignalID).
				Err(err).
				Msg("Callback handling failed")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "internal error",
			})
		}
	})

	l.app = app
	l.ln = ln
	l.running = true

	go func() {
		if err := app.Listener(ln, fiber.ListenConfig{DisableStartupMessage: true}); err != nil {
			l.logger.Error().Err(err).Msg("Callback listener stopped unexpectedly")
		}
	}()

	l.logger.Info().
		Str("address", ln.Addr().String()).
		Msg("Callback listener started")

	return nil
}

// Stop shuts the listener down, draining in-flight callbacks
func (l *CallbackListener) Stop(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.running {
		return nil
	}
	l.running = false

	err := l.app.ShutdownWithContext(ctx)
	l.app = nil
	l.ln = nil
	return err
}

// Running reports whether the listener is serving
func (l *CallbackListener) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// Host returns the advertised host for callback addresses
func (l *CallbackListener) Host() string {
	return l.host
}

// Port returns the bound port, or zero when stopped
func (l *CallbackListener) Port() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln == nil {
		return 0
	}
	if addr, ok := l.ln.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}
