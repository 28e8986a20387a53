package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
)

// ErrAlreadyRunning is returned when Start is called on a running broker.
var ErrAlreadyRunning = errors.New("broker: already running")

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger discards all log output. Used when no logger is configured.
type noopLogger struct{}

func (noopLogger) Info(msg string, args ...any)  {}
func (noopLogger) Error(msg string, args ...any) {}

// Broker runs an embedded MQTT broker in-process.
//
// It wraps mochi-mqtt behind a small lifecycle surface so the simulator can
// serve its own broker when no external one is available, and so integration
// tests do not depend on the environment. All connections are accepted; the
// embedded broker is for local and test use, not production deployments.
//
// Thread Safety:
//   - Start and Stop are safe for concurrent use.
type Broker struct {
	port   int
	server *mochi.Server
	logger Logger

	mu      sync.Mutex
	running bool
}

// New creates an embedded broker listening on the given TCP port.
//
// Returns:
//   - *Broker: Broker ready to Start
//   - error: If the mochi server rejects its hooks
func New(port int, logger Logger) (*Broker, error) {
	if logger == nil {
		logger = noopLogger{}
	}

	server := mochi.New(&mochi.Options{
		InlineClient: true,
	})

	// mochi-mqtt requires an auth hook - allow all connections
	if err := server.AddHook(new(auth.AllowHook), nil); err != nil {
		return nil, fmt.Errorf("broker: adding allow hook: %w", err)
	}

	return &Broker{
		port:   port,
		server: server,
		logger: logger,
	}, nil
}

// Start begins serving MQTT on the configured port.
//
// The listener is bound synchronously, so a successful return means clients
// can connect. Serving itself runs in a background goroutine.
func (b *Broker) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return ErrAlreadyRunning
	}

	listener := listeners.NewTCP(listeners.Config{
		ID:      fmt.Sprintf("mqtt-%d", b.port),
		Address: fmt.Sprintf(":%d", b.port),
	})

	if err := b.server.AddListener(listener); err != nil {
		return fmt.Errorf("broker: adding listener: %w", err)
	}

	go func() {
		if err := b.server.Serve(); err != nil {
			b.logger.Error("embedded broker serve error", "error", err)
		}
	}()

	b.running = true
	b.logger.Info("embedded broker listening", "port", b.port)

	return nil
}

// Port returns the TCP port the broker listens on.
func (b *Broker) Port() int {
	return b.port
}

// Stop shuts the broker down, waiting up to timeout for a clean close.
//
// Returns:
//   - error: If the close did not complete within the timeout
func (b *Broker) Stop(ctx context.Context, timeout time.Duration) error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return nil
	}
	b.running = false
	b.mu.Unlock()

	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- b.server.Close()
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("broker: closing server: %w", err)
		}
		return nil
	case <-shutdownCtx.Done():
		return fmt.Errorf("broker: shutdown timed out: %w", shutdownCtx.Err())
	}
}
