package plc

import (
	"fmt"
	"sync"
	"time"

	"github.com/iceisfun/goeip/internal"
	"github.com/iceisfun/goeip/pkg/cip"
	"github.com/iceisfun/goeip/pkg/metrics"
	"github.com/iceisfun/goeip/pkg/planner"
)

// ConnectionFactory creates a new Connection; overridable for tests that
// inject a simulator target instead of dialing a real controller.
type ConnectionFactory func(opts Options) (*Connection, error)

// ReconnectingConnection wraps a Connection, transparently reopening it
// (fresh TCP dial, RegisterSession, Forward Open, and Catalog) whenever
// an operation fails, per spec.md §5's "sequence mismatch forces
// reconnection" and the broader expectation that transport drops are
// recoverable without the caller re-deriving the tag catalog by hand.
type ReconnectingConnection struct {
	opts    Options
	logger  internal.Logger
	factory ConnectionFactory

	mu     sync.RWMutex
	conn   *Connection
	closed bool

	maxRetries  int
	retryDelay  time.Duration
	autoConnect bool
}

// ReconnectOption configures a ReconnectingConnection.
type ReconnectOption func(*ReconnectingConnection)

// WithMaxRetries sets the maximum retry count for a single operation.
// Default is 3; -1 means retry indefinitely.
func WithMaxRetries(n int) ReconnectOption {
	return func(rc *ReconnectingConnection) { rc.maxRetries = n }
}

// WithRetryDelay sets the delay between retries. Default is 1 second.
func WithRetryDelay(d time.Duration) ReconnectOption {
	return func(rc *ReconnectingConnection) { rc.retryDelay = d }
}

// WithAutoConnect controls whether the Connection opens immediately on
// construction. Default is true.
func WithAutoConnect(b bool) ReconnectOption {
	return func(rc *ReconnectingConnection) { rc.autoConnect = b }
}

// WithConnectionFactory overrides how new Connections are opened,
// mainly for testing against pkg/plcsim.
func WithConnectionFactory(f ConnectionFactory) ReconnectOption {
	return func(rc *ReconnectingConnection) { rc.factory = f }
}

// NewReconnectingConnection builds a ReconnectingConnection for opts.
func NewReconnectingConnection(opts Options, reconnectOpts ...ReconnectOption) (*ReconnectingConnection, error) {
	logger := opts.Logger
	if logger == nil {
		logger = internal.NopLogger()
	}

	rc := &ReconnectingConnection{
		opts:        opts,
		logger:      logger,
		factory:     Open,
		maxRetries:  3,
		retryDelay:  1 * time.Second,
		autoConnect: true,
	}
	for _, o := range reconnectOpts {
		o(rc)
	}

	if rc.autoConnect {
		if err := rc.connect(); err != nil {
			rc.logger.Warnf("goeip: initial connection to %s failed: %v; will retry on first operation", opts.IPAddress, err)
		}
	}
	return rc, nil
}

func (rc *ReconnectingConnection) connect() error {
	if rc.factory == nil {
		return fmt.Errorf("goeip: no connection factory configured")
	}
	c, err := rc.factory(rc.opts)
	if err != nil {
		return err
	}
	rc.conn = c
	metrics.ReconnectCount.WithLabelValues("success").Inc()
	return nil
}

func (rc *ReconnectingConnection) getConnection() (*Connection, error) {
	rc.mu.RLock()
	if rc.closed {
		rc.mu.RUnlock()
		return nil, fmt.Errorf("goeip: connection is closed")
	}
	c := rc.conn
	rc.mu.RUnlock()
	if c != nil {
		return c, nil
	}

	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.closed {
		return nil, fmt.Errorf("goeip: connection is closed")
	}
	if rc.conn != nil {
		return rc.conn, nil
	}
	if err := rc.connect(); err != nil {
		return nil, err
	}
	return rc.conn, nil
}

// Close closes the underlying Connection and prevents future reconnects.
func (rc *ReconnectingConnection) Close() error {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.closed = true
	if rc.conn != nil {
		err := rc.conn.Close()
		rc.conn = nil
		return err
	}
	return nil
}

// ReadTag reads a single tag-path string, reconnecting on failure.
func (rc *ReconnectingConnection) ReadTag(tagString string) (planner.Tag, error) {
	return executeWithRetry(rc, func(c *Connection) (planner.Tag, error) {
		return c.ReadTag(tagString)
	})
}

// ReadAll reads many tag-path strings, reconnecting on failure.
func (rc *ReconnectingConnection) ReadAll(tagStrings []string) ([]planner.Tag, error) {
	return executeWithRetry(rc, func(c *Connection) ([]planner.Tag, error) {
		return c.ReadAll(tagStrings)
	})
}

// WriteTag writes a single tag-path string, reconnecting on failure.
func (rc *ReconnectingConnection) WriteTag(tagString string, value cip.Value) (planner.Tag, error) {
	return executeWithRetry(rc, func(c *Connection) (planner.Tag, error) {
		return c.WriteTag(tagString, value)
	})
}

// WriteAll writes many tags, reconnecting on failure.
func (rc *ReconnectingConnection) WriteAll(writes []planner.WriteRequest) ([]planner.Tag, error) {
	return executeWithRetry(rc, func(c *Connection) ([]planner.Tag, error) {
		return c.WriteAll(writes)
	})
}

// executeWithRetry runs op against the current Connection, invalidating
// and reopening it on failure, up to rc.maxRetries additional attempts.
func executeWithRetry[T any](rc *ReconnectingConnection, op func(*Connection) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for i := 0; rc.maxRetries < 0 || i <= rc.maxRetries; i++ {
		conn, err := rc.getConnection()
		if err != nil {
			lastErr = err
			if rc.maxRetries < 0 || i < rc.maxRetries {
				time.Sleep(rc.retryDelay)
			}
			continue
		}

		res, err := op(conn)
		if err == nil {
			return res, nil
		}
		lastErr = err

		limit := fmt.Sprintf("%d", rc.maxRetries+1)
		if rc.maxRetries < 0 {
			limit = "unbounded"
		}
		rc.logger.Warnf("goeip: operation failed (attempt %d/%s): %v", i+1, limit, err)

		rc.mu.Lock()
		if rc.conn == conn {
			conn.Close()
			rc.conn = nil
		}
		rc.mu.Unlock()
		metrics.ReconnectCount.WithLabelValues("failure").Inc()

		if rc.maxRetries < 0 || i < rc.maxRetries {
			time.Sleep(rc.retryDelay)
		}
	}

	return zero, fmt.Errorf("goeip: max retries exceeded: %w", lastErr)
}
