package plc

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/iceisfun/goeip/internal"
)

func TestReconnectingConnection_RetriesOnDialFailure(t *testing.T) {
	attempts := 0
	factory := func(opts Options) (*Connection, error) {
		attempts++
		return nil, fmt.Errorf("dial failed")
	}

	rc, err := NewReconnectingConnection(NewOptions("10.0.0.1"),
		WithConnectionFactory(factory),
		WithMaxRetries(2),
		WithRetryDelay(1*time.Millisecond),
		WithAutoConnect(false),
	)
	if err != nil {
		t.Fatalf("NewReconnectingConnection() error = %v", err)
	}

	if _, err := rc.ReadTag("Foo"); err == nil {
		t.Fatal("expected error after exhausting retries")
	}

	// maxRetries=2 means attempts for i=0,1,2 -> 3 total.
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestReconnectingConnection_InfiniteRetrySucceedsEventually(t *testing.T) {
	attempts := 0
	factory := func(opts Options) (*Connection, error) {
		return &Connection{opts: opts, logger: internal.NopLogger(), state: StateConnected}, nil
	}

	rc, err := NewReconnectingConnection(NewOptions("10.0.0.1"),
		WithConnectionFactory(factory),
		WithMaxRetries(-1),
		WithRetryDelay(1*time.Microsecond),
		WithAutoConnect(false),
	)
	if err != nil {
		t.Fatalf("NewReconnectingConnection() error = %v", err)
	}

	result, err := executeWithRetry(rc, func(c *Connection) (int, error) {
		attempts++
		if attempts < 5 {
			return 0, errors.New("not yet")
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("executeWithRetry() error = %v", err)
	}
	if result != 42 {
		t.Errorf("result = %d, want 42", result)
	}
	if attempts < 5 {
		t.Errorf("attempts = %d, want >= 5", attempts)
	}
}

func TestReconnectingConnection_CloseStopsReconnects(t *testing.T) {
	factory := func(opts Options) (*Connection, error) {
		return nil, errors.New("dial failed")
	}

	rc, err := NewReconnectingConnection(NewOptions("10.0.0.1"),
		WithConnectionFactory(factory),
		WithAutoConnect(false),
	)
	if err != nil {
		t.Fatalf("NewReconnectingConnection() error = %v", err)
	}

	if err := rc.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if _, err := rc.getConnection(); err == nil {
		t.Fatal("expected error from a closed ReconnectingConnection")
	}
}
