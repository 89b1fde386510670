package plc

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/iceisfun/goeip/internal"
	"github.com/iceisfun/goeip/pkg/cip"
	"github.com/iceisfun/goeip/pkg/planner"
)

// ErrMonitorClosed is returned when an operation targets a stopped TagMonitor.
var ErrMonitorClosed = errors.New("goeip: tag monitor is closed")

// TagReader is the minimal interface needed by TagMonitor to fetch tag
// values, satisfied by *Connection and *ReconnectingConnection alike.
type TagReader interface {
	ReadTag(tagString string) (planner.Tag, error)
}

// MonitorOption configures a TagMonitor instance.
type MonitorOption func(*monitorConfig)

type monitorConfig struct {
	reader      TagReader
	logger      internal.Logger
	eventBuffer int
}

// WithMonitorLogger overrides the logger used by the monitor.
func WithMonitorLogger(logger internal.Logger) MonitorOption {
	return func(cfg *monitorConfig) { cfg.logger = logger }
}

// WithMonitorReader injects a custom reader implementation, primarily
// for tests against pkg/plcsim.
func WithMonitorReader(reader TagReader) MonitorOption {
	return func(cfg *monitorConfig) { cfg.reader = reader }
}

// WithEventBuffer configures the size of the event channel buffer.
func WithEventBuffer(size int) MonitorOption {
	return func(cfg *monitorConfig) {
		if size <= 0 {
			size = 1
		}
		cfg.eventBuffer = size
	}
}

// TagMonitor polls one or more tags on a schedule and emits TagEvents
// (spec.md §1: "all reads are polled"; there is no CIP push/subscribe
// mechanism in scope).
type TagMonitor struct {
	conn   *Connection
	reader TagReader
	logger internal.Logger

	mu     sync.RWMutex
	subs   map[int64]*tagSubscription
	closed bool
	nextID int64
	stopCh chan struct{}
	events chan TagEvent

	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewTagMonitor creates a monitor bound to conn. A custom reader may be
// supplied via WithMonitorReader for tests.
func NewTagMonitor(conn *Connection, opts ...MonitorOption) (*TagMonitor, error) {
	cfg := monitorConfig{eventBuffer: 64}
	if conn != nil {
		cfg.reader = conn
		cfg.logger = conn.logger
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.reader == nil {
		return nil, errors.New("goeip: tag monitor requires a connection or custom reader")
	}
	if cfg.logger == nil {
		cfg.logger = internal.NopLogger()
	}

	m := &TagMonitor{
		conn:   conn,
		reader: cfg.reader,
		logger: cfg.logger,
		subs:   make(map[int64]*tagSubscription),
		stopCh: make(chan struct{}),
		events: make(chan TagEvent, cfg.eventBuffer),
	}
	return m, nil
}

// Connection returns the underlying Connection when available; nil when
// constructed with a custom reader.
func (m *TagMonitor) Connection() *Connection { return m.conn }

// Wait exposes the receive-only event stream emitted by the monitor.
// The channel closes when Close is called.
func (m *TagMonitor) Wait() <-chan TagEvent { return m.events }

// Close stops the monitor and all active subscriptions.
func (m *TagMonitor) Close() {
	m.closeOnce.Do(func() {
		close(m.stopCh)

		m.mu.Lock()
		subs := make([]*tagSubscription, 0, len(m.subs))
		for _, sub := range m.subs {
			subs = append(subs, sub)
		}
		m.closed = true
		m.subs = make(map[int64]*tagSubscription)
		m.mu.Unlock()

		for _, sub := range subs {
			sub.stop()
		}
		m.wg.Wait()
		close(m.events)
	})
}

// AddTag registers a tag to poll, returning a handle to stop it.
func (m *TagMonitor) AddTag(tagString string, opts ...TagOption) (*TagSubscription, error) {
	if tagString == "" {
		return nil, errors.New("goeip: tag name is required")
	}

	cfg := defaultTagConfig()
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrMonitorClosed
	}
	m.nextID++
	id := m.nextID
	sub := newTagSubscription(id, tagString, *cfg, m)
	m.subs[id] = sub
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		sub.run()
		m.wg.Done()
	}()

	return &TagSubscription{monitor: m, id: id}, nil
}

func (m *TagMonitor) removeSubscription(id int64) {
	m.mu.Lock()
	sub, ok := m.subs[id]
	if ok {
		delete(m.subs, id)
	}
	m.mu.Unlock()
	if ok {
		sub.stop()
	}
}

func (m *TagMonitor) emit(event TagEvent) {
	select {
	case <-m.stopCh:
		return
	default:
	}
	select {
	case <-m.stopCh:
	case m.events <- event:
	}
}

// TagSubscription represents a running polling routine. Stop should be
// called when a subscription is no longer needed to free resources.
type TagSubscription struct {
	monitor *TagMonitor
	id      int64
	once    sync.Once
}

// ID returns the subscription identifier carried on its events.
func (s *TagSubscription) ID() int64 { return s.id }

// Stop cancels the subscription.
func (s *TagSubscription) Stop() {
	if s.monitor == nil {
		return
	}
	s.once.Do(func() {
		s.monitor.removeSubscription(s.id)
	})
}

// TagEvent is the result of one polling cycle.
type TagEvent struct {
	SubscriptionID int64
	Snapshot       TagSnapshot
	Err            error
	Changed        bool
}

// TagSnapshot is the latest decoded value of a polled tag.
type TagSnapshot struct {
	Name      string
	Timestamp time.Time
	Type      cip.DataType
	Value     cip.Value
}

// Into unmarshals a struct-typed snapshot's raw bytes into dst, for UDT
// tags where the caller has a matching Go struct (spec.md §9: reflection
// fallback is kept for struct/array decode).
func (s TagSnapshot) Into(dst any) error {
	if s.Value.Kind != cip.KindBytes {
		return fmt.Errorf("goeip: snapshot for %s is not struct-typed (kind=%s)", s.Name, s.Value.Kind)
	}
	return cip.Unmarshal(s.Value.Bytes, dst)
}

// Refreshable models user-defined state updated by tag snapshots.
type Refreshable interface {
	Refresh(snapshot TagSnapshot) (changed bool, err error)
}

// TagHandler is invoked after a successful poll and before its event is
// dispatched.
type TagHandler func(snapshot TagSnapshot)

type tagSubscription struct {
	id          int64
	name        string
	frequency   time.Duration
	handler     TagHandler
	refreshable Refreshable
	immediate   bool

	monitor *TagMonitor

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func newTagSubscription(id int64, name string, cfg tagConfig, monitor *TagMonitor) *tagSubscription {
	return &tagSubscription{
		id:          id,
		name:        name,
		frequency:   cfg.frequency,
		handler:     cfg.handler,
		refreshable: cfg.refreshable,
		immediate:   cfg.immediate,
		monitor:     monitor,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

func (s *tagSubscription) run() {
	defer close(s.doneCh)

	if s.immediate {
		s.poll()
	}

	ticker := time.NewTicker(s.frequency)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.poll()
		case <-s.stopCh:
			return
		case <-s.monitor.stopCh:
			return
		}
	}
}

func (s *tagSubscription) stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		<-s.doneCh
	})
}

func (s *tagSubscription) poll() {
	ts := time.Now()
	tag, err := s.monitor.reader.ReadTag(s.name)
	if err == nil {
		err = tag.Err
	}
	if err != nil {
		s.monitor.logger.Warnf("goeip: tag monitor read failed for %s: %v", s.name, err)
		s.monitor.emit(TagEvent{SubscriptionID: s.id, Snapshot: TagSnapshot{Name: s.name, Timestamp: ts}, Err: err})
		return
	}

	snapshot := TagSnapshot{Name: s.name, Timestamp: ts, Type: tag.Type, Value: tag.Value}
	event := TagEvent{SubscriptionID: s.id, Snapshot: snapshot, Changed: true}

	if s.refreshable != nil {
		changed, err := s.refreshable.Refresh(snapshot)
		if err != nil {
			s.monitor.logger.Warnf("goeip: tag monitor refresh failed for %s: %v", s.name, err)
			event.Err = err
		}
		event.Changed = changed
	}

	if event.Err == nil && s.handler != nil {
		s.handler(snapshot)
	}

	s.monitor.emit(event)
}

type TagOption func(*tagConfig) error

type tagConfig struct {
	frequency   time.Duration
	handler     TagHandler
	refreshable Refreshable
	immediate   bool
}

func defaultTagConfig() *tagConfig {
	return &tagConfig{
		frequency: 500 * time.Millisecond,
		immediate: true,
	}
}

// WithFrequency configures the poll interval for a tag subscription.
func WithFrequency(freq time.Duration) TagOption {
	return func(cfg *tagConfig) error {
		if freq <= 0 {
			return fmt.Errorf("goeip: frequency must be positive")
		}
		cfg.frequency = freq
		return nil
	}
}

// WithRefreshable attaches state updated each time the tag is polled.
func WithRefreshable(r Refreshable) TagOption {
	return func(cfg *tagConfig) error {
		if r == nil {
			return fmt.Errorf("goeip: refreshable cannot be nil")
		}
		cfg.refreshable = r
		return nil
	}
}

// WithHandler registers a callback invoked after a successful poll.
func WithHandler(handler TagHandler) TagOption {
	return func(cfg *tagConfig) error {
		if handler == nil {
			return fmt.Errorf("goeip: handler cannot be nil")
		}
		cfg.handler = handler
		return nil
	}
}

// WithInitialRead toggles whether a subscription polls immediately when
// created.
func WithInitialRead(enabled bool) TagOption {
	return func(cfg *tagConfig) error {
		cfg.immediate = enabled
		return nil
	}
}
