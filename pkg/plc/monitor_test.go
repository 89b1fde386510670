package plc

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/iceisfun/goeip/internal"
	"github.com/iceisfun/goeip/pkg/cip"
	"github.com/iceisfun/goeip/pkg/planner"
)

func TestNewTagMonitorRequiresReader(t *testing.T) {
	if _, err := NewTagMonitor(nil); err == nil {
		t.Fatalf("expected error when reader is missing")
	}
}

func TestTagMonitorRefreshableChangeDetection(t *testing.T) {
	reader := newStubTagReader()
	reader.setValue("Example", cip.IntValue(cip.TypeDINT, 1))

	monitor, err := NewTagMonitor(nil, WithMonitorReader(reader), WithMonitorLogger(internal.NopLogger()))
	if err != nil {
		t.Fatalf("NewTagMonitor() error = %v", err)
	}
	t.Cleanup(monitor.Close)

	state := &dintState{}
	if _, err := monitor.AddTag("Example", WithFrequency(10*time.Millisecond), WithRefreshable(state)); err != nil {
		t.Fatalf("AddTag() error = %v", err)
	}

	evt := waitForEvent(t, monitor, time.Second)
	if evt.Err != nil {
		t.Fatalf("first event error = %v", evt.Err)
	}
	if !evt.Changed {
		t.Fatalf("expected initial change to be true")
	}

	reader.setValue("Example", cip.IntValue(cip.TypeDINT, 1))
	evt = waitForEvent(t, monitor, time.Second)
	if evt.Changed {
		t.Fatalf("expected unchanged state when value repeats")
	}

	reader.setValue("Example", cip.IntValue(cip.TypeDINT, 42))
	evt = waitForEvent(t, monitor, time.Second)
	if evt.Err != nil {
		t.Fatalf("event error = %v", evt.Err)
	}
	if !evt.Changed {
		t.Fatalf("expected change when value differs")
	}
}

func TestTagMonitorStopSubscription(t *testing.T) {
	reader := newStubTagReader()
	reader.setValue("StopMe", cip.IntValue(cip.TypeDINT, 5))

	monitor, err := NewTagMonitor(nil, WithMonitorReader(reader), WithMonitorLogger(internal.NopLogger()))
	if err != nil {
		t.Fatalf("NewTagMonitor() error = %v", err)
	}
	t.Cleanup(monitor.Close)

	sub, err := monitor.AddTag("StopMe", WithFrequency(5*time.Millisecond))
	if err != nil {
		t.Fatalf("AddTag() error = %v", err)
	}

	_ = waitForEvent(t, monitor, time.Second)

	sub.Stop()
	drainEvents(monitor, 50*time.Millisecond)

	reader.setValue("StopMe", cip.IntValue(cip.TypeDINT, 99))

	select {
	case evt := <-monitor.Wait():
		t.Fatalf("received unexpected event after stop: %+v", evt)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestTagMonitorErrorEvent(t *testing.T) {
	reader := newStubTagReader()
	reader.setError("ErrTag", errors.New("boom"))

	monitor, err := NewTagMonitor(nil, WithMonitorReader(reader), WithMonitorLogger(internal.NopLogger()))
	if err != nil {
		t.Fatalf("NewTagMonitor() error = %v", err)
	}
	t.Cleanup(monitor.Close)

	if _, err := monitor.AddTag("ErrTag", WithFrequency(5*time.Millisecond)); err != nil {
		t.Fatalf("AddTag() error = %v", err)
	}

	evt := waitForEvent(t, monitor, time.Second)
	if evt.Err == nil {
		t.Fatalf("expected error event")
	}
}

type stubTagReader struct {
	mu     sync.Mutex
	values map[string]cip.Value
	errs   map[string]error
}

func newStubTagReader() *stubTagReader {
	return &stubTagReader{
		values: make(map[string]cip.Value),
		errs:   make(map[string]error),
	}
}

func (s *stubTagReader) ReadTag(tag string) (planner.Tag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.errs[tag]; err != nil {
		return planner.Tag{}, err
	}
	v, ok := s.values[tag]
	if !ok {
		return planner.Tag{}, errors.New("unknown tag")
	}
	return planner.Tag{Name: tag, Value: v, Type: v.Type}, nil
}

func (s *stubTagReader) setValue(tag string, v cip.Value) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[tag] = v
	delete(s.errs, tag)
}

func (s *stubTagReader) setError(tag string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.errs, tag)
	} else {
		s.errs[tag] = err
	}
}

func waitForEvent(t *testing.T, monitor *TagMonitor, timeout time.Duration) TagEvent {
	t.Helper()
	select {
	case evt := <-monitor.Wait():
		return evt
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for event")
	}
	return TagEvent{}
}

func drainEvents(monitor *TagMonitor, window time.Duration) {
	timer := time.NewTimer(window)
	defer timer.Stop()
	for {
		select {
		case <-monitor.Wait():
		case <-timer.C:
			return
		}
	}
}

type dintState struct {
	mu    sync.Mutex
	value int64
	set   bool
}

func (d *dintState) Refresh(snapshot TagSnapshot) (bool, error) {
	next := snapshot.Value.Int

	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.set || d.value != next {
		d.value = next
		d.set = true
		return true, nil
	}
	return false, nil
}
