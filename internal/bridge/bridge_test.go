package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"sync"
	"testing"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/marpi82/bragerconnect/internal/connection"
	"github.com/marpi82/bragerconnect/internal/wrkfnc"
)

type published struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	fail map[string]error
	ch   chan published
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{fail: map[string]error{}, ch: make(chan published, 64)}
}

func (p *fakePublisher) Publish(topic string, payload []byte, qos byte, retained bool) error {
	p.mu.Lock()
	err := p.fail[topic]
	p.mu.Unlock()
	if err != nil {
		return err
	}
	msg := published{topic: topic, payload: payload, qos: qos, retained: retained}
	p.mu.Lock()
	p.msgs = append(p.msgs, msg)
	p.mu.Unlock()
	select {
	case p.ch <- msg:
	default:
	}
	return nil
}

// next waits for a publish to topic, skipping others.
func (p *fakePublisher) next(t *testing.T, topic string) published {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg := <-p.ch:
			if msg.topic == topic {
				return msg
			}
		case <-deadline:
			t.Fatalf("no publish to %s", topic)
		}
	}
}

type fakeSource struct {
	mu       sync.Mutex
	handlers map[string]connection.PushHandler
	active   string
	devices  []*structpb.Struct
	devErr   error
	pool     *structpb.Value
	alarms   *structpb.Value
	alarmErr error
	tasks    *structpb.Value
	polls    int
}

func newFakeSource(t *testing.T) *fakeSource {
	t.Helper()
	dev, err := structpb.NewStruct(map[string]any{"devid": "DEV1", "name": "boiler"})
	if err != nil {
		t.Fatal(err)
	}
	pool, err := structpb.NewValue(map[string]any{"P4": map[string]any{"v1": 21.5}})
	if err != nil {
		t.Fatal(err)
	}
	alarms, _ := structpb.NewValue([]any{})
	tasks, _ := structpb.NewValue([]any{"t1"})
	return &fakeSource{
		handlers: map[string]connection.PushHandler{},
		active:   "DEV1",
		devices:  []*structpb.Struct{dev},
		pool:     pool,
		alarms:   alarms,
		tasks:    tasks,
	}
}

func (s *fakeSource) Handle(name string, h connection.PushHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h == nil {
		delete(s.handlers, name)
		return
	}
	s.handlers[name] = h
}

func (s *fakeSource) handler(name string) connection.PushHandler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handlers[name]
}

func (s *fakeSource) ActiveDeviceID() string { return s.active }

func (s *fakeSource) GetMyDeviceIDList(context.Context) ([]*structpb.Struct, error) {
	return s.devices, s.devErr
}

func (s *fakeSource) GetAllPoolData(context.Context) (*structpb.Value, error) {
	return s.pool, nil
}

func (s *fakeSource) GetTaskQueue(context.Context) (*structpb.Value, error) {
	return s.tasks, nil
}

func (s *fakeSource) GetAlarmList(context.Context) (*structpb.Value, error) {
	s.mu.Lock()
	s.polls++
	s.mu.Unlock()
	return s.alarms, s.alarmErr
}

func (s *fakeSource) pollCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.polls
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startBridge(t *testing.T, src Source, pub Publisher, opts Options) (*Bridge, <-chan error) {
	t.Helper()
	opts.Logger = testLogger()
	b := New(src, pub, opts)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("Run did not return after cancel")
		}
	})
	return b, done
}

func jsonEqual(t *testing.T, got []byte, want string) {
	t.Helper()
	var g, w any
	if err := json.Unmarshal(got, &g); err != nil {
		t.Fatalf("payload %q is not JSON: %v", got, err)
	}
	if err := json.Unmarshal([]byte(want), &w); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(g, w) {
		t.Errorf("payload = %s, want %s", got, want)
	}
}

func TestRunPublishesInitialState(t *testing.T) {
	src := newFakeSource(t)
	pub := newFakePublisher()
	startBridge(t, src, pub, Options{TopicPrefix: "heat", QoS: 1})

	devices := pub.next(t, "heat/devices")
	if !devices.retained || devices.qos != 1 {
		t.Errorf("devices retained=%v qos=%d", devices.retained, devices.qos)
	}
	jsonEqual(t, devices.payload, `[{"devid":"DEV1","name":"boiler"}]`)

	pool := pub.next(t, "heat/DEV1/pool")
	jsonEqual(t, pool.payload, `{"P4":{"v1":21.5}}`)

	alarms := pub.next(t, "heat/DEV1/alarms")
	jsonEqual(t, alarms.payload, `[]`)

	tasks := pub.next(t, "heat/DEV1/tasks")
	jsonEqual(t, tasks.payload, `["t1"]`)
}

func TestRunForwardsPushes(t *testing.T) {
	src := newFakeSource(t)
	pub := newFakePublisher()
	startBridge(t, src, pub, Options{})

	pub.next(t, "bragerconnect/DEV1/tasks")

	h := src.handler(connection.PoolDataChanged)
	if h == nil {
		t.Fatal("no poolDataChanged handler registered")
	}
	h(&wrkfnc.Request{
		Type: wrkfnc.ProcedureExec,
		Name: connection.PoolDataChanged,
		Args: []json.RawMessage{json.RawMessage(`{"P4": {"v1": 22}}`)},
	})

	msg := pub.next(t, "bragerconnect/DEV1/pool/changed")
	if msg.retained {
		t.Error("push forwarded as retained")
	}
	jsonEqual(t, msg.payload, `[{"P4":{"v1":22}}]`)
}

func TestRunUnregistersHandlerOnStop(t *testing.T) {
	src := newFakeSource(t)
	pub := newFakePublisher()
	b := New(src, pub, Options{Logger: testLogger()})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()
	pub.next(t, "bragerconnect/DEV1/tasks")
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	if src.handler(connection.PoolDataChanged) != nil {
		t.Error("handler still registered after Run returned")
	}
}

func TestRunPolls(t *testing.T) {
	src := newFakeSource(t)
	pub := newFakePublisher()
	startBridge(t, src, pub, Options{PollInterval: 20 * time.Millisecond})

	pub.next(t, "bragerconnect/DEV1/alarms")
	pub.next(t, "bragerconnect/DEV1/alarms")
	pub.next(t, "bragerconnect/DEV1/alarms")
	if n := src.pollCount(); n < 3 {
		t.Errorf("polls = %d, want >= 3", n)
	}
}

func TestRunFallsBackToFirstDevice(t *testing.T) {
	src := newFakeSource(t)
	src.active = ""
	pub := newFakePublisher()
	startBridge(t, src, pub, Options{})

	pub.next(t, "bragerconnect/DEV1/pool")
}

func TestRunNoDevice(t *testing.T) {
	src := newFakeSource(t)
	src.active = ""
	src.devices = nil
	b := New(src, newFakePublisher(), Options{Logger: testLogger()})

	err := b.Run(context.Background())
	if !errors.Is(err, ErrNoDevice) {
		t.Fatalf("Run() error = %v, want ErrNoDevice", err)
	}
}

func TestRunDeviceListError(t *testing.T) {
	src := newFakeSource(t)
	src.devErr = connection.ErrTimeout
	b := New(src, newFakePublisher(), Options{Logger: testLogger()})

	err := b.Run(context.Background())
	if !errors.Is(err, connection.ErrTimeout) {
		t.Fatalf("Run() error = %v, want ErrTimeout", err)
	}
}

func TestRunSurvivesFailures(t *testing.T) {
	src := newFakeSource(t)
	src.alarmErr = errors.New("boom")
	pub := newFakePublisher()
	pub.fail["bragerconnect/DEV1/pool"] = ErrNotConnected
	b, _ := startBridge(t, src, pub, Options{})

	pub.next(t, "bragerconnect/DEV1/tasks")
	deadline := time.Now().Add(2 * time.Second)
	for b.Stats().Published < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	st := b.Stats()
	if st.Failed != 2 || st.Published != 2 {
		t.Errorf("Stats() = %+v, want 2 failed and 2 published", st)
	}
}

func TestEnqueueDropsWhenFull(t *testing.T) {
	b := New(newFakeSource(t), newFakePublisher(), Options{QueueSize: 1, Logger: testLogger()})

	req := &wrkfnc.Request{Name: connection.PoolDataChanged}
	b.enqueue(req)
	b.enqueue(req)
	b.enqueue(req)

	if got := b.Stats().Dropped; got != 2 {
		t.Errorf("Dropped = %d, want 2", got)
	}
}

func TestTopics(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"status default", Topics{}.Status(), "bragerconnect/status"},
		{"devices", Topics{Prefix: "h"}.Devices(), "h/devices"},
		{"pool", Topics{Prefix: "h"}.Pool("D"), "h/D/pool"},
		{"pool changed", Topics{Prefix: "h"}.PoolChanged("D"), "h/D/pool/changed"},
		{"alarms", Topics{Prefix: "h"}.Alarms("D"), "h/D/alarms"},
		{"tasks", Topics{Prefix: "h"}.Tasks("D"), "h/D/tasks"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
		}
	}
}
