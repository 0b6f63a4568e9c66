package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/marpi82/bragerconnect/internal/connection"
	"github.com/marpi82/bragerconnect/internal/wrkfnc"
)

const defaultQueueSize = 64

// Source is the part of *connection.Connection the bridge reads from.
type Source interface {
	Handle(name string, h connection.PushHandler)
	ActiveDeviceID() string
	GetMyDeviceIDList(ctx context.Context) ([]*structpb.Struct, error)
	GetAllPoolData(ctx context.Context) (*structpb.Value, error)
	GetTaskQueue(ctx context.Context) (*structpb.Value, error)
	GetAlarmList(ctx context.Context) (*structpb.Value, error)
}

// Publisher delivers a payload to an MQTT topic.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

var (
	_ Source    = (*connection.Connection)(nil)
	_ Publisher = (*MQTTPublisher)(nil)
)

// Options tunes a Bridge. Zero values select the defaults.
type Options struct {
	TopicPrefix  string
	QoS          byte
	PollInterval time.Duration // 0 disables periodic alarm/task refresh
	QueueSize    int
	Logger       *slog.Logger
}

// Stats counts bridge activity since Run started.
type Stats struct {
	Published uint64
	Failed    uint64
	Dropped   uint64
}

// Bridge forwards device data from a Source to a Publisher.
type Bridge struct {
	src    Source
	pub    Publisher
	topics Topics
	qos    byte
	poll   time.Duration
	log    *slog.Logger

	queue chan []json.RawMessage

	published atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
}

// New creates a Bridge. Nothing is published until Run.
func New(src Source, pub Publisher, opts Options) *Bridge {
	size := opts.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		src:    src,
		pub:    pub,
		topics: Topics{Prefix: opts.TopicPrefix},
		qos:    opts.QoS,
		poll:   opts.PollInterval,
		log:    logger.With("component", "bridge"),
		queue:  make(chan []json.RawMessage, size),
	}
}

// Run publishes the initial state and then forwards pushes until ctx is done.
// Only failing to determine the device is fatal; publish errors are logged.
func (b *Bridge) Run(ctx context.Context) error {
	b.src.Handle(connection.PoolDataChanged, b.enqueue)
	defer b.src.Handle(connection.PoolDataChanged, nil)

	devID, err := b.publishDevices(ctx)
	if err != nil {
		return err
	}
	b.log.Info("bridge running", "devid", devID, "prefix", b.topics.prefix())

	b.publishValue(ctx, b.topics.Pool(devID), b.src.GetAllPoolData)
	b.refresh(ctx, devID)

	var tick <-chan time.Time
	if b.poll > 0 {
		ticker := time.NewTicker(b.poll)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			b.log.Info("bridge stopped", "published", b.published.Load(), "dropped", b.dropped.Load())
			return nil
		case args := <-b.queue:
			payload, err := json.Marshal(args)
			if err != nil {
				b.log.Warn("encoding push failed", "error", err)
				continue
			}
			b.publish(b.topics.PoolChanged(devID), payload, false)
		case <-tick:
			b.refresh(ctx, devID)
		}
	}
}

// Stats returns the current counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		Published: b.published.Load(),
		Failed:    b.failed.Load(),
		Dropped:   b.dropped.Load(),
	}
}

// enqueue runs on the connection's read loop and must not block.
func (b *Bridge) enqueue(req *wrkfnc.Request) {
	select {
	case b.queue <- req.Args:
	default:
		b.dropped.Add(1)
		b.log.Warn("push queue full, dropping", "name", req.Name)
	}
}

func (b *Bridge) publishDevices(ctx context.Context) (string, error) {
	devices, err := b.src.GetMyDeviceIDList(ctx)
	if err != nil {
		return "", fmt.Errorf("listing devices: %w", err)
	}

	list := &structpb.ListValue{Values: make([]*structpb.Value, 0, len(devices))}
	for _, d := range devices {
		list.Values = append(list.Values, structpb.NewStructValue(d))
	}
	if payload, err := marshal(list); err != nil {
		b.log.Warn("encoding device list failed", "error", err)
	} else {
		b.publish(b.topics.Devices(), payload, true)
	}

	devID := b.src.ActiveDeviceID()
	if devID == "" && len(devices) > 0 {
		devID = devices[0].GetFields()["devid"].GetStringValue()
	}
	if devID == "" {
		return "", ErrNoDevice
	}
	return devID, nil
}

func (b *Bridge) refresh(ctx context.Context, devID string) {
	b.publishValue(ctx, b.topics.Alarms(devID), b.src.GetAlarmList)
	b.publishValue(ctx, b.topics.Tasks(devID), b.src.GetTaskQueue)
}

func (b *Bridge) publishValue(ctx context.Context, topic string, fetch func(context.Context) (*structpb.Value, error)) {
	v, err := fetch(ctx)
	if err != nil {
		b.failed.Add(1)
		b.log.Warn("fetch failed", "topic", topic, "error", err)
		return
	}
	payload, err := marshal(v)
	if err != nil {
		b.log.Warn("encoding failed", "topic", topic, "error", err)
		return
	}
	b.publish(topic, payload, true)
}

func (b *Bridge) publish(topic string, payload []byte, retained bool) {
	if err := b.pub.Publish(topic, payload, b.qos, retained); err != nil {
		b.failed.Add(1)
		b.log.Warn("publish failed", "topic", topic, "error", err)
		return
	}
	b.published.Add(1)
	b.log.Debug("published", "topic", topic, "bytes", len(payload))
}

func marshal(m proto.Message) ([]byte, error) {
	return protojson.Marshal(m)
}
