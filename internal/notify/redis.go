// Package notify publishes recording lifecycle events to Redis so other
// processes can follow which devices record and why.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mikeyg42/camrecorder/internal/recorder/device"
	"github.com/mikeyg42/camrecorder/internal/recorder/recorderlog"
)

const (
	EventRecord = "record"
	EventStop   = "stop"
	EventCrash  = "crash"
)

// Event is the JSON payload of a published notification.
type Event struct {
	Device string    `json:"device"`
	Reason string    `json:"reason"`
	Event  string    `json:"event"`
	Error  string    `json:"error,omitempty"`
	At     time.Time `json:"at"`
}

// RedisConfig holds the Redis connection and channel settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	// Channel receives every event. History keeps the latest HistorySize
	// events in a list.
	Channel     string        `yaml:"channel"`
	History     string        `yaml:"history"`
	HistorySize int64         `yaml:"history_size"`
	Timeout     time.Duration `yaml:"timeout"`
}

// RedisPublisher is a device.RecordListener that publishes every session
// event.
type RedisPublisher struct {
	client *redis.Client
	config RedisConfig
	logger recorderlog.Logger
	now    func() time.Time

	published atomic.Int64
	failed    atomic.Int64
}

var _ device.RecordListener = (*RedisPublisher)(nil)

// NewRedisPublisher connects and pings the server.
func NewRedisPublisher(ctx context.Context, config RedisConfig, logger recorderlog.Logger) (*RedisPublisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     4,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	p := newRedisPublisher(client, config, logger)
	p.logger.Info("Connected to Redis", recorderlog.String("addr", config.Addr), recorderlog.String("channel", p.config.Channel))
	return p, nil
}

func newRedisPublisher(client *redis.Client, config RedisConfig, logger recorderlog.Logger) *RedisPublisher {
	if config.Channel == "" {
		config.Channel = "camrec:events"
	}
	if config.History == "" {
		config.History = config.Channel + ":history"
	}
	if config.HistorySize <= 0 {
		config.HistorySize = 100
	}
	if config.Timeout <= 0 {
		config.Timeout = 2 * time.Second
	}
	if logger == nil {
		logger = recorderlog.L()
	}
	return &RedisPublisher{
		client: client,
		config: config,
		logger: logger.Named("notify"),
		now:    time.Now,
	}
}

func (p *RedisPublisher) OnRecord(d *device.Device, r device.Reason) {
	p.Publish(Event{Device: d.Name(), Reason: r.String(), Event: EventRecord})
}

func (p *RedisPublisher) OnStop(d *device.Device, r device.Reason) {
	p.Publish(Event{Device: d.Name(), Reason: r.String(), Event: EventStop})
}

func (p *RedisPublisher) OnCrash(d *device.Device, r device.Reason, err error) {
	ev := Event{Device: d.Name(), Reason: r.String(), Event: EventCrash}
	if err != nil {
		ev.Error = err.Error()
	}
	p.Publish(ev)
}

// Publish sends ev to the channel and the history list. Failures are
// logged; listeners never fail their caller.
func (p *RedisPublisher) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = p.now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		p.failed.Add(1)
		p.logger.Warn("json marshal failed", recorderlog.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.config.Timeout)
	defer cancel()

	pipe := p.client.TxPipeline()
	pipe.Publish(ctx, p.config.Channel, data)
	pipe.LPush(ctx, p.config.History, data)
	pipe.LTrim(ctx, p.config.History, 0, p.config.HistorySize-1)
	if _, err := pipe.Exec(ctx); err != nil {
		p.failed.Add(1)
		p.logger.Warn("redis publish failed",
			recorderlog.String("device", ev.Device),
			recorderlog.String("event", ev.Event),
			recorderlog.Error(err))
		return
	}
	p.published.Add(1)
}

// Recent returns up to n of the latest events, newest first.
func (p *RedisPublisher) Recent(ctx context.Context, n int64) ([]Event, error) {
	if n <= 0 {
		n = p.config.HistorySize
	}
	raw, err := p.client.LRange(ctx, p.config.History, 0, n-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Event, 0, len(raw))
	for _, item := range raw {
		var ev Event
		if err := json.Unmarshal([]byte(item), &ev); err != nil {
			p.logger.Debug("Skipping malformed history entry", recorderlog.Error(err))
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

// Subscribe returns a subscription to the event channel.
func (p *RedisPublisher) Subscribe(ctx context.Context) *redis.PubSub {
	return p.client.Subscribe(ctx, p.config.Channel)
}

// Stats returns the published and failed counts.
func (p *RedisPublisher) Stats() (published, failed int64) {
	return p.published.Load(), p.failed.Load()
}

func (p *RedisPublisher) HealthCheck(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
