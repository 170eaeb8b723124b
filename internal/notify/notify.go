// Package notify is the one-way observer sink for relayed coordinator events.
// The pipeline is indifferent to the transport; implementations here cover a
// redis pub/sub stream and plain logs.
package notify

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"ingest-pipeline/internal/protocol"
)

type Event struct {
	Type    protocol.Type         `json:"type"`
	BatchID uuid.UUID             `json:"batchId"`
	Message string                `json:"message,omitempty"`
	Job     *protocol.JobProgress `json:"job,omitempty"`
	Time    time.Time             `json:"time"`
}

type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, ev Event) {
	if ev.Job != nil {
		log.Printf("[events] type=%s batch=%s job=%d status=%s error=%q",
			ev.Type, ev.BatchID, ev.Job.ItemID, ev.Job.Status, ev.Job.Error)
		return
	}
	log.Printf("[events] type=%s batch=%s msg=%q", ev.Type, ev.BatchID, ev.Message)
}

// RedisNotifier publishes events as JSON on a pub/sub channel.
type RedisNotifier struct {
	rdb     *redis.Client
	channel string
}

func NewRedisNotifier(rdb *redis.Client, channel string) *RedisNotifier {
	return &RedisNotifier{rdb: rdb, channel: channel}
}

func (n *RedisNotifier) Notify(ctx context.Context, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[events] marshal error=%v", err)
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := n.rdb.Publish(ctx, n.channel, payload).Err(); err != nil {
		log.Printf("[events] publish channel=%s error=%v", n.channel, err)
	}
}

// Multi fans one event out to several sinks.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, ev Event) {
	for _, n := range m {
		n.Notify(ctx, ev)
	}
}
