package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Type 标识事件类别。
type Type string

const (
	TypeAssertionOpened    Type = "assertion.opened"
	TypeAssertionDisputed  Type = "assertion.disputed"
	TypeAssertionSettled   Type = "assertion.settled"
	TypeReputationRecorded Type = "reputation.recorded"
	TypeRecorderRotated    Type = "recorder.rotated"
)

// Event 是对外广播的事件信封。引擎只负责发布；
// 链下索引器通过 Consumer 消费。
type Event struct {
	ID         string         `json:"id"`
	Type       Type           `json:"type"`
	OccurredAt int64          `json:"occurred_at"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// New 构造一个带唯一标识与时间戳的事件。
func New(eventType Type, payload map[string]any) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		OccurredAt: time.Now().Unix(),
		Payload:    payload,
	}
}

// Handler 处理来自事件流的单条事件。
type Handler func(ctx context.Context, event Event) error

// Producer 负责向事件流发布事件。
type Producer interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Consumer 负责从事件流消费事件。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 同时具备生产者与消费者能力。
type Queue interface {
	Producer
	Consumer
}
