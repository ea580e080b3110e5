package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"interview/internal/models"
)

// Channel carries presence events between service instances.
const Channel = "session:presence"

// Publisher mirrors join/leave events over Redis pub/sub so sibling instances
// can observe membership changes. Each instance tags events with its own id
// and ignores its own messages on the subscribe side; the in-memory registry
// remains authoritative for local connections.
type Publisher struct {
	rdb        *redis.Client
	instanceID string
	log        *zap.Logger
	ctx        context.Context
	cancel     context.CancelFunc
}

func NewPublisher(redisAddr string, log *zap.Logger) *Publisher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Publisher{
		rdb:        redis.NewClient(&redis.Options{Addr: redisAddr}),
		instanceID: uuid.New().String(),
		log:        log,
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (p *Publisher) InstanceID() string { return p.instanceID }

func (p *Publisher) Publish(event models.PresenceEvent) error {
	event.InstanceID = p.instanceID
	event.Timestamp = time.Now().UTC()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal presence event: %w", err)
	}
	return p.rdb.Publish(p.ctx, Channel, data).Err()
}

// Run subscribes and invokes handler for every event published by another
// instance. It blocks until Close is called.
func (p *Publisher) Run(handler func(models.PresenceEvent)) {
	pubsub := p.rdb.Subscribe(p.ctx, Channel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	p.log.Info("subscribed to presence events", zap.String("instance", p.instanceID))

	for {
		select {
		case <-p.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var event models.PresenceEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				p.log.Warn("bad presence event payload", zap.Error(err))
				continue
			}
			if event.InstanceID == p.instanceID {
				continue
			}
			handler(event)
		}
	}
}

func (p *Publisher) Close() {
	p.cancel()
	_ = p.rdb.Close()
}
