package rabbitmq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// dlxExchange is the direct exchange a queue declared by EnsureQueue sends
// its broker-side dead letters to, with the source queue's name as routing
// key; EnsureDestination binds a destination queue to it under the
// destination's own name. DLQHandler records do not pass through it: the
// consumer's dlqPublisher publishes them to the destination queue through
// the default exchange.
const dlxExchange = "relaybus.dlx"

// delayExchange is the direct exchange a delay queue's messages dead-letter
// into once their per-message TTL expires, landing back in the target
// queue. Grounded on the delay-via-TTL+DLX pattern: a message published with
// an expiration sits in the delay queue until the broker expires it, at
// which point the queue's own x-dead-letter-exchange routes it onward.
const delayExchange = "relaybus.delay"

// TopologyManager declares the exchanges and queues a Producer/Consumer pair
// needs before it can publish or consume.
type TopologyManager struct {
	pool *ChannelPool
}

func NewTopologyManager(pool *ChannelPool) *TopologyManager {
	return &TopologyManager{pool: pool}
}

// EnsureQueue declares name as a durable queue bound to the default exchange
// by its own name (so publishing with routing key==name reaches it), with
// its dead letters routed to dlxExchange under the same routing key.
func (tm *TopologyManager) EnsureQueue(ctx context.Context, name string) error {
	return tm.pool.Execute(ctx, func(ch *amqp.Channel) error {
		if err := ch.ExchangeDeclare(dlxExchange, "direct", true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare dlx exchange: %w", err)
		}
		if err := ch.ExchangeDeclare(delayExchange, "direct", true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare delay exchange: %w", err)
		}

		_, err := ch.QueueDeclare(name, true, false, false, false, amqp.Table{
			"x-dead-letter-exchange":    dlxExchange,
			"x-dead-letter-routing-key": name,
		})
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", name, err)
		}
		return nil
	})
}

// EnsureDestination declares destination (a DLQ or any plain sink queue) and
// binds dlxExchange to it under its own name.
func (tm *TopologyManager) EnsureDestination(ctx context.Context, destination string) error {
	return tm.pool.Execute(ctx, func(ch *amqp.Channel) error {
		if _, err := ch.QueueDeclare(destination, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare destination %s: %w", destination, err)
		}
		return ch.QueueBind(destination, destination, dlxExchange, false, nil)
	})
}

// EnsureDelayQueue declares the per-queue, per-delay delay queue used by
// PublishOption's DelaySeconds: messages sit here with a fixed TTL then
// dead-letter back into target via delayExchange.
func (tm *TopologyManager) EnsureDelayQueue(ctx context.Context, target string, delayMs int64) (string, error) {
	name := fmt.Sprintf("%s.delay.%dms", target, delayMs)
	err := tm.pool.Execute(ctx, func(ch *amqp.Channel) error {
		_, err := ch.QueueDeclare(name, true, false, false, false, amqp.Table{
			"x-message-ttl":             delayMs,
			"x-dead-letter-exchange":    delayExchange,
			"x-dead-letter-routing-key": target,
		})
		if err != nil {
			return fmt.Errorf("declare delay queue %s: %w", name, err)
		}
		return ch.QueueBind(target, target, delayExchange, false, nil)
	})
	return name, err
}
