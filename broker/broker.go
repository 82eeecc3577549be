// Package broker fans server-internal events out across processes. The
// subscription manager publishes resource-change events to a topic and
// every node relays them to its locally connected sessions.
//
// Implementations:
//
//	memory : in-process, for single-node deployments and tests
//	redis  : Redis Streams, for horizontally scaled deployments
package broker

import "context"

// Broker provides ordered, topic-scoped publish/subscribe.
type Broker interface {
	// Publish appends data to topic and returns the generated event ID.
	Publish(ctx context.Context, topic string, data []byte) (eventID string, err error)

	// Subscribe delivers messages published to topic to handler, in order,
	// until ctx is done, the handler returns an error, or the topic is
	// cleaned up. With an empty lastEventID delivery starts with the next
	// published message; otherwise it resumes after that event.
	Subscribe(ctx context.Context, topic string, lastEventID string, handler MessageHandler) error

	// Cleanup removes all stored messages of topic. Implementations may also
	// end active subscriptions.
	Cleanup(ctx context.Context, topic string) error
}

// MessageHandler processes one delivered message.
type MessageHandler func(ctx context.Context, env MessageEnvelope) error

// MessageEnvelope wraps a message with its event ID.
type MessageEnvelope struct {
	// ID is unique and increasing within the topic.
	ID string `json:"id"`
	// Data is the published payload.
	Data []byte `json:"data"`
}
