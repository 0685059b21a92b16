package messaging

import (
	"time"
)

// Message is one event routed by a Broker
type Message struct {
	From      string    // ID of the publishing instance set or rollout
	To        []string  // subscriber IDs (empty means broadcast)
	Content   any       // usually an EpisodeEvent or RunEvent
	Timestamp time.Time // when the message was published
}

// EpisodeEvent reports one finished episode of one instance.
type EpisodeEvent struct {
	RunID    string
	Env      string
	Instance int
	Episode  int
	Return   float64
	Length   int
	// Step is the rollout step on which the episode ended.
	Step int
}

// RunEvent reports a rollout starting or stopping.
type RunEvent struct {
	RunID  string
	Env    string
	Status string
	Err    string
}

// Broker routes messages between publishers and subscribers
type Broker interface {
	// Publish sends a message to specified recipients
	Publish(msg Message) error
	// Subscribe registers a subscriber to receive messages
	Subscribe(id string, ch chan<- Message) error
	// Unsubscribe removes a subscription
	Unsubscribe(id string) error
}
