package publisher

// Publisher represents a service for publishing messages
type Publisher interface {
	// Publish appends a keyed message to one shard of a topic
	Publish(topic, key string, message []byte) error

	// TrimStreams trims all streams to the configured maximum length
	TrimStreams() error

	// Close closes the publisher connection
	Close() error
}
