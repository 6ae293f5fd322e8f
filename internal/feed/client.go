package feed

// Client is one live subscriber to the feed, usually a WebSocket.
type Client interface {
	// GetID returns a unique connection id.
	GetID() string
	// Wants reports whether the client is interested in msg.
	Wants(msg Message) bool
	// GetSendChannel returns the channel the hub writes messages to.
	GetSendChannel() chan<- Message
	// Run starts the client's pumps.
	Run()
	// Close shuts the client's send channel.
	Close()
}
