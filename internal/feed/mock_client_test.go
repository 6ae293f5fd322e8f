package feed_test

import "reportbot/backend/internal/feed"

type MockClient struct {
	id          string
	identity    int64
	RecvChannel chan feed.Message
	closed      bool
}

func newMockClient(id string, identity int64, buffer int) *MockClient {
	return &MockClient{
		id:          id,
		identity:    identity,
		RecvChannel: make(chan feed.Message, buffer),
	}
}

func (c *MockClient) GetID() string { return c.id }

func (c *MockClient) Wants(msg feed.Message) bool {
	return c.identity == 0 || (msg.Progress != nil && msg.Progress.Identity == c.identity)
}

func (c *MockClient) GetSendChannel() chan<- feed.Message { return c.RecvChannel }

func (c *MockClient) Run() {
	// Not needed for testing
}

func (c *MockClient) Close() {
	c.closed = true
}
