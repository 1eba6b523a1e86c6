package mqtt

import "sync"

// Published is one message recorded by FakeClient.
type Published struct {
	Topic    string
	QOS      byte
	Retained bool
	Payload  []byte
}

// FakeClient records publishes and lets tests inject inbound messages.
type FakeClient struct {
	mu sync.Mutex

	// Messages contains everything that was published.
	Messages []Published

	// PublishError, if set, will be returned by Publish.
	PublishError error

	// Closed tracks if Close was called.
	Closed bool

	handlers map[string]func(topic string, payload []byte)
}

// NewFakeClient creates a FakeClient for testing.
func NewFakeClient() *FakeClient {
	return &FakeClient{handlers: make(map[string]func(string, []byte))}
}

func (f *FakeClient) Publish(topic string, qos byte, retained bool, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	f.Messages = append(f.Messages, Published{Topic: topic, QOS: qos, Retained: retained, Payload: payload})
	return nil
}

func (f *FakeClient) Subscribe(topic string, qos byte, fn func(topic string, payload []byte)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = fn
	return nil
}

// Deliver hands payload to the handler subscribed on topic. It reports
// whether a handler existed.
func (f *FakeClient) Deliver(topic string, payload []byte) bool {
	f.mu.Lock()
	fn := f.handlers[topic]
	f.mu.Unlock()
	if fn == nil {
		return false
	}
	fn(topic, payload)
	return true
}

// Sent returns a copy of the recorded messages.
func (f *FakeClient) Sent() []Published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Published(nil), f.Messages...)
}

// Close marks the client as closed.
func (f *FakeClient) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}
