package mqtt

import (
	"context"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdant-data/maturity.report/internal/decision"
	"github.com/verdant-data/maturity.report/internal/testutil"
)

// fakeToken completes immediately with the configured error.
type fakeToken struct {
	err error
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Error() error                   { return t.err }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// stuckToken never completes, for exercising the connect timeout path.
type stuckToken struct{}

func (t *stuckToken) Wait() bool                     { select {} }
func (t *stuckToken) WaitTimeout(time.Duration) bool { return false }
func (t *stuckToken) Error() error                   { return nil }
func (t *stuckToken) Done() <-chan struct{}          { return make(chan struct{}) }

type publishRecord struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// fakeClient records traffic without a broker.
type fakeClient struct {
	mu         sync.Mutex
	connected  bool
	stuck      bool
	publishErr error
	publishes  []publishRecord
	subs       map[string]paho.MessageHandler
}

func (c *fakeClient) IsConnected() bool      { return c.connected }
func (c *fakeClient) IsConnectionOpen() bool { return c.connected }

func (c *fakeClient) Connect() paho.Token {
	if c.stuck {
		return &stuckToken{}
	}
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	return &fakeToken{}
}

func (c *fakeClient) Disconnect(quiesce uint) {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.publishes = append(c.publishes, publishRecord{
		topic:    topic,
		qos:      qos,
		retained: retained,
		payload:  payload.([]byte),
	})
	return &fakeToken{err: c.publishErr}
}

func (c *fakeClient) Subscribe(topic string, qos byte, cb paho.MessageHandler) paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subs == nil {
		c.subs = make(map[string]paho.MessageHandler)
	}
	c.subs[topic] = cb
	return &fakeToken{}
}

func (c *fakeClient) SubscribeMultiple(filters map[string]byte, cb paho.MessageHandler) paho.Token {
	return &fakeToken{}
}

func (c *fakeClient) Unsubscribe(topics ...string) paho.Token { return &fakeToken{} }

func (c *fakeClient) AddRoute(topic string, cb paho.MessageHandler) {}

func (c *fakeClient) OptionsReader() paho.ClientOptionsReader { return paho.ClientOptionsReader{} }

func (c *fakeClient) published() []publishRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]publishRecord, len(c.publishes))
	copy(out, c.publishes)
	return out
}

// fakeMessage carries a control payload into handleControl.
type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 1 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 0 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

func testBridge(t *testing.T, fake *fakeClient, onControl func(string)) *Bridge {
	t.Helper()
	testutil.SilenceLogs(t)
	return &Bridge{
		client:    fake,
		deviceID:  "pod-7",
		retain:    true,
		onControl: onControl,
	}
}

func TestResolveDeviceID(t *testing.T) {
	assert.Equal(t, "pod-7", ResolveDeviceID("  pod-7  "))

	// Without an override the ID comes from the machine or the hostname,
	// but it is never empty.
	assert.NotEmpty(t, ResolveDeviceID(""))
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{BrokerURL: "", DeviceID: "pod-7"})
	assert.Error(t, err)

	_, err = New(Config{BrokerURL: "tcp://broker:1883", DeviceID: ""})
	assert.Error(t, err)

	_, err = New(Config{BrokerURL: "tcp://", DeviceID: "pod-7"})
	assert.Error(t, err)
}

func TestClientOptions(t *testing.T) {
	opts, err := clientOptions("user:pw@broker.local:1883", "pod-7")
	require.NoError(t, err)

	require.Len(t, opts.Servers, 1)
	assert.Equal(t, "tcp://broker.local:1883", opts.Servers[0].String())
	assert.Equal(t, "harvestd-pod-7", opts.ClientID)
	assert.Equal(t, "user", opts.Username)
	assert.Equal(t, "pw", opts.Password)
}

func TestClientOptions_SchemePreserved(t *testing.T) {
	opts, err := clientOptions("ssl://broker.local:8883", "pod-7")
	require.NoError(t, err)

	require.Len(t, opts.Servers, 1)
	assert.Equal(t, "ssl://broker.local:8883", opts.Servers[0].String())
	assert.Empty(t, opts.Username)
}

func TestPublishOutputs(t *testing.T) {
	fake := &fakeClient{}
	b := testBridge(t, fake, nil)

	b.PublishOutputs(decision.Outputs{Prediction: true, Ready: true, Effective: true, Buzzer: true})

	pubs := fake.published()
	require.Len(t, pubs, 1)
	assert.Equal(t, "harvest/pod-7/decision", pubs[0].topic)
	assert.Equal(t, byte(1), pubs[0].qos)
	assert.True(t, pubs[0].retained)
	assert.Contains(t, string(pubs[0].payload), `"buzzer":true`)
	assert.Contains(t, string(pubs[0].payload), `"effective":true`)

	stats := b.Stats()
	assert.Equal(t, uint64(1), stats.Published)
	assert.Equal(t, uint64(0), stats.PublishErrors)
}

func TestPublishOutputs_DeliveryErrorCounted(t *testing.T) {
	fake := &fakeClient{publishErr: assert.AnError}
	b := testBridge(t, fake, nil)

	b.PublishOutputs(decision.Outputs{Ready: true})

	// The token watcher runs on its own goroutine.
	deadline := time.Now().Add(2 * time.Second)
	for b.Stats().PublishErrors == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	assert.Equal(t, uint64(1), b.Stats().PublishErrors)
	assert.Equal(t, uint64(1), b.Stats().Published)
}

func TestHandleControl(t *testing.T) {
	var actions []string
	b := testBridge(t, &fakeClient{}, func(action string) { actions = append(actions, action) })

	b.handleControl(nil, &fakeMessage{topic: "harvest/pod-7/control", payload: []byte("assert")})
	b.handleControl(nil, &fakeMessage{topic: "harvest/pod-7/control", payload: []byte(" CLEAR\n")})
	b.handleControl(nil, &fakeMessage{topic: "harvest/pod-7/control", payload: []byte("detonate")})

	assert.Equal(t, []string{"assert", "clear"}, actions)

	stats := b.Stats()
	assert.Equal(t, uint64(2), stats.ControlAccepted)
	assert.Equal(t, uint64(1), stats.ControlRejected)
}

func TestOnConnect_SubscribesControl(t *testing.T) {
	var actions []string
	fake := &fakeClient{}
	b := testBridge(t, fake, func(action string) { actions = append(actions, action) })

	b.onConnect(nil)

	handler, ok := fake.subs["harvest/pod-7/control"]
	require.True(t, ok, "control topic not subscribed")

	handler(nil, &fakeMessage{topic: "harvest/pod-7/control", payload: []byte("assert")})
	assert.Equal(t, []string{"assert"}, actions)
}

func TestConnect_ContextCancelled(t *testing.T) {
	b := testBridge(t, &fakeClient{stuck: true}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := b.Connect(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConnect(t *testing.T) {
	fake := &fakeClient{}
	b := testBridge(t, fake, nil)

	require.NoError(t, b.Connect(context.Background()))
	assert.True(t, fake.IsConnected())

	require.NoError(t, b.Close())
	assert.False(t, fake.IsConnected())
}

func TestTopics(t *testing.T) {
	assert.Equal(t, "harvest/pod-7/decision", decisionTopic("pod-7"))
	assert.Equal(t, "harvest/pod-7/control", controlTopic("pod-7"))
}
