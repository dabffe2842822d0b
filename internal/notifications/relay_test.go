package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgredis "github.com/casier-judiciaire/casier-backend/pkg/redis"
)

type fakeStream struct {
	msgs   chan *goredis.Message
	closed bool
}

func (s *fakeStream) Messages() <-chan *goredis.Message { return s.msgs }

func (s *fakeStream) Close() error {
	s.closed = true
	return nil
}

// loopbackBus publishes straight into the subscribed stream.
type loopbackBus struct {
	mu         sync.Mutex
	stream     *fakeStream
	channels   []string
	publishErr error
	published  int
}

func newLoopbackBus() *loopbackBus {
	return &loopbackBus{stream: &fakeStream{msgs: make(chan *goredis.Message, 16)}}
}

func (b *loopbackBus) Publish(_ context.Context, channel string, message any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.publishErr != nil {
		return b.publishErr
	}
	b.published++
	b.stream.msgs <- &goredis.Message{Channel: channel, Payload: string(message.([]byte))}
	return nil
}

func (b *loopbackBus) Subscribe(_ context.Context, channels ...string) (pkgredis.Stream, error) {
	b.channels = channels
	return b.stream, nil
}

func runListener(t *testing.T, relay *Relay, bus *loopbackBus, local *Registry) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- relay.Listen(ctx, bus, local) }()
	return cancel, errCh
}

func TestRelayDeliversToLocalRegistry(t *testing.T) {
	bus := newLoopbackBus()
	local := NewRegistry(testLogger(), nil)
	relay, err := NewRelay(RelayParams{Publisher: bus, Logger: testLogger()})
	require.NoError(t, err)

	user := uuid.New()
	ch := &fakeChannel{}
	local.Register(user, ch)
	bystander := &fakeChannel{}
	local.Register(uuid.New(), bystander)

	cancel, errCh := runListener(t, relay, bus, local)
	defer cancel()

	require.NoError(t, relay.SendToUser(context.Background(), user, Payload{Message: "direct"}))
	require.NoError(t, relay.Broadcast(context.Background(), Payload{Message: "everyone"}))

	require.Eventually(t, func() bool { return len(ch.received()) == 2 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(bystander.received()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Contains(t, ch.received()[0], "direct")
	assert.Contains(t, bystander.received()[0], "everyone")
	assert.Equal(t, []string{DefaultRelayChannel}, bus.channels)

	cancel()
	require.NoError(t, <-errCh)
	assert.True(t, bus.stream.closed)
}

func TestRelayFallsBackWhenPublishFails(t *testing.T) {
	bus := newLoopbackBus()
	bus.publishErr = errors.New("connection refused")
	local := NewRegistry(testLogger(), nil)
	relay, err := NewRelay(RelayParams{Publisher: bus, Fallback: local, Logger: testLogger()})
	require.NoError(t, err)

	user := uuid.New()
	ch := &fakeChannel{}
	local.Register(user, ch)

	require.NoError(t, relay.SendToUser(context.Background(), user, Payload{Message: "local"}))
	require.Len(t, ch.received(), 1)

	var got Payload
	require.NoError(t, json.Unmarshal([]byte(ch.received()[0]), &got))
	assert.Equal(t, "local", got.Message)
}

func TestRelayWithoutFallbackDropsSilently(t *testing.T) {
	bus := newLoopbackBus()
	bus.publishErr = errors.New("connection refused")
	relay, err := NewRelay(RelayParams{Publisher: bus, Channel: "custom", Logger: testLogger()})
	require.NoError(t, err)

	assert.NoError(t, relay.SendToUser(context.Background(), uuid.New(), Payload{}))
	assert.NoError(t, relay.Broadcast(context.Background(), Payload{}))
}

func TestRelayIgnoresMalformedEnvelopes(t *testing.T) {
	bus := newLoopbackBus()
	local := NewRegistry(testLogger(), nil)
	relay, err := NewRelay(RelayParams{Publisher: bus, Logger: testLogger()})
	require.NoError(t, err)
	ch := &fakeChannel{}
	local.Register(uuid.New(), ch)

	cancel, errCh := runListener(t, relay, bus, local)
	defer cancel()

	bus.stream.msgs <- &goredis.Message{Payload: "not json"}
	bus.stream.msgs <- &goredis.Message{Payload: `{"user_id":null}`}
	require.NoError(t, relay.Broadcast(context.Background(), "after"))

	require.Eventually(t, func() bool { return len(ch.received()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, `"after"`, ch.received()[0])

	cancel()
	require.NoError(t, <-errCh)
}

func TestRelayListenReportsClosedSubscription(t *testing.T) {
	bus := newLoopbackBus()
	relay, err := NewRelay(RelayParams{Publisher: bus, Logger: testLogger()})
	require.NoError(t, err)

	close(bus.stream.msgs)
	err = relay.Listen(context.Background(), bus, NewRegistry(testLogger(), nil))
	require.Error(t, err)
}

// flakyBus refuses the first subscriptions, then behaves like loopbackBus.
type flakyBus struct {
	*loopbackBus
	mu       sync.Mutex
	failures int
	attempts int
}

func (b *flakyBus) Subscribe(ctx context.Context, channels ...string) (pkgredis.Stream, error) {
	b.mu.Lock()
	b.attempts++
	fail := b.attempts <= b.failures
	b.mu.Unlock()
	if fail {
		return nil, errors.New("connection refused")
	}
	return b.loopbackBus.Subscribe(ctx, channels...)
}

func (b *flakyBus) attemptCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

func TestRelayRunResubscribesAfterFailures(t *testing.T) {
	bus := &flakyBus{loopbackBus: newLoopbackBus(), failures: 2}
	local := NewRegistry(testLogger(), nil)
	user := uuid.New()
	ch := &fakeChannel{}
	local.Register(user, ch)

	relay, err := NewRelay(RelayParams{
		Publisher: bus,
		Logger:    testLogger(),
		RetryBase: time.Millisecond,
		RetryMax:  5 * time.Millisecond,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		relay.Run(ctx, bus, local)
		close(done)
	}()

	require.Eventually(t, func() bool { return bus.attemptCount() == 3 }, time.Second, time.Millisecond)
	require.NoError(t, relay.SendToUser(context.Background(), user, "back"))
	require.Eventually(t, func() bool { return len(ch.received()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, `"back"`, ch.received()[0])

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("relay did not stop after cancel")
	}
}

func TestRelayRunWithoutSubscriberReturns(t *testing.T) {
	relay, err := NewRelay(RelayParams{Publisher: newLoopbackBus(), Logger: testLogger()})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		relay.Run(context.Background(), nil, NewRegistry(testLogger(), nil))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run should return without a subscriber")
	}
}
