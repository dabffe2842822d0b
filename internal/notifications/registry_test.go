package notifications

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casier-judiciaire/casier-backend/pkg/logger"
	"github.com/casier-judiciaire/casier-backend/pkg/metrics"
)

type fakeChannel struct {
	mu      sync.Mutex
	closed  bool
	sendErr error
	msgs    [][]byte
}

func (c *fakeChannel) Open() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func (c *fakeChannel) Send(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *fakeChannel) received() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.msgs))
	for _, m := range c.msgs {
		out = append(out, string(m))
	}
	return out
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "notifications-test", Output: io.Discard})
}

func TestRegisterThenSendToUser(t *testing.T) {
	reg := NewRegistry(testLogger(), nil)
	user := uuid.New()
	ch := &fakeChannel{}
	reg.Register(user, ch)

	require.NoError(t, reg.SendToUser(context.Background(), user, map[string]string{"type": "case.assigned"}))
	assert.Equal(t, []string{`{"type":"case.assigned"}`}, ch.received())
}

func TestSendToUserReachesEveryChannelOfThatUserOnly(t *testing.T) {
	reg := NewRegistry(testLogger(), nil)
	alice, bob := uuid.New(), uuid.New()
	laptop, phone, other := &fakeChannel{}, &fakeChannel{}, &fakeChannel{}
	reg.Register(alice, laptop)
	reg.Register(alice, phone)
	reg.Register(bob, other)

	require.NoError(t, reg.SendToUser(context.Background(), alice, "hello"))
	assert.Equal(t, []string{`"hello"`}, laptop.received())
	assert.Equal(t, []string{`"hello"`}, phone.received())
	assert.Empty(t, other.received())
	assert.Equal(t, 2, reg.Users())
	assert.Equal(t, 3, reg.Connections())
}

func TestUnregisterStopsDelivery(t *testing.T) {
	reg := NewRegistry(testLogger(), nil)
	user := uuid.New()
	ch := &fakeChannel{}
	reg.Register(user, ch)

	assert.True(t, reg.Unregister(ch))
	require.NoError(t, reg.SendToUser(context.Background(), user, "late"))
	assert.Empty(t, ch.received())
	assert.Zero(t, reg.Users())
	assert.Zero(t, reg.Connections())
}

func TestUnregisterKeepsUserWhileChannelsRemain(t *testing.T) {
	reg := NewRegistry(testLogger(), nil)
	user := uuid.New()
	first, second := &fakeChannel{}, &fakeChannel{}
	reg.Register(user, first)
	reg.Register(user, second)

	reg.Unregister(first)
	assert.Equal(t, 1, reg.Users())
	assert.Equal(t, 1, reg.ChannelsFor(user))

	reg.Unregister(second)
	assert.Zero(t, reg.Users())
}

func TestUnregisterUnknownChannelIsNoop(t *testing.T) {
	reg := NewRegistry(testLogger(), nil)
	assert.False(t, reg.Unregister(&fakeChannel{}))
	assert.False(t, reg.Unregister(nil))
}

func TestSendToOfflineUserIsNoop(t *testing.T) {
	reg := NewRegistry(testLogger(), nil)
	assert.NoError(t, reg.SendToUser(context.Background(), uuid.New(), "anyone?"))
}

func TestRegisterMovesChannelBetweenUsers(t *testing.T) {
	reg := NewRegistry(testLogger(), nil)
	first, second := uuid.New(), uuid.New()
	ch := &fakeChannel{}
	reg.Register(first, ch)
	reg.Register(second, ch)

	assert.Zero(t, reg.ChannelsFor(first))
	assert.Equal(t, 1, reg.ChannelsFor(second))
	assert.Equal(t, 1, reg.Connections())

	require.NoError(t, reg.SendToUser(context.Background(), first, "x"))
	assert.Empty(t, ch.received())
}

func TestDeliverySkipsClosedAndSwallowsFailures(t *testing.T) {
	promReg := prometheus.NewRegistry()
	m := metrics.NewRealtimeMetrics(promReg)
	reg := NewRegistry(testLogger(), m)
	user := uuid.New()
	closed := &fakeChannel{closed: true}
	broken := &fakeChannel{sendErr: errors.New("broken pipe")}
	healthy := &fakeChannel{}
	reg.Register(user, closed)
	reg.Register(user, broken)
	reg.Register(user, healthy)

	require.NoError(t, reg.SendToUser(context.Background(), user, "ping"))
	assert.Empty(t, closed.received())
	assert.Equal(t, []string{`"ping"`}, healthy.received())

	series, err := testutil.GatherAndCount(promReg, "casier_realtime_deliveries_total")
	require.NoError(t, err)
	assert.Equal(t, 3, series)
}

func TestSendToUserRejectsUnencodablePayload(t *testing.T) {
	reg := NewRegistry(testLogger(), nil)
	user := uuid.New()
	reg.Register(user, &fakeChannel{})

	err := reg.SendToUser(context.Background(), user, map[string]any{"bad": make(chan int)})
	require.Error(t, err)
}

func TestBroadcastReachesEveryone(t *testing.T) {
	reg := NewRegistry(testLogger(), nil)
	a, b, c := &fakeChannel{}, &fakeChannel{}, &fakeChannel{closed: true}
	reg.Register(uuid.New(), a)
	reg.Register(uuid.New(), b)
	reg.Register(uuid.New(), c)

	require.NoError(t, reg.Broadcast(context.Background(), Payload{Message: "maintenance at 18:00"}))
	require.Len(t, a.received(), 1)
	require.Len(t, b.received(), 1)
	assert.Empty(t, c.received())
	assert.Contains(t, a.received()[0], "maintenance at 18:00")
}

func TestRawPayloadIsSentVerbatim(t *testing.T) {
	reg := NewRegistry(testLogger(), nil)
	user := uuid.New()
	ch := &fakeChannel{}
	reg.Register(user, ch)

	require.NoError(t, reg.SendToUser(context.Background(), user, []byte(`{"pre":"encoded"}`)))
	assert.Equal(t, []string{`{"pre":"encoded"}`}, ch.received())
}

func TestRegistryConcurrentUse(t *testing.T) {
	reg := NewRegistry(testLogger(), nil)
	users := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := users[i%len(users)]
			ch := &fakeChannel{}
			reg.Register(user, ch)
			_ = reg.SendToUser(context.Background(), user, i)
			_ = reg.Broadcast(context.Background(), i)
			reg.Unregister(ch)
		}(i)
	}
	wg.Wait()

	assert.Zero(t, reg.Connections())
	assert.Zero(t, reg.Users())
}
