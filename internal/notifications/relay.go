package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/casier-judiciaire/casier-backend/pkg/logger"
	pkgredis "github.com/casier-judiciaire/casier-backend/pkg/redis"
)

// DefaultRelayChannel is the pub/sub channel shared by every process.
const DefaultRelayChannel = "casier:notifications"

const (
	defaultRelayRetryBase = 500 * time.Millisecond
	defaultRelayRetryMax  = 30 * time.Second
)

type publisher interface {
	Publish(ctx context.Context, channel string, message any) error
}

type subscriber interface {
	Subscribe(ctx context.Context, channels ...string) (pkgredis.Stream, error)
}

// rawDeliverer is the local side of the relay.
type rawDeliverer interface {
	SendRaw(ctx context.Context, userID uuid.UUID, msg []byte)
	BroadcastRaw(ctx context.Context, msg []byte)
}

type relayEnvelope struct {
	UserID  *uuid.UUID      `json:"user_id,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// RelayParams configure NewRelay.
type RelayParams struct {
	Publisher publisher
	Channel   string
	// Fallback receives the payload when publishing fails. The API process
	// passes its local registry; the cron worker has none.
	Fallback Sender
	Logger   *logger.Logger
	// RetryBase and RetryMax bound the pause between two Listen attempts in Run.
	RetryBase time.Duration
	RetryMax  time.Duration
}

// Relay is a Sender that fans payloads out to every process through Redis
// pub/sub. Each API process runs Listen to feed its own registry.
type Relay struct {
	pub      publisher
	channel  string
	fallback Sender
	logg     *logger.Logger

	retryBase time.Duration
	retryMax  time.Duration
}

func NewRelay(params RelayParams) (*Relay, error) {
	if params.Publisher == nil {
		return nil, errors.New("relay publisher required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	channel := params.Channel
	if channel == "" {
		channel = DefaultRelayChannel
	}
	retryBase := params.RetryBase
	if retryBase <= 0 {
		retryBase = defaultRelayRetryBase
	}
	retryMax := params.RetryMax
	if retryMax < retryBase {
		retryMax = max(retryBase, defaultRelayRetryMax)
	}
	return &Relay{
		pub:       params.Publisher,
		channel:   channel,
		fallback:  params.Fallback,
		logg:      params.Logger,
		retryBase: retryBase,
		retryMax:  retryMax,
	}, nil
}

// SendToUser publishes payload for userID.
func (r *Relay) SendToUser(ctx context.Context, userID uuid.UUID, payload any) error {
	msg, err := encode(payload)
	if err != nil {
		return err
	}
	target := userID
	if r.publish(ctx, relayEnvelope{UserID: &target, Payload: msg}) {
		return nil
	}
	if r.fallback != nil {
		return r.fallback.SendToUser(ctx, userID, json.RawMessage(msg))
	}
	return nil
}

// Broadcast publishes payload for every connected user.
func (r *Relay) Broadcast(ctx context.Context, payload any) error {
	msg, err := encode(payload)
	if err != nil {
		return err
	}
	if r.publish(ctx, relayEnvelope{Payload: msg}) {
		return nil
	}
	if r.fallback != nil {
		return r.fallback.Broadcast(ctx, json.RawMessage(msg))
	}
	return nil
}

func (r *Relay) publish(ctx context.Context, env relayEnvelope) bool {
	data, err := json.Marshal(env)
	if err == nil {
		err = r.pub.Publish(ctx, r.channel, data)
	}
	if err != nil {
		r.logg.Warn(r.logg.WithFields(ctx, map[string]any{
			"channel": r.channel,
			"error":   err.Error(),
		}), "notification relay publish failed")
		return false
	}
	return true
}

// Listen subscribes to the relay channel and hands every envelope to local
// until ctx ends. It returns an error only when the subscription cannot be
// established or is closed underneath it.
func (r *Relay) Listen(ctx context.Context, sub subscriber, local rawDeliverer) error {
	if sub == nil || local == nil {
		return errors.New("relay subscriber and local registry required")
	}
	stream, err := sub.Subscribe(ctx, r.channel)
	if err != nil {
		return fmt.Errorf("subscribe relay: %w", err)
	}
	defer stream.Close()

	r.logg.Info(r.logg.WithField(ctx, "channel", r.channel), "notification relay listening")
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-stream.Messages():
			if !ok {
				return errors.New("relay subscription closed")
			}
			r.dispatch(ctx, local, []byte(msg.Payload))
		}
	}
}

// Run keeps Listen alive until ctx ends, waiting longer after each
// consecutive failure. A subscription that held for RetryMax resets the wait.
func (r *Relay) Run(ctx context.Context, sub subscriber, local rawDeliverer) {
	if sub == nil || local == nil {
		r.logg.Error(ctx, "notification relay not started", errors.New("relay subscriber and local registry required"))
		return
	}
	wait := r.retryBase
	for {
		started := time.Now()
		err := r.Listen(ctx, sub, local)
		if ctx.Err() != nil {
			return
		}
		if time.Since(started) >= r.retryMax {
			wait = r.retryBase
		}
		r.logg.Error(r.logg.WithFields(ctx, map[string]any{
			"channel":  r.channel,
			"retry_in": wait.String(),
		}), "notification relay stopped", err)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		wait = min(wait*2, r.retryMax)
	}
}

func (r *Relay) dispatch(ctx context.Context, local rawDeliverer, data []byte) {
	var env relayEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		r.logg.Error(ctx, "failed to decode relay envelope", err)
		return
	}
	if len(env.Payload) == 0 {
		r.logg.Warn(ctx, "relay envelope without payload")
		return
	}
	if env.UserID == nil {
		local.BroadcastRaw(ctx, env.Payload)
		return
	}
	local.SendRaw(ctx, *env.UserID, env.Payload)
}
