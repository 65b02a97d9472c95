// Package wsredis relays broadcasts between server instances through
// Redis pub/sub.
//
// A message published on one instance is broadcast to the connections of
// every instance running a Relay on the same channel, including the
// publishing one.
package wsredis

import (
	"context"

	"github.com/go-redis/redis/v8"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/xerrors"

	"github.com/sockwire/websocket"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Broadcaster is implemented by *websocket.Server.
type Broadcaster interface {
	Broadcast(typ websocket.DataType, p []byte) error
}

// Relay publishes broadcasts to a Redis channel and feeds the
// broadcasts received on it to a Broadcaster.
type Relay struct {
	rdb     redis.UniversalClient
	channel string
	b       Broadcaster
	log     *zap.Logger
}

// New returns a Relay. A nil log disables logging.
func New(rdb redis.UniversalClient, channel string, b Broadcaster, log *zap.Logger) *Relay {
	if log == nil {
		log = zap.NewNop()
	}
	return &Relay{
		rdb:     rdb,
		channel: channel,
		b:       b,
		log:     log.With(zap.String("channel", channel)),
	}
}

type envelope struct {
	Type    websocket.DataType `json:"type"`
	Payload []byte             `json:"payload"`
}

func encode(typ websocket.DataType, p []byte) ([]byte, error) {
	b, err := json.Marshal(envelope{
		Type:    typ,
		Payload: p,
	})
	if err != nil {
		return nil, xerrors.Errorf("failed to marshal broadcast: %w", err)
	}
	return b, nil
}

func decode(b []byte) (envelope, error) {
	var e envelope
	err := json.Unmarshal(b, &e)
	if err != nil {
		return envelope{}, xerrors.Errorf("failed to unmarshal broadcast: %w", err)
	}
	return e, nil
}

// Publish sends a broadcast to every Relay subscribed to the channel.
func (r *Relay) Publish(ctx context.Context, typ websocket.DataType, p []byte) error {
	b, err := encode(typ, p)
	if err != nil {
		return err
	}
	err = r.rdb.Publish(ctx, r.channel, b).Err()
	if err != nil {
		return xerrors.Errorf("failed to publish broadcast: %w", err)
	}
	return nil
}

// Run subscribes to the channel and broadcasts every message received
// until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	sub := r.rdb.Subscribe(ctx, r.channel)
	defer sub.Close()

	// Wait for the subscription to be confirmed so no publish is missed.
	_, err := sub.Receive(ctx)
	if err != nil {
		return xerrors.Errorf("failed to subscribe to %q: %w", r.channel, err)
	}
	r.log.Debug("subscribed")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return xerrors.New("subscription closed")
			}
			r.relay(msg)
		}
	}
}

func (r *Relay) relay(msg *redis.Message) {
	e, err := decode([]byte(msg.Payload))
	if err != nil {
		r.log.Warn("dropping malformed broadcast", zap.Error(err))
		return
	}

	err = r.b.Broadcast(e.Type, e.Payload)
	if err != nil {
		r.log.Warn("broadcast failed on some connections", zap.Error(err))
	}
}
