package remotesync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/onnwee/overtime-timer/backend/apperr"
	"github.com/onnwee/overtime-timer/backend/store"
)

// StateKey is the KV key holding the latest snapshot.
const StateKey = "timer"

// putter is the slice of jetstream.KeyValue the pusher needs.
type putter interface {
	Put(ctx context.Context, key string, value []byte) (uint64, error)
}

// NATSPusher writes the state into a JetStream key-value bucket.
type NATSPusher struct {
	nc  *nats.Conn
	kv  putter
	key string
}

// DialNATS connects to url and creates (or reuses) bucket.
func DialNATS(ctx context.Context, url, bucket string) (*NATSPusher, error) {
	logger := slog.Default().With(slog.String("component", "remotesync"))
	opts := []nats.Option{
		nats.Name("overtime-timer"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", slog.Any("err", err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w: %v", apperr.ErrSyncUnavailable, err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "overtime countdown state",
		History:     1,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("key-value bucket %s: %w", bucket, err)
	}
	return &NATSPusher{nc: nc, kv: kv, key: StateKey}, nil
}

func (p *NATSPusher) Push(ctx context.Context, state store.TimerState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if _, err := p.kv.Put(ctx, p.key, data); err != nil {
		return fmt.Errorf("put %s: %w: %v", p.key, apperr.ErrSyncUnavailable, err)
	}
	return nil
}

// Close drains the NATS connection.
func (p *NATSPusher) Close() {
	if p.nc != nil {
		_ = p.nc.Drain()
	}
}
