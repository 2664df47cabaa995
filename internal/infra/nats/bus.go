package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"math-battle/internal/domain"
)

// Config holds the NATS connection settings.
type Config struct {
	URL           string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
	Buffer        int
}

// DefaultConfig returns default NATS configuration.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		SubjectPrefix: "rooms",
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
		Buffer:        64,
	}
}

// Bus carries room envelopes over core NATS subjects {prefix}.{room}.
type Bus struct {
	nc     *nats.Conn
	prefix string
	buffer int
}

// Connect dials NATS and returns a bus owning the connection.
func Connect(cfg Config) (*Bus, error) {
	opts := []nats.Option{
		nats.Name("math-battle"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return NewBus(nc, cfg.SubjectPrefix, cfg.Buffer), nil
}

func NewBus(nc *nats.Conn, prefix string, buffer int) *Bus {
	if prefix == "" {
		prefix = "rooms"
	}
	if buffer <= 0 {
		buffer = 64
	}
	return &Bus{nc: nc, prefix: prefix, buffer: buffer}
}

func (b *Bus) Publish(_ context.Context, env domain.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if err := b.nc.Publish(b.subject(env.Room), data); err != nil {
		return fmt.Errorf("publish %s: %w", env.Room, err)
	}
	return nil
}

// Subscribe flushes the subscription to the server before returning so
// nothing published afterwards is missed.
func (b *Bus) Subscribe(ctx context.Context, room string) (<-chan domain.Envelope, func(), error) {
	msgs := make(chan *nats.Msg, b.buffer)
	sub, err := b.nc.ChanSubscribe(b.subject(room), msgs)
	if err != nil {
		return nil, nil, fmt.Errorf("subscribe %s: %w", room, err)
	}
	if err := b.nc.FlushWithContext(ctx); err != nil {
		_ = sub.Unsubscribe()
		return nil, nil, fmt.Errorf("flush subscription %s: %w", room, err)
	}

	out := make(chan domain.Envelope, b.buffer)
	stop := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			_ = sub.Unsubscribe()
			close(stop)
		})
	}

	go func() {
		defer close(out)
		for {
			select {
			case <-stop:
				return
			case msg := <-msgs:
				var env domain.Envelope
				if err := json.Unmarshal(msg.Data, &env); err != nil {
					log.Warn().Err(err).Str("room", room).Msg("discarding malformed envelope")
					continue
				}
				select {
				case out <- env:
				default:
					log.Warn().Str("room", room).Msg("bus subscriber too slow, dropping")
					cancel()
					return
				}
			}
		}
	}()
	return out, cancel, nil
}

// Close drains the connection.
func (b *Bus) Close() error {
	return b.nc.Drain()
}

// subject maps a room name onto a single NATS token; dots would split it.
func (b *Bus) subject(room string) string {
	return b.prefix + "." + strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_").Replace(room)
}
