package miclock

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// MessageKind is the type of an arbitration message.
type MessageKind string

const (
	// KindProbe asks any current owner to announce itself.
	KindProbe MessageKind = "probe"

	// KindHeartbeat announces (or claims) ownership.
	KindHeartbeat MessageKind = "heartbeat"

	// KindResign announces that the sender gave up ownership.
	KindResign MessageKind = "resign"
)

// Message is broadcast between arbiters.
type Message struct {
	Kind    MessageKind `json:"kind"`
	OwnerID string      `json:"owner_id"`
	SentAt  time.Time   `json:"sent_at"`
}

// Bus is a broadcast channel visible to every participant. Messages published
// by a participant may or may not be echoed back to it; arbiters ignore their
// own messages.
type Bus interface {
	// Publish broadcasts msg to every subscriber.
	Publish(ctx context.Context, msg Message) error

	// Subscribe returns a channel receiving every subsequent message. The
	// channel is closed after cancel is called.
	Subscribe(ctx context.Context) (msgs <-chan Message, cancel func(), err error)
}

// MemoryBus is an in-process Bus. It delivers to every subscriber, dropping
// messages for subscribers whose buffer is full.
type MemoryBus struct {
	mu   sync.Mutex
	subs map[int]chan Message
	next int
}

var _ Bus = (*MemoryBus)(nil)

// NewMemoryBus returns an empty in-process bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[int]chan Message)}
}

func (b *MemoryBus) Publish(_ context.Context, msg Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- msg:
		default:
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(context.Context) (<-chan Message, func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	ch := make(chan Message, 64)
	b.subs[id] = ch
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
			close(ch)
		})
	}
	return ch, cancel, nil
}

// DefaultRedisChannel is the Pub/Sub channel used when none is configured.
const DefaultRedisChannel = "voxact:microphone"

// RedisBus is a Bus backed by Redis Pub/Sub, for arbiters running in
// separate processes or hosts.
type RedisBus struct {
	client  *redis.Client
	channel string
}

var _ Bus = (*RedisBus)(nil)

// NewRedisBus wraps client. An empty channel selects DefaultRedisChannel.
func NewRedisBus(client *redis.Client, channel string) *RedisBus {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &RedisBus{client: client, channel: channel}
}

// DialRedis connects to addr and verifies the connection with PING.
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("miclock: ping redis %s: %w", addr, err)
	}
	return client, nil
}

func (b *RedisBus) Publish(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("miclock: encode message: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("miclock: publish: %w", err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context) (<-chan Message, func(), error) {
	ps := b.client.Subscribe(ctx, b.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, fmt.Errorf("miclock: subscribe %s: %w", b.channel, err)
	}

	out := make(chan Message, 64)
	done := make(chan struct{})
	go func() {
		defer close(out)
		in := ps.Channel()
		for {
			select {
			case <-done:
				return
			case m, ok := <-in:
				if !ok {
					return
				}
				var msg Message
				if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
					continue
				}
				select {
				case out <- msg:
				default:
				}
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			_ = ps.Close()
		})
	}
	return out, cancel, nil
}
