// Package invalidation fans cache invalidations out to every nhook node
// over Redis Pub/Sub.
//
// A Broadcaster wraps the local invalidation target. Each call invalidates
// locally first and then publishes a message; every subscribed node applies
// the message to its own target. Messages published by the receiving node
// itself are ignored. External writers (a web panel, a cron job) can publish
// the same JSON to bound staleness after out-of-band updates.
package invalidation

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/aysihuniks/nhook/internal/logging"
	"github.com/aysihuniks/nhook/internal/observability"
)

// DefaultChannel is used when no channel is configured.
const DefaultChannel = "nhook:cache:invalidate"

// Message kinds.
const (
	KindKey      = "key"
	KindIdentity = "identity"
	KindTable    = "table"
	KindAll      = "all"
)

// Target is the local invalidation surface, implemented by query.Executor.
type Target interface {
	Invalidate(table, column, identity string) bool
	InvalidateForIdentity(identity string) int
	InvalidateForTable(table string) int
	ClearAll() int
}

// Message is the wire format on the channel.
type Message struct {
	Node     string                     `json:"node,omitempty"`
	Kind     string                     `json:"kind"`
	Table    string                     `json:"table,omitempty"`
	Column   string                     `json:"column,omitempty"`
	Identity string                     `json:"identity,omitempty"`
	SentAt   time.Time                  `json:"sent_at"`
	Trace    observability.MessageTrace `json:"trace,omitempty"`
}

// Broadcaster implements Target by invalidating locally and publishing.
type Broadcaster struct {
	local   Target
	client  *redis.Client
	channel string
	nodeID  string

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

var _ Target = (*Broadcaster)(nil)

// New creates a broadcaster. It does not subscribe until Start.
func New(local Target, client *redis.Client, channel string) *Broadcaster {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Broadcaster{
		local:   local,
		client:  client,
		channel: channel,
		nodeID:  uuid.NewString(),
	}
}

// NodeID identifies this process on the channel.
func (b *Broadcaster) NodeID() string { return b.nodeID }

// Start subscribes to the channel and applies remote messages until Close.
// It returns once the subscription is confirmed.
func (b *Broadcaster) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel != nil {
		return nil
	}

	subCtx, cancel := context.WithCancel(context.Background())
	pubsub := b.client.Subscribe(subCtx, b.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		cancel()
		pubsub.Close()
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}

	b.cancel = cancel
	b.done = make(chan struct{})
	go b.listen(subCtx, pubsub, b.done)
	logging.Op().Info("invalidation subscriber started", "channel", b.channel, "node", b.nodeID)
	return nil
}

func (b *Broadcaster) listen(ctx context.Context, pubsub *redis.PubSub, done chan struct{}) {
	defer close(done)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			b.handle(ctx, msg.Payload)
		}
	}
}

// handle applies one payload. It reports whether the message was applied.
func (b *Broadcaster) handle(ctx context.Context, payload string) bool {
	var m Message
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		logging.Op().Warn("invalid invalidation message", "error", err)
		return false
	}
	if m.Node == b.nodeID {
		return false
	}

	ctx = m.Trace.Attach(ctx)
	ctx, span := observability.StartSpan(ctx, "nhook.invalidation.apply",
		observability.AttrNodeID.String(m.Node),
		observability.AttrTable.String(m.Table),
		observability.AttrIdentity.String(m.Identity),
	)
	defer span.End()
	log := logging.OpWithTrace(observability.LogIDs(ctx))

	removed := 0
	switch m.Kind {
	case KindKey:
		if b.local.Invalidate(m.Table, m.Column, m.Identity) {
			removed = 1
		}
	case KindIdentity:
		removed = b.local.InvalidateForIdentity(m.Identity)
	case KindTable:
		removed = b.local.InvalidateForTable(m.Table)
	case KindAll:
		removed = b.local.ClearAll()
	default:
		log.Warn("unknown invalidation kind", "kind", m.Kind, "node", m.Node)
		return false
	}
	span.SetAttributes(observability.AttrRows.Int(removed))
	log.Debug("applied remote invalidation", "kind", m.Kind, "node", m.Node, "removed", removed)
	return true
}

func (b *Broadcaster) publish(m Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ctx, span := observability.StartSpan(ctx, "nhook.invalidation.publish")
	defer span.End()

	m.Node = b.nodeID
	m.SentAt = time.Now().UTC()
	m.Trace = observability.CaptureTrace(ctx)
	data, err := json.Marshal(m)
	if err != nil {
		return
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		observability.SetSpanError(span, err)
		logging.Op().Warn("publish invalidation failed", "kind", m.Kind, "error", err)
	}
}

// Invalidate removes one lookup locally and on every other node.
func (b *Broadcaster) Invalidate(table, column, identity string) bool {
	removed := b.local.Invalidate(table, column, identity)
	b.publish(Message{Kind: KindKey, Table: table, Column: column, Identity: identity})
	return removed
}

// InvalidateForIdentity removes identity's entries on every node.
func (b *Broadcaster) InvalidateForIdentity(identity string) int {
	n := b.local.InvalidateForIdentity(identity)
	b.publish(Message{Kind: KindIdentity, Identity: identity})
	return n
}

// InvalidateForTable removes table's entries on every node.
func (b *Broadcaster) InvalidateForTable(table string) int {
	n := b.local.InvalidateForTable(table)
	b.publish(Message{Kind: KindTable, Table: table})
	return n
}

// ClearAll empties the cache on every node.
func (b *Broadcaster) ClearAll() int {
	n := b.local.ClearAll()
	b.publish(Message{Kind: KindAll})
	return n
}

// Close stops the subscriber and waits for it to exit.
func (b *Broadcaster) Close() error {
	b.mu.Lock()
	cancel, done := b.cancel, b.done
	b.cancel = nil
	b.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}
