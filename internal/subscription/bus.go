/*
Package subscription implements the Subscription Bus of spec §4.2: a
per-(user_id, key_prefix) broker queue that receives catch-up history from
the KV store followed by a live tail of mutation events, adapted from the
teacher's pkg/events.Broker (in-memory channel fan-out) but restructured
around per-subscription MQ queues rather than one shared channel, since the
spec requires ordered catch-up-then-live delivery per subscriber rather
than pure broadcast.

# Catch-up / live watermark strategy

subscribe() registers the subscription (so concurrent live events start
buffering for it) *before* scanning the KV store for history, then performs
the historical scan, then flushes any buffered live events that arrived
during the scan and whose version is beyond the last version the scan
observed, then switches the subscription to direct live delivery. This
resolves the interleaving spec §9 leaves to implementers: a live event can
race the catch-up scan in either order, so the watermark (the highest
version the scan returned) is used to drop the small number of events the
scan already captured, while guaranteeing no events are lost. This is what
spec's testable property #6 exercises.
*/
package subscription

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/colink-dev/colink-core/internal/corefault"
	"github.com/colink-dev/colink-core/internal/corelog"
	"github.com/colink-dev/colink-core/internal/coretypes"
	"github.com/colink-dev/colink-core/internal/kvstore"
	"github.com/colink-dev/colink-core/internal/mq"
)

// Codec serialises an Event for wire delivery over the MQ adapter. The
// default is JSON; callers may substitute a different codec.
type Codec interface {
	Encode(coretypes.Event) ([]byte, error)
}

type jsonCodec struct{}

// Bus is the Subscription Bus: it fronts a Store for catch-up scans and an
// mq.Adapter for queue lifecycle + delivery, and itself satisfies
// kvstore.Publisher so the store can feed it live events.
type Bus struct {
	store kvstore.Store
	adapt mq.Adapter
	codec Codec

	mu   sync.Mutex
	subs map[string]*subscription // keyed by queue name
}

type subscription struct {
	mu          sync.Mutex
	userID      string
	prefix      string
	watermark   uint64
	catchupDone bool
	pending     []coretypes.Event
}

// New builds a Bus over store and adapt.
func New(store kvstore.Store, adapt mq.Adapter) *Bus {
	return &Bus{
		store: store,
		adapt: adapt,
		codec: jsonCodec{},
		subs:  make(map[string]*subscription),
	}
}

// Subscribe creates a broker queue, replays history at or after
// startVersion under prefix in version order, then tails live events.
func (b *Bus) Subscribe(userID, prefix string, startVersion uint64) (string, error) {
	queue, err := b.adapt.DeclareQueue(userID, prefix)
	if err != nil {
		return "", corefault.Wrap(corefault.Unavailable, err, "declare queue for %s", userID)
	}

	sub := &subscription{userID: userID, prefix: prefix}
	b.mu.Lock()
	b.subs[queue] = sub
	b.mu.Unlock()

	entries, err := b.store.ListKeys(userID, prefix, true)
	if err != nil {
		b.mu.Lock()
		delete(b.subs, queue)
		b.mu.Unlock()
		_ = b.adapt.DeleteQueue(queue)
		return "", err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Timestamp < entries[j].Timestamp })

	var watermark uint64
	for _, e := range entries {
		v := uint64(e.Timestamp)
		if v < startVersion {
			continue
		}
		ev := entryToEvent(userID, e)
		if err := b.deliver(queue, ev); err != nil {
			return queue, err
		}
		if v > watermark {
			watermark = v
		}
	}

	sub.mu.Lock()
	sub.watermark = watermark
	sub.catchupDone = true
	pending := sub.pending
	sub.pending = nil
	sub.mu.Unlock()

	for _, ev := range pending {
		if ev.Version <= watermark {
			continue
		}
		if err := b.deliver(queue, ev); err != nil {
			return queue, err
		}
	}

	return queue, nil
}

// Unsubscribe tears down the queue and drops the subscription record.
func (b *Bus) Unsubscribe(queue string) error {
	b.mu.Lock()
	delete(b.subs, queue)
	b.mu.Unlock()
	return b.adapt.DeleteQueue(queue)
}

// Publish implements kvstore.Publisher: called synchronously by the KV
// store after every successful mutation, before the mutating call returns.
func (b *Bus) Publish(userID string, ev coretypes.Event) {
	b.mu.Lock()
	var matches []*subscription
	var queues []string
	for queue, sub := range b.subs {
		if sub.userID == userID && hasPrefix(ev.KeyName, sub.prefix) {
			matches = append(matches, sub)
			queues = append(queues, queue)
		}
	}
	b.mu.Unlock()

	for i, sub := range matches {
		sub.mu.Lock()
		if !sub.catchupDone {
			sub.pending = append(sub.pending, ev)
			sub.mu.Unlock()
			continue
		}
		sub.mu.Unlock()
		// Publish failures are logged here and not returned (kvstore does
		// not fail the originating write), per spec §4.2.
		if err := b.deliver(queues[i], ev); err != nil {
			corelog.Logger.Warn().Err(err).Str("queue", queues[i]).Msg("deliver live event")
		}
	}
}

func (b *Bus) deliver(queue string, ev coretypes.Event) error {
	data, err := b.codec.Encode(ev)
	if err != nil {
		return corefault.Wrap(corefault.Internal, err, "encode event")
	}
	if err := b.adapt.Publish(queue, data); err != nil {
		return corefault.Wrap(corefault.Unavailable, err, "publish to %s", queue)
	}
	return nil
}

func entryToEvent(userID string, e *coretypes.StorageEntry) coretypes.Event {
	mtype := coretypes.MutationUpdate
	if e.Tombstone {
		mtype = coretypes.MutationDelete
	}
	return coretypes.Event{
		Type:    mtype,
		UserID:  userID,
		KeyName: e.KeyName,
		KeyPath: e.KeyPath,
		Payload: e.Payload,
		Version: uint64(e.Timestamp),
	}
}

func hasPrefix(keyName, prefix string) bool {
	if prefix == "" {
		return true
	}
	if len(keyName) < len(prefix) {
		return false
	}
	return keyName[:len(prefix)] == prefix
}

type wireEvent struct {
	Type    coretypes.MutationType `json:"type"`
	UserID  string                 `json:"user_id"`
	KeyName string                 `json:"key_name"`
	KeyPath string                 `json:"key_path"`
	Payload []byte                 `json:"payload"`
	Version uint64                 `json:"version"`
}

func (jsonCodec) Encode(ev coretypes.Event) ([]byte, error) {
	return json.Marshal(wireEvent{
		Type:    ev.Type,
		UserID:  ev.UserID,
		KeyName: ev.KeyName,
		KeyPath: ev.KeyPath,
		Payload: ev.Payload,
		Version: ev.Version,
	})
}
