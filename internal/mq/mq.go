// Package mq defines the MQ Adapter contract of spec §4.3 — account and
// queue lifecycle over a broker — and a default in-process implementation.
//
// The retrieved corpus carries no concrete broker client (no amqp/nats/
// kafka library appears anywhere in _examples), so colink-core implements
// the pluggable-adapter contract against an in-memory broker built from the
// same channel/mutex shape as the teacher's pkg/events.Broker, and leaves
// the interface open for a real backend.
package mq

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/colink-dev/colink-core/internal/corefault"
)

// Credentials is whatever a real broker hands back from account creation;
// the in-process adapter returns an opaque token with no external meaning.
type Credentials struct {
	UserID string
	Token  string
}

// Adapter is the MQ Adapter contract of spec §4.3.
type Adapter interface {
	CreateAccount(userID string) (Credentials, error)
	DeleteAccount(userID string) error
	DeleteAllAccounts() error

	DeclareQueue(userID, prefix string) (string, error)
	DeleteQueue(name string) error
	Publish(queue string, payload []byte) error

	// Consume returns a channel delivering every message published to
	// queue from this point on, preceded by any messages published while
	// the queue had no consumer attached; closing stopCh detaches the
	// consumer.
	Consume(queue string, stopCh <-chan struct{}) (<-chan []byte, error)
}

// Local is an in-process MQ adapter: accounts are tracked in memory,
// queues are buffered channels. It satisfies Adapter without any network
// dependency, matching spec §4.3's "pluggable MQ adapter is assumed".
type Local struct {
	mu       sync.Mutex
	accounts map[string]Credentials
	queues   map[string]*localQueue
	seq      uint64
}

type localQueue struct {
	mu      sync.Mutex
	subs    map[chan []byte]struct{}
	backlog [][]byte // published while no consumer was attached
}

// NewLocal creates an empty in-process broker.
func NewLocal() *Local {
	return &Local{
		accounts: make(map[string]Credentials),
		queues:   make(map[string]*localQueue),
	}
}

func (l *Local) CreateAccount(userID string) (Credentials, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	tok, err := randomToken()
	if err != nil {
		return Credentials{}, corefault.Wrap(corefault.Internal, err, "create mq account for %s", userID)
	}
	creds := Credentials{UserID: userID, Token: tok}
	l.accounts[userID] = creds
	return creds, nil
}

func (l *Local) DeleteAccount(userID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.accounts, userID)
	return nil
}

func (l *Local) DeleteAllAccounts() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.accounts = make(map[string]Credentials)
	// Per spec §4.3, account reset on start-up flushes stale broker state;
	// queues are re-declared lazily by subscribe, so they are torn down too.
	for name, q := range l.queues {
		q.mu.Lock()
		for ch := range q.subs {
			close(ch)
			delete(q.subs, ch)
		}
		q.mu.Unlock()
		delete(l.queues, name)
	}
	return nil
}

func (l *Local) DeclareQueue(userID, prefix string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	name := fmt.Sprintf("%s.%s.%d", userID, sanitize(prefix), l.seq)
	l.queues[name] = &localQueue{subs: make(map[chan []byte]struct{})}
	return name, nil
}

func (l *Local) DeleteQueue(name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	q, ok := l.queues[name]
	if !ok {
		return nil
	}
	q.mu.Lock()
	for ch := range q.subs {
		close(ch)
		delete(q.subs, ch)
	}
	q.mu.Unlock()
	delete(l.queues, name)
	return nil
}

func (l *Local) Publish(queue string, payload []byte) error {
	l.mu.Lock()
	q, ok := l.queues[queue]
	l.mu.Unlock()
	if !ok {
		return corefault.New(corefault.Unavailable, "queue %s does not exist", queue)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.subs) == 0 {
		q.backlog = append(q.backlog, payload)
		return nil
	}
	for ch := range q.subs {
		select {
		case ch <- payload:
		default:
			// Slow consumer: drop rather than block the publisher, matching
			// the at-most-once notification semantics of spec §4.2.
		}
	}
	return nil
}

func (l *Local) Consume(queue string, stopCh <-chan struct{}) (<-chan []byte, error) {
	l.mu.Lock()
	q, ok := l.queues[queue]
	l.mu.Unlock()
	if !ok {
		return nil, corefault.New(corefault.NotFound, "queue %s does not exist", queue)
	}
	q.mu.Lock()
	// Messages published while the queue had no consumer go to this one.
	ch := make(chan []byte, 256+len(q.backlog))
	for _, msg := range q.backlog {
		ch <- msg
	}
	q.backlog = nil
	q.subs[ch] = struct{}{}
	q.mu.Unlock()

	go func() {
		<-stopCh
		q.mu.Lock()
		// DeleteQueue/DeleteAllAccounts may already have closed ch.
		if _, ok := q.subs[ch]; ok {
			delete(q.subs, ch)
			close(ch)
		}
		q.mu.Unlock()
	}()
	return ch, nil
}

func randomToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func sanitize(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == ':' || r == '/' || r == ' ' {
			out = append(out, '_')
			continue
		}
		out = append(out, r)
	}
	return string(out)
}
