// Package p2ptransport implements swapcore.Transport over
// github.com/libp2p/go-libp2p-pubsub. It carries no outbox persistence,
// ACK bookkeeping, or DHT peer lookup: the swap core only needs
// send/recv-with-retry semantics from its transport, and in-flight swap
// state is in-memory by design.
//
// Every swap subject (already session-scoped by the Messenger, e.g.
// "negotiation@abc123") becomes its own pubsub topic, so two concurrent
// swaps on the same host never share a topic.
package p2ptransport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"

	"github.com/stjordanis/atomicswap-core/internal/swapcore"
	"github.com/stjordanis/atomicswap-core/pkg/logging"
)

// TopicPrefix namespaces every subject's pubsub topic so unrelated
// protocols sharing the host never collide with swap traffic.
const TopicPrefix = "/atomicswap-core/1.0.0/"

// RetransmitInterval governs how often an active Send handle republishes
// its payload, giving the best-effort, possibly-duplicating delivery the
// Messenger is built to tolerate.
var RetransmitInterval = 5 * time.Second

// Transport adapts a libp2p host + pubsub instance to swapcore.Transport.
// PeerID routing happens at the pubsub-topic layer: Send ignores the peer
// argument beyond logging it, since every subject already resolves to a
// topic only the swap's two participants are expected to join (the session
// tag is agreed out-of-band).
type Transport struct {
	host host.Host
	ps   *pubsub.PubSub
	log  *logging.Logger

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
	subs   map[string]*pubsub.Subscription
}

var _ swapcore.Transport = (*Transport)(nil)

// New builds a Transport over an already-constructed libp2p host and
// pubsub router; the caller owns the host/pubsub lifecycle independently
// of any one protocol handler built on top of it.
func New(h host.Host, ps *pubsub.PubSub) *Transport {
	return &Transport{
		host:   h,
		ps:     ps,
		log:    logging.GetDefault().Component("p2ptransport"),
		topics: make(map[string]*pubsub.Topic),
		subs:   make(map[string]*pubsub.Subscription),
	}
}

func (t *Transport) topicFor(subject string) (*pubsub.Topic, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if top, ok := t.topics[subject]; ok {
		return top, nil
	}
	top, err := t.ps.Join(TopicPrefix + subject)
	if err != nil {
		return nil, fmt.Errorf("join topic for %q: %w", subject, err)
	}
	t.topics[subject] = top
	return top, nil
}

func (t *Transport) subscriptionFor(subject string) (*pubsub.Subscription, error) {
	t.mu.Lock()
	if sub, ok := t.subs[subject]; ok {
		t.mu.Unlock()
		return sub, nil
	}
	t.mu.Unlock()

	top, err := t.topicFor(subject)
	if err != nil {
		return nil, err
	}
	sub, err := top.Subscribe()
	if err != nil {
		return nil, fmt.Errorf("subscribe to %q: %w", subject, err)
	}

	t.mu.Lock()
	t.subs[subject] = sub
	t.mu.Unlock()
	return sub, nil
}

// sendHandle republishes payload on an interval until Stop is called.
type sendHandle struct {
	cancel context.CancelFunc
	once   sync.Once
}

func (h *sendHandle) Stop() {
	h.once.Do(h.cancel)
}

// Send begins (re)publishing payload to subject's topic until the returned
// handle is stopped. A uuid message ID is logged per attempt for
// cross-peer log reconciliation; the payload itself is published opaque
// since the Messenger already logs its CRC-32.
func (t *Transport) Send(ctx context.Context, peer swapcore.PeerID, subject string, payload []byte) (swapcore.SendHandle, error) {
	top, err := t.topicFor(subject)
	if err != nil {
		return nil, err
	}

	sendCtx, cancel := context.WithCancel(ctx)
	h := &sendHandle{cancel: cancel}

	publish := func() {
		attemptID := uuid.NewString()
		if err := top.Publish(sendCtx, payload); err != nil {
			t.log.Warn("publish failed, will retry", "subject", subject, "attempt", attemptID, "error", err)
			return
		}
		t.log.Debug("published", "subject", subject, "attempt", attemptID, "peer", fmt.Sprintf("%x", peer[:4]))
	}
	publish()

	go func() {
		ticker := time.NewTicker(RetransmitInterval)
		defer ticker.Stop()
		for {
			select {
			case <-sendCtx.Done():
				return
			case <-ticker.C:
				publish()
			}
		}
	}()

	return h, nil
}

// Recv blocks until a message arrives on subject's topic from a peer other
// than this host, or ctx is done. Self-published messages are filtered
// since pubsub loops every publish back to its own subscription.
func (t *Transport) Recv(ctx context.Context, subject string) ([]byte, error) {
	sub, err := t.subscriptionFor(subject)
	if err != nil {
		return nil, err
	}
	for {
		msg, err := sub.Next(ctx)
		if err != nil {
			return nil, err
		}
		if msg.ReceivedFrom == t.host.ID() {
			continue
		}
		return msg.Data, nil
	}
}
