// Package memtransport implements swapcore.Transport as an in-process,
// best-effort, possibly-duplicating pub/sub: messages are handed directly
// between registered peers' inboxes and redelivered on a fixed interval
// until the sender stops, exercising the same "best-effort, may
// retransmit" behavior the Messenger must tolerate.
//
// This is the transport used by the single-process two-role demo and by
// swapcore's tests.
package memtransport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stjordanis/atomicswap-core/internal/swapcore"
	"github.com/stjordanis/atomicswap-core/pkg/logging"
)

// RetransmitInterval governs how often an active Send handle redelivers its
// payload to the destination inbox. Exposed as a var so tests can shrink it.
var RetransmitInterval = 200 * time.Millisecond

type envelope struct {
	subject string
	payload []byte
}

// Hub is the shared in-process switchboard multiple Transport handles are
// registered against; it plays the role a pubsub topic mesh plays for a
// networked transport, minus the network.
type Hub struct {
	mu     sync.Mutex
	inboxes map[swapcore.PeerID]chan envelope
}

// NewHub returns an empty switchboard.
func NewHub() *Hub {
	return &Hub{inboxes: make(map[swapcore.PeerID]chan envelope)}
}

// Transport returns a swapcore.Transport bound to self's inbox on h.
func (h *Hub) Transport(self swapcore.PeerID) *Transport {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.inboxes[self]; !ok {
		h.inboxes[self] = make(chan envelope, 64)
	}
	return &Transport{hub: h, self: self, log: logging.GetDefault().Component("memtransport")}
}

func (h *Hub) inbox(id swapcore.PeerID) chan envelope {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.inboxes[id]
}

// Transport is a Hub-bound swapcore.Transport implementation.
type Transport struct {
	hub  *Hub
	self swapcore.PeerID
	log  *logging.Logger
}

var _ swapcore.Transport = (*Transport)(nil)

// sendHandle is the droppable retransmit handle returned by Send.
type sendHandle struct {
	stop chan struct{}
	once sync.Once
}

func (h *sendHandle) Stop() {
	h.once.Do(func() { close(h.stop) })
}

// Send begins redelivering payload to peer's inbox on subject every
// RetransmitInterval until the returned handle is stopped, modeling a
// best-effort transport that may retransmit.
func (t *Transport) Send(ctx context.Context, peer swapcore.PeerID, subject string, payload []byte) (swapcore.SendHandle, error) {
	dest := t.hub.inbox(peer)
	if dest == nil {
		return nil, fmt.Errorf("memtransport: unknown peer %x", peer)
	}

	h := &sendHandle{stop: make(chan struct{})}
	deliver := func() {
		select {
		case dest <- envelope{subject: subject, payload: payload}:
		default:
			t.log.Warn("inbox full, dropping delivery attempt", "subject", subject)
		}
	}
	deliver()

	go func() {
		ticker := time.NewTicker(RetransmitInterval)
		defer ticker.Stop()
		for {
			select {
			case <-h.stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				deliver()
			}
		}
	}()

	return h, nil
}

// Recv blocks until a payload addressed to subject arrives on t's inbox, or
// ctx is done. Envelopes for other subjects are requeued so a recv on one
// subject never consumes a message meant for another.
func (t *Transport) Recv(ctx context.Context, subject string) ([]byte, error) {
	inbox := t.hub.inbox(t.self)
	if inbox == nil {
		return nil, fmt.Errorf("memtransport: unknown peer %x", t.self)
	}

	var requeue []envelope
	defer func() {
		for _, e := range requeue {
			select {
			case inbox <- e:
			default:
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case e := <-inbox:
			if e.subject != subject {
				requeue = append(requeue, e)
				continue
			}
			return e.payload, nil
		}
	}
}
