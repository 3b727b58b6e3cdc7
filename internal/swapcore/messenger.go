package swapcore

import (
	"context"
	"fmt"
	"hash/crc32"
	"time"

	"github.com/stjordanis/atomicswap-core/internal/swapconfig"
	"github.com/stjordanis/atomicswap-core/pkg/logging"
)

// Validator gates acceptance of a candidate payload for a recv call. It
// must be stateless, pure, and must not block — on-chain checks belong
// after Recv returns, not inside the validator.
type Validator func(payload []byte) bool

// AcceptAny is a Validator that accepts the first payload delivered,
// useful for subjects where the transport itself already scopes delivery
// unambiguously (e.g. a raw tx broadcast on a session-scoped subject).
func AcceptAny(_ []byte) bool { return true }

// RecvTimeout is returned by Messenger.Recv when no payload is accepted
// before the budget elapses.
type RecvTimeout struct {
	Subject string
}

func (e *RecvTimeout) Error() string { return fmt.Sprintf("Error getting '%s': timeout", e.Subject) }

// Messenger is a thin, subject-scoped wrapper over a Transport: send
// returns a droppable retransmit handle, recv retries delivered candidates
// against a validator until one is accepted or the budget elapses.
type Messenger struct {
	transport Transport
	session   string
	log       *logging.Logger
}

// NewMessenger builds a Messenger scoping every subject to session.
func NewMessenger(transport Transport, session string) *Messenger {
	return &Messenger{
		transport: transport,
		session:   session,
		log:       logging.GetDefault().Component("messenger"),
	}
}

func (m *Messenger) scopedSubject(logical string) string {
	return fmt.Sprintf("%s@%s", logical, m.session)
}

// Send begins transmitting payload to peer on logical (scoped to this
// Messenger's session), logging its length and CRC-32.
func (m *Messenger) Send(ctx context.Context, peer PeerID, logical string, payload []byte) (SendHandle, error) {
	subject := m.scopedSubject(logical)
	m.log.Info("send", "subject", subject, "len", len(payload), "crc32", crc32.ChecksumIEEE(payload))
	handle, err := m.transport.Send(ctx, peer, subject, payload)
	if err != nil {
		return nil, fmt.Errorf("send %q: %w", subject, err)
	}
	return handle, nil
}

// Recv waits for a payload on logical (scoped to this Messenger's
// session) accepted by validator, with a total budget of
// swapconfig.BasicCommTimeout + extraTimeout.
func (m *Messenger) Recv(ctx context.Context, logical, description string, extraTimeout time.Duration, validator Validator) ([]byte, error) {
	subject := m.scopedSubject(logical)
	budget := swapconfig.BasicCommTimeout + extraTimeout

	recvCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	for {
		payload, err := m.transport.Recv(recvCtx, subject)
		if err != nil {
			return nil, &RecvTimeout{Subject: subject}
		}
		if !validator(payload) {
			m.log.Warn("rejected candidate, retrying", "subject", subject, "description", description, "len", len(payload))
			continue
		}
		m.log.Info("recv", "subject", subject, "len", len(payload), "crc32", crc32.ChecksumIEEE(payload))
		return payload, nil
	}
}
