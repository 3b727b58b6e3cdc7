package swapcore

import "context"

// PeerID is an opaque identifier used to route messages to a specific
// counterparty.
type PeerID [32]byte

// SendHandle is returned by Transport.Send. The transport may keep
// retransmitting the payload until the handle is dropped via Stop. The
// Maker and Taker keep the negotiation and negotiation-reply handles alive
// until the reply recv succeeds; the negotiated, taker-fee, maker-payment
// and taker-payment handles are stopped as soon as Send returns, so those
// messages are not retransmitted.
type SendHandle interface {
	// Stop tells the transport to stop retransmitting. Safe to call more
	// than once.
	Stop()
}

// Transport is the best-effort, possibly-duplicating peer channel the
// Messenger is built on. It never decides what is a valid message; that is
// the Messenger's and the validator's job.
type Transport interface {
	// Send begins (re)transmitting payload to peer on subject until the
	// returned handle is stopped.
	Send(ctx context.Context, peer PeerID, subject string, payload []byte) (SendHandle, error)

	// Recv blocks until a payload addressed to subject arrives, or ctx is
	// done. Transports may deliver the same logical message more than
	// once; the Messenger is responsible for validator-gated acceptance.
	Recv(ctx context.Context, subject string) ([]byte, error)
}
