// Package chainadapter defines the contract the swap state machines
// consume to build, validate, broadcast, and watch HTLC transactions. The
// swap core depends only on the interfaces below, never on a specific
// chain's wire format. internal/chainbtc provides one concrete
// implementation for Bitcoin-family chains.
//
// The fixed-width byte values the protocol passes around are named types
// instead of bare []byte, so a Secret can never be silently passed where a
// CompressedPubKey is expected.
package chainadapter

import (
	"context"
	"fmt"
	"time"
)

// Secret is the 32-byte preimage the Maker chooses and the Taker later
// learns by observing its payment being spent.
type Secret [32]byte

// SecretHash is the 20-byte HASH160 of a Secret.
type SecretHash [20]byte

// CompressedPubKey is a 33-byte compressed secp256k1 public key.
type CompressedPubKey [33]byte

// IsZero reports whether k is the zero value, i.e. not yet populated.
func (k CompressedPubKey) IsZero() bool {
	return k == CompressedPubKey{}
}

// Tx is a parsed, chain-specific transaction. Implementations must support
// round-tripping through Raw/TxFromRawBytes and, for transactions that
// spend an HTLC's hash branch, extracting the revealed secret.
type Tx interface {
	// ID returns a chain-appropriate transaction identifier (e.g. txid hex).
	ID() string

	// Raw returns the canonical wire-serialized transaction bytes.
	Raw() []byte

	// ExtractSecret returns the 32-byte preimage revealed by this
	// transaction's witness/scriptSig when it spends an HTLC's hash branch.
	// ErrSecretMissing is returned if this transaction does not reveal one.
	ExtractSecret() (Secret, error)
}

// DecodeError wraps a failure to parse raw transaction bytes.
type DecodeError struct {
	Cause error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("decode error: %v", e.Cause) }
func (e *DecodeError) Unwrap() error { return e.Cause }

// ErrSecretMissing is returned by Tx.ExtractSecret when the spending
// transaction does not carry a preimage.
var ErrSecretMissing = fmt.Errorf("spending transaction did not reveal a secret")

// Chain is the contract the Maker/Taker state machines use to act on-chain.
// One implementation exists per coin/chain-family; all methods that hit the
// network (broadcast, confirmation wait, spend wait) take a context for
// cancellation.
type Chain interface {
	// TxFromRawBytes parses raw bytes received over the wire into a Tx.
	TxFromRawBytes(raw []byte) (Tx, error)

	// SendTakerFee broadcasts the Taker's dust fee payment to feeAddrPub.
	SendTakerFee(ctx context.Context, feeAddrPub CompressedPubKey, amount uint64) (Tx, error)

	// ValidateFee checks that tx pays amount to feeAddrPub.
	ValidateFee(tx Tx, feeAddrPub CompressedPubKey, amount uint64) error

	// SendMakerPayment broadcasts the Maker's HTLC funding transaction.
	// The hash branch is spendable by takerPub0 (the Taker's ephemeral
	// key); the timelock branch (after lock) is spendable by
	// senderPersistent, the funder's — here the Maker's — persistent key.
	SendMakerPayment(ctx context.Context, lock uint64, takerPub0, makerPub0, senderPersistent CompressedPubKey, secretHash SecretHash, amount uint64) (Tx, error)

	// SendTakerPayment broadcasts the Taker's HTLC funding transaction.
	// The hash branch is spendable by makerPub0; the timelock branch by the
	// Taker's persistent key (senderPersistent).
	SendTakerPayment(ctx context.Context, lock uint64, takerPub0, makerPub0, senderPersistent CompressedPubKey, secretHash SecretHash, amount uint64) (Tx, error)

	// ValidateMakerPayment checks tx against the expected HTLC parameters
	// before the Taker relies on it. senderPersistent is the Maker's
	// persistent key, learned during negotiation.
	ValidateMakerPayment(tx Tx, lock uint64, takerPub0, makerPub0, senderPersistent CompressedPubKey, secretHash SecretHash, amount uint64) error

	// ValidateTakerPayment checks tx against the expected HTLC parameters
	// before the Maker relies on it. senderPersistent is the Taker's
	// persistent key, learned during negotiation.
	ValidateTakerPayment(tx Tx, lock uint64, takerPub0, makerPub0, senderPersistent CompressedPubKey, secretHash SecretHash, amount uint64) error

	// SendMakerSpendsTakerPayment spends the Taker's payment via the hash
	// branch, revealing secret on-chain.
	SendMakerSpendsTakerPayment(ctx context.Context, taker Tx, makerPriv0 []byte, secret Secret) (Tx, error)

	// SendTakerSpendsMakerPayment spends the Maker's payment via the hash
	// branch, using the secret the Taker learned by observing
	// SendMakerSpendsTakerPayment.
	SendTakerSpendsMakerPayment(ctx context.Context, maker Tx, takerPriv0 []byte, secret Secret) (Tx, error)

	// SendTakerRefundsPayment spends the Taker's own payment via the
	// timelock branch, using the Taker's persistent key. Must only be
	// called after the Taker's payment lock has elapsed.
	SendTakerRefundsPayment(ctx context.Context, taker Tx, takerPersistentPriv []byte) (Tx, error)

	// WaitForConfirmations blocks until tx reaches n confirmations or
	// deadline passes, in which case it returns ErrChainTimeout.
	WaitForConfirmations(ctx context.Context, tx Tx, n uint32, deadline time.Time) error

	// WaitForTxSpend blocks until tx is observed spent or deadline passes,
	// in which case it returns ErrChainTimeout.
	WaitForTxSpend(ctx context.Context, tx Tx, deadline time.Time) (Tx, error)
}

// ErrChainTimeout is returned by WaitForConfirmations/WaitForTxSpend when
// their deadline elapses before the awaited condition is observed.
var ErrChainTimeout = fmt.Errorf("chain wait deadline exceeded")
