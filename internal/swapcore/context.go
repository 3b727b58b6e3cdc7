package swapcore

import (
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"golang.org/x/crypto/ripemd160"

	"github.com/stjordanis/atomicswap-core/internal/chainadapter"
	"github.com/stjordanis/atomicswap-core/internal/swapconfig"
)

// Role identifies which side of the swap a Context drives.
type Role string

const (
	RoleMaker Role = "maker"
	RoleTaker Role = "taker"
)

// Hash160 computes RIPEMD160(SHA256(x)), the hash used for the HTLC's
// secret commitment.
func Hash160(x []byte) chainadapter.SecretHash {
	sha := sha256.Sum256(x)
	r := ripemd160.New()
	r.Write(sha[:])
	var out chainadapter.SecretHash
	copy(out[:], r.Sum(nil))
	return out
}

// Context is the mutable per-swap record owned exclusively by the active
// state machine. Only one state machine instance ever touches a given
// Context, so no internal locking is required.
type Context struct {
	Role Role

	MyIdentity, PeerIdentity PeerID

	MyPriv0          *btcec.PrivateKey
	MyPersistentPriv []byte
	MyPersistentPub  chainadapter.CompressedPubKey

	peerPub0             chainadapter.CompressedPubKey
	peerPersistentPub    chainadapter.CompressedPubKey
	peerPub0Set          bool
	peerPersistentPubSet bool

	secret     chainadapter.Secret
	secretSet  bool
	SecretHash chainadapter.SecretHash

	MakerPaymentLock uint64
	TakerPaymentLock uint64

	MakerPayment chainadapter.Tx
	TakerPayment chainadapter.Tx

	MakerAmount uint64
	TakerAmount uint64

	TakerFeeAddrPub chainadapter.CompressedPubKey
	TakerFeeAmount  uint64

	StartedAt uint64
}

// NewContextParams bundles the caller-supplied parameters NewContext needs
// to build a fresh Context: the identities used to route messages, the
// fixed swap amounts, and the protocol fee destination. Everything else
// (ephemeral/persistent keypairs, the fee amount, StartedAt) is derived.
type NewContextParams struct {
	Role                     Role
	MyIdentity, PeerIdentity PeerID
	MakerAmount, TakerAmount uint64
	FeeAddrPub               chainadapter.CompressedPubKey
}

// NewContext builds a fresh per-swap Context: generates a new ephemeral
// keypair and a new persistent identity keypair, derives the Taker's dust
// fee from TakerAmount, and stamps StartedAt with the current wall clock.
// MyPersistentPriv is generated fresh per swap here for simplicity; a
// production deployment would instead pass in the node's long-lived
// identity key.
func NewContext(p NewContextParams) (*Context, error) {
	priv0, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate ephemeral keypair: %w", err)
	}
	persistentPriv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate persistent keypair: %w", err)
	}

	var persistentPub chainadapter.CompressedPubKey
	copy(persistentPub[:], persistentPriv.PubKey().SerializeCompressed())

	return &Context{
		Role:             p.Role,
		MyIdentity:       p.MyIdentity,
		PeerIdentity:     p.PeerIdentity,
		MyPriv0:          priv0,
		MyPersistentPriv: persistentPriv.Serialize(),
		MyPersistentPub:  persistentPub,
		MakerAmount:      p.MakerAmount,
		TakerAmount:      p.TakerAmount,
		TakerFeeAddrPub:  p.FeeAddrPub,
		TakerFeeAmount:   swapconfig.TakerFeeAmount(p.TakerAmount),
		StartedAt:        uint64(time.Now().Unix()),
	}, nil
}

// MyPub0 returns the compressed form of MyPriv0's public key.
func (c *Context) MyPub0() chainadapter.CompressedPubKey {
	var out chainadapter.CompressedPubKey
	copy(out[:], c.MyPriv0.PubKey().SerializeCompressed())
	return out
}

// SetPeerPub0 records the counterparty's ephemeral pubkey. It may only be
// set once.
func (c *Context) SetPeerPub0(pub chainadapter.CompressedPubKey) error {
	if c.peerPub0Set {
		return fmt.Errorf("peer pub0 already set")
	}
	c.peerPub0 = pub
	c.peerPub0Set = true
	return nil
}

// PeerPub0 returns the counterparty's ephemeral pubkey; callers must only
// call this after SetPeerPub0.
func (c *Context) PeerPub0() chainadapter.CompressedPubKey { return c.peerPub0 }

// SetPeerPersistentPub records the counterparty's persistent identity
// pubkey. It may only be set once.
func (c *Context) SetPeerPersistentPub(pub chainadapter.CompressedPubKey) error {
	if c.peerPersistentPubSet {
		return fmt.Errorf("peer persistent pub already set")
	}
	c.peerPersistentPub = pub
	c.peerPersistentPubSet = true
	return nil
}

// PeerPersistentPub returns the counterparty's persistent pubkey; callers
// must only call this after SetPeerPersistentPub.
func (c *Context) PeerPersistentPub() chainadapter.CompressedPubKey { return c.peerPersistentPub }

// SetSecret records the swap secret. Hash160(secret) must equal the
// already-known SecretHash.
func (c *Context) SetSecret(secret chainadapter.Secret) error {
	if got := Hash160(secret[:]); got != c.SecretHash {
		return fmt.Errorf("secret does not match secret hash")
	}
	c.secret = secret
	c.secretSet = true
	return nil
}

// Secret returns the swap secret and whether it has been set yet.
func (c *Context) Secret() (chainadapter.Secret, bool) { return c.secret, c.secretSet }

// ValidateLockOrdering checks that the Maker's refund matures strictly
// after the Taker's, so the Taker cannot refund and spend.
func (c *Context) ValidateLockOrdering() error {
	if c.MakerPaymentLock <= c.TakerPaymentLock {
		return fmt.Errorf("maker_payment_lock %d must be greater than taker_payment_lock %d", c.MakerPaymentLock, c.TakerPaymentLock)
	}
	return nil
}
