package swapcore

import (
	"context"
	"crypto/rand"
	"time"

	"github.com/stjordanis/atomicswap-core/internal/chainadapter"
	"github.com/stjordanis/atomicswap-core/internal/status"
	"github.com/stjordanis/atomicswap-core/internal/swapconfig"
	"github.com/stjordanis/atomicswap-core/pkg/logging"
)

// MakerState enumerates the states the Maker's driver can be in. It is
// exhaustive only over the states the Maker role enters — there is no
// shared union with TakerState.
type MakerState string

const (
	MakerStateNegotiation       MakerState = "negotiation"
	MakerStateWaitTakerFee      MakerState = "wait_taker_fee"
	MakerStateSendMakerPayment  MakerState = "send_maker_payment"
	MakerStateWaitTakerPayment  MakerState = "wait_taker_payment"
	MakerStateSpendTakerPayment MakerState = "spend_taker_payment"
	MakerStateDone              MakerState = "done"

	// MakerStateRefundMakerPayment is a defined terminal state, reachable
	// only once MakerPaymentLock has elapsed and the swap has been
	// abandoned. Run never enters it itself; a separate watcher process
	// is expected to drive the refund after the fact.
	MakerStateRefundMakerPayment MakerState = "refund_maker_payment"
)

// Maker drives the Maker side of one swap to completion.
type Maker struct {
	Chain     chainadapter.Chain
	Messenger *Messenger
	Status    *status.Handle
	Config    *swapconfig.Config
	Peer      PeerID

	log *logging.Logger
}

// NewMaker builds a Maker driver.
func NewMaker(chain chainadapter.Chain, messenger *Messenger, sh *status.Handle, cfg *swapconfig.Config, peer PeerID) *Maker {
	return &Maker{
		Chain:     chain,
		Messenger: messenger,
		Status:    sh,
		Config:    cfg,
		Peer:      peer,
		log:       logging.GetDefault().Component("maker"),
	}
}

// Run drives c through every Maker state to Done or a terminal Error. It
// never returns MakerStateRefundMakerPayment as a live state; see its
// doc comment.
func (mk *Maker) Run(ctx context.Context, c *Context) (MakerState, error) {
	if err := mk.negotiate(ctx, c); err != nil {
		return MakerStateNegotiation, err
	}
	if err := mk.waitTakerFee(ctx, c); err != nil {
		return MakerStateWaitTakerFee, err
	}
	if err := mk.sendMakerPayment(ctx, c); err != nil {
		return MakerStateSendMakerPayment, err
	}
	if err := mk.waitTakerPayment(ctx, c); err != nil {
		return MakerStateWaitTakerPayment, err
	}
	if err := mk.spendTakerPayment(ctx, c); err != nil {
		return MakerStateSpendTakerPayment, err
	}
	return MakerStateDone, nil
}

// negotiate runs the Negotiation state: choose the secret, publish the
// negotiation record, and absorb the Taker's reply.
func (mk *Maker) negotiate(ctx context.Context, c *Context) error {
	mk.Status.Status("negotiation", "generating secret")

	var secret chainadapter.Secret
	if _, err := rand.Read(secret[:]); err != nil {
		return newError(ErrCodeMakerNegotiationDecode, "generate secret: %v", err)
	}
	c.SecretHash = Hash160(secret[:])
	if err := c.SetSecret(secret); err != nil {
		return newError(ErrCodeMakerNegotiationDecode, "%v", err)
	}
	c.MakerPaymentLock = c.StartedAt + 2*mk.Config.LockTimeSeconds

	rec := NegotiationRecord{
		StartedAt:        c.StartedAt,
		PaymentLocktime:  c.MakerPaymentLock,
		SecretHash:       c.SecretHash,
		Pub0:             c.MyPub0(),
		PersistentPubKey: c.MyPersistentPub,
	}
	handle, err := mk.Messenger.Send(ctx, mk.Peer, "negotiation", rec.Encode())
	if err != nil {
		return newError(ErrCodeMakerNegotiationTimeout, "send negotiation: %v", err)
	}
	defer handle.Stop()

	mk.Status.Status("negotiation", "waiting for negotiation-reply")
	payload, err := mk.Messenger.Recv(ctx, "negotiation-reply", "taker negotiation reply", 0, func(p []byte) bool {
		_, err := DecodeNegotiationRecord(p)
		return err == nil
	})
	if err != nil {
		return newError(ErrCodeMakerNegotiationTimeout, "%v", err)
	}
	reply, err := DecodeNegotiationRecord(payload)
	if err != nil {
		return newError(ErrCodeMakerNegotiationDecode, "%v", err)
	}
	if err := c.SetPeerPub0(reply.Pub0); err != nil {
		return newError(ErrCodeMakerNegotiationDecode, "%v", err)
	}
	if err := c.SetPeerPersistentPub(reply.PersistentPubKey); err != nil {
		return newError(ErrCodeMakerNegotiationDecode, "%v", err)
	}
	c.TakerPaymentLock = reply.PaymentLocktime
	if err := c.ValidateLockOrdering(); err != nil {
		return newError(ErrCodeMakerNegotiationDecode, "%v", err)
	}
	mk.log.Info("negotiated", "maker_lock", c.MakerPaymentLock, "taker_lock", c.TakerPaymentLock)

	negotiatedHandle, err := mk.Messenger.Send(ctx, mk.Peer, "negotiated", []byte{0x01})
	if err != nil {
		return newError(ErrCodeMakerNegotiationTimeout, "send negotiated: %v", err)
	}
	// No further recv in this state correlates with "negotiated"; the next
	// state's taker-fee recv is the Taker's implicit acknowledgement, so
	// stop retransmitting once negotiation itself completes.
	negotiatedHandle.Stop()
	mk.Status.Append(": done")
	return nil
}

// waitTakerFee runs the WaitTakerFee state.
func (mk *Maker) waitTakerFee(ctx context.Context, c *Context) error {
	mk.Status.Status("wait_taker_fee", "waiting for taker-fee")
	payload, err := mk.Messenger.Recv(ctx, "taker-fee", "taker fee transaction", swapconfig.TakerFeeTimeout-swapconfig.BasicCommTimeout, AcceptAny)
	if err != nil {
		return newError(ErrCodeMakerTakerFeeTimeout, "%v", err)
	}
	tx, err := mk.Chain.TxFromRawBytes(payload)
	if err != nil {
		return newError(ErrCodeMakerTakerFeeTimeout, "decode taker fee tx: %v", err)
	}
	if err := mk.Chain.ValidateFee(tx, c.TakerFeeAddrPub, c.TakerFeeAmount); err != nil {
		return newError(ErrCodeMakerValidateTakerFee, "!validate taker fee: %v", err)
	}
	mk.Status.Append(": valid")
	return nil
}

// sendMakerPayment runs the SendMakerPayment state.
func (mk *Maker) sendMakerPayment(ctx context.Context, c *Context) error {
	mk.Status.Status("send_maker_payment", "broadcasting maker payment")
	tx, err := mk.Chain.SendMakerPayment(ctx, c.MakerPaymentLock, c.PeerPub0(), c.MyPub0(), c.MyPersistentPub, c.SecretHash, c.MakerAmount)
	if err != nil {
		return newError(ErrCodeSpendFailure, "send maker payment: %v", err)
	}
	c.MakerPayment = tx
	mk.log.Info("maker payment broadcast", "txid", tx.ID())
	handle, err := mk.Messenger.Send(ctx, mk.Peer, "maker-payment", tx.Raw())
	if err != nil {
		return newError(ErrCodeSpendFailure, "publish maker payment: %v", err)
	}
	handle.Stop()
	mk.Status.Append(": " + tx.ID())
	return nil
}

// waitTakerPayment runs the WaitTakerPayment state. The Maker does NOT
// refund automatically on a confirmation timeout here: its own payment is
// already broadcast, so recovery is the timelock refund path
// (MakerStateRefundMakerPayment), left to an external watcher.
func (mk *Maker) waitTakerPayment(ctx context.Context, c *Context) error {
	mk.Status.Status("wait_taker_payment", "waiting for taker-payment")
	payload, err := mk.Messenger.Recv(ctx, "taker-payment", "taker payment transaction", swapconfig.PaymentTimeout-swapconfig.BasicCommTimeout, AcceptAny)
	if err != nil {
		return newError(ErrCodeMakerConfirmTimeout, "%v", err)
	}
	tx, err := mk.Chain.TxFromRawBytes(payload)
	if err != nil {
		return newError(ErrCodeMakerValidateTakerPayment, "decode taker payment tx: %v", err)
	}
	if err := mk.Chain.ValidateTakerPayment(tx, c.TakerPaymentLock, c.PeerPub0(), c.MyPub0(), c.PeerPersistentPub(), c.SecretHash, c.TakerAmount); err != nil {
		return newError(ErrCodeMakerValidateTakerPayment, "!validate taker payment: %v", err)
	}
	c.TakerPayment = tx

	deadline := time.Now().Add(swapconfig.ConfirmationWaitBudget)
	if err := mk.Chain.WaitForConfirmations(ctx, tx, mk.Config.TakerConfirmations, deadline); err != nil {
		return newError(ErrCodeMakerConfirmTimeout, "!wait_for_confirmations: %v", err)
	}
	mk.Status.Append(": confirmed")
	return nil
}

// spendTakerPayment runs the SpendTakerPayment state, revealing the secret
// on-chain.
func (mk *Maker) spendTakerPayment(ctx context.Context, c *Context) error {
	mk.Status.Status("spend_taker_payment", "spending taker payment")
	secret, ok := c.Secret()
	if !ok {
		return newError(ErrCodeMakerSpendTakerPayment, "secret not set")
	}
	tx, err := mk.Chain.SendMakerSpendsTakerPayment(ctx, c.TakerPayment, c.MyPriv0.Serialize(), secret)
	if err != nil {
		return newError(ErrCodeMakerSpendTakerPayment, "spend taker payment: %v", err)
	}
	mk.log.Info("taker payment spent", "txid", tx.ID())
	mk.Status.Append(": " + tx.ID())
	return nil
}
