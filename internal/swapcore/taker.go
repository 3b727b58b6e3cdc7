package swapcore

import (
	"context"
	"time"

	"github.com/stjordanis/atomicswap-core/internal/chainadapter"
	"github.com/stjordanis/atomicswap-core/internal/status"
	"github.com/stjordanis/atomicswap-core/internal/swapconfig"
	"github.com/stjordanis/atomicswap-core/pkg/logging"
)

// TakerState enumerates the states the Taker's driver can be in. Like
// MakerState it is exhaustive only over states the Taker role enters.
type TakerState string

const (
	TakerStateNegotiation           TakerState = "negotiation"
	TakerStateSendTakerFee          TakerState = "send_taker_fee"
	TakerStateWaitMakerPayment      TakerState = "wait_maker_payment"
	TakerStateSendTakerPayment      TakerState = "send_taker_payment"
	TakerStateWaitTakerPaymentSpent TakerState = "wait_taker_payment_spent"
	TakerStateSpendMakerPayment     TakerState = "spend_maker_payment"
	TakerStateRefundTakerPayment    TakerState = "refund_taker_payment"
	TakerStateDone                  TakerState = "done"
)

// Taker drives the Taker side of one swap to completion.
type Taker struct {
	Chain     chainadapter.Chain
	Messenger *Messenger
	Status    *status.Handle
	Config    *swapconfig.Config
	Peer      PeerID

	log *logging.Logger
}

// NewTaker builds a Taker driver.
func NewTaker(chain chainadapter.Chain, messenger *Messenger, sh *status.Handle, cfg *swapconfig.Config, peer PeerID) *Taker {
	return &Taker{
		Chain:     chain,
		Messenger: messenger,
		Status:    sh,
		Config:    cfg,
		Peer:      peer,
		log:       logging.GetDefault().Component("taker"),
	}
}

// Run drives c through every Taker state to Done, RefundTakerPayment, or a
// terminal Error.
func (tk *Taker) Run(ctx context.Context, c *Context) (TakerState, error) {
	if err := tk.negotiate(ctx, c); err != nil {
		return TakerStateNegotiation, err
	}
	if err := tk.sendTakerFee(ctx, c); err != nil {
		return TakerStateSendTakerFee, err
	}
	if err := tk.waitMakerPayment(ctx, c); err != nil {
		return TakerStateWaitMakerPayment, err
	}
	if err := tk.sendTakerPayment(ctx, c); err != nil {
		return TakerStateSendTakerPayment, err
	}
	if err := tk.waitTakerPaymentSpent(ctx, c); err != nil {
		if refundErr := tk.refundTakerPayment(ctx, c); refundErr != nil {
			return TakerStateRefundTakerPayment, refundErr
		}
		return TakerStateRefundTakerPayment, nil
	}
	if err := tk.spendMakerPayment(ctx, c); err != nil {
		return TakerStateSpendMakerPayment, err
	}
	return TakerStateDone, nil
}

// negotiate runs the Negotiation state: absorb the Maker's record, enforce
// the clock-skew bound, and reply with the Taker's own record.
func (tk *Taker) negotiate(ctx context.Context, c *Context) error {
	tk.Status.Status("negotiation", "waiting for negotiation")
	payload, err := tk.Messenger.Recv(ctx, "negotiation", "maker negotiation record", 0, func(p []byte) bool {
		_, err := DecodeNegotiationRecord(p)
		return err == nil
	})
	if err != nil {
		return newError(ErrCodeTakerNegotiationTimeout, "%v", err)
	}
	rec, err := DecodeNegotiationRecord(payload)
	if err != nil {
		return newError(ErrCodeTakerNegotiated, "%v", err)
	}

	var skew int64
	if int64(c.StartedAt) >= int64(rec.StartedAt) {
		skew = int64(c.StartedAt) - int64(rec.StartedAt)
	} else {
		skew = int64(rec.StartedAt) - int64(c.StartedAt)
	}
	if skew > int64(swapconfig.MaxClockSkew.Seconds()) {
		return newError(ErrCodeTakerClockSkew, "Started_at time_dif over 60: %d", skew)
	}

	if err := c.SetPeerPub0(rec.Pub0); err != nil {
		return newError(ErrCodeTakerNegotiationTimeout, "%v", err)
	}
	if err := c.SetPeerPersistentPub(rec.PersistentPubKey); err != nil {
		return newError(ErrCodeTakerNegotiationTimeout, "%v", err)
	}
	c.MakerPaymentLock = rec.PaymentLocktime
	c.SecretHash = rec.SecretHash
	c.TakerPaymentLock = c.StartedAt + tk.Config.LockTimeSeconds
	if err := c.ValidateLockOrdering(); err != nil {
		return newError(ErrCodeTakerNegotiationTimeout, "%v", err)
	}

	reply := NegotiationRecord{
		StartedAt:        c.StartedAt,
		PaymentLocktime:  c.TakerPaymentLock,
		SecretHash:       c.SecretHash,
		Pub0:             c.MyPub0(),
		PersistentPubKey: c.MyPersistentPub,
	}
	replyHandle, err := tk.Messenger.Send(ctx, tk.Peer, "negotiation-reply", reply.Encode())
	if err != nil {
		return newError(ErrCodeTakerNegotiationTimeout, "send negotiation-reply: %v", err)
	}

	tk.Status.Status("negotiation", "waiting for negotiated")
	ackPayload, err := tk.Messenger.Recv(ctx, "negotiated", "maker negotiated ack", 0, func(p []byte) bool { return len(p) == 1 })
	replyHandle.Stop()
	if err != nil {
		return newError(ErrCodeTakerNegotiationTimeout, "%v", err)
	}
	if ackPayload[0] == 0 {
		return newError(ErrCodeTakerNegotiated, "maker declined negotiation")
	}
	tk.log.Info("negotiated", "maker_lock", c.MakerPaymentLock, "taker_lock", c.TakerPaymentLock)
	tk.Status.Append(": done")
	return nil
}

// sendTakerFee runs the SendTakerFee state.
func (tk *Taker) sendTakerFee(ctx context.Context, c *Context) error {
	tk.Status.Status("send_taker_fee", "broadcasting taker fee")
	tx, err := tk.Chain.SendTakerFee(ctx, c.TakerFeeAddrPub, c.TakerFeeAmount)
	if err != nil {
		return newError(ErrCodeTakerFeeTimeout, "send taker fee: %v", err)
	}
	handle, err := tk.Messenger.Send(ctx, tk.Peer, "taker-fee", tx.Raw())
	if err != nil {
		return newError(ErrCodeTakerFeeTimeout, "publish taker fee: %v", err)
	}
	handle.Stop()
	tk.Status.Append(": " + tx.ID())
	return nil
}

// waitMakerPayment runs the WaitMakerPayment state.
func (tk *Taker) waitMakerPayment(ctx context.Context, c *Context) error {
	tk.Status.Status("wait_maker_payment", "waiting for maker-payment")
	payload, err := tk.Messenger.Recv(ctx, "maker-payment", "maker payment transaction", swapconfig.PaymentTimeout-swapconfig.BasicCommTimeout, AcceptAny)
	if err != nil {
		return newError(ErrCodeTakerConfirmTimeout, "%v", err)
	}
	tx, err := tk.Chain.TxFromRawBytes(payload)
	if err != nil {
		return newError(ErrCodeTakerValidateMakerPayment, "decode maker payment tx: %v", err)
	}
	if err := tk.Chain.ValidateMakerPayment(tx, c.MakerPaymentLock, c.MyPub0(), c.PeerPub0(), c.PeerPersistentPub(), c.SecretHash, c.MakerAmount); err != nil {
		return newError(ErrCodeTakerValidateMakerPayment, "!validate maker payment: %v", err)
	}
	c.MakerPayment = tx

	deadline := time.Now().Add(swapconfig.ConfirmationWaitBudget)
	if err := tk.Chain.WaitForConfirmations(ctx, tx, tk.Config.MakerConfirmations, deadline); err != nil {
		return newError(ErrCodeTakerConfirmTimeout, "!wait_for_confirmations: %v", err)
	}
	tk.Status.Append(": confirmed")
	return nil
}

// sendTakerPayment runs the SendTakerPayment state.
func (tk *Taker) sendTakerPayment(ctx context.Context, c *Context) error {
	tk.Status.Status("send_taker_payment", "broadcasting taker payment")
	tx, err := tk.Chain.SendTakerPayment(ctx, c.TakerPaymentLock, c.MyPub0(), c.PeerPub0(), c.MyPersistentPub, c.SecretHash, c.TakerAmount)
	if err != nil {
		return newError(ErrCodeTakerPaymentTimeout, "send taker payment: %v", err)
	}
	c.TakerPayment = tx
	handle, err := tk.Messenger.Send(ctx, tk.Peer, "taker-payment", tx.Raw())
	if err != nil {
		return newError(ErrCodeTakerPaymentTimeout, "publish taker payment: %v", err)
	}
	handle.Stop()
	tk.Status.Append(": " + tx.ID())
	return nil
}

// waitTakerPaymentSpent runs the WaitTakerPaymentSpent state: poll the
// chain for the spend of the Taker's own payment, and extract the secret
// the Maker necessarily revealed to claim it.
func (tk *Taker) waitTakerPaymentSpent(ctx context.Context, c *Context) error {
	tk.Status.Status("wait_taker_payment_spent", "watching taker payment for spend")
	deadline := time.Now().Add(swapconfig.ConfirmationWaitBudget)
	spendTx, err := tk.Chain.WaitForTxSpend(ctx, c.TakerPayment, deadline)
	if err != nil {
		tk.Status.Append(": not observed, refunding")
		return err
	}
	secret, err := spendTx.ExtractSecret()
	if err != nil {
		tk.Status.Append(": secret missing, refunding")
		return err
	}
	if err := c.SetSecret(secret); err != nil {
		tk.Status.Append(": secret mismatch, refunding")
		return err
	}
	tk.log.Info("secret extracted from spend", "txid", spendTx.ID())
	tk.Status.Append(": secret extracted")
	return nil
}

// spendMakerPayment runs the SpendMakerPayment state.
func (tk *Taker) spendMakerPayment(ctx context.Context, c *Context) error {
	tk.Status.Status("spend_maker_payment", "spending maker payment")
	secret, ok := c.Secret()
	if !ok {
		return newError(ErrCodeSpendFailure, "secret not set")
	}
	tx, err := tk.Chain.SendTakerSpendsMakerPayment(ctx, c.MakerPayment, c.MyPriv0.Serialize(), secret)
	if err != nil {
		return newError(ErrCodeSpendFailure, "spend maker payment: %v", err)
	}
	tk.Status.Append(": " + tx.ID())
	return nil
}

// refundTakerPayment runs the RefundTakerPayment state: reclaim the
// Taker's own payment via the timelock branch.
func (tk *Taker) refundTakerPayment(ctx context.Context, c *Context) error {
	tk.Status.Status("refund_taker_payment", "refunding taker payment")
	tx, err := tk.Chain.SendTakerRefundsPayment(ctx, c.TakerPayment, c.MyPersistentPriv)
	if err != nil {
		return newError(ErrCodeSpendFailure, "refund taker payment: %v", err)
	}
	tk.log.Info("taker payment refunded", "txid", tx.ID())
	tk.Status.Append(": " + tx.ID())
	return nil
}
