package chainbtc

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	btcecdsa "github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/stjordanis/atomicswap-core/internal/chainadapter"
	"github.com/stjordanis/atomicswap-core/pkg/logging"
)

// PollInterval governs how often WaitForConfirmations/WaitForTxSpend poll
// the backend. Exposed as a var so tests can shrink it.
var PollInterval = 2 * time.Second

// Adapter implements chainadapter.Chain for one Bitcoin-family chain.
type Adapter struct {
	params  *chaincfg.Params
	backend Backend
	log     *logging.Logger
}

// New builds an Adapter for the given chain parameters and backend.
func New(params *chaincfg.Params, backend Backend) *Adapter {
	return &Adapter{
		params:  params,
		backend: backend,
		log:     logging.GetDefault().Component("chainbtc"),
	}
}

var _ chainadapter.Chain = (*Adapter)(nil)

// TxFromRawBytes parses a raw transaction received over the wire.
func (a *Adapter) TxFromRawBytes(raw []byte) (chainadapter.Tx, error) {
	return txFromRawBytes(raw)
}

// SendTakerFee broadcasts a plain payment to the protocol fee address.
func (a *Adapter) SendTakerFee(ctx context.Context, feeAddrPub chainadapter.CompressedPubKey, amount uint64) (chainadapter.Tx, error) {
	pkScript, err := p2pkhScript(feeAddrPub, a.params)
	if err != nil {
		return nil, fmt.Errorf("build fee script: %w", err)
	}
	return a.fundAndBroadcast(ctx, amount, pkScript, 0)
}

// ValidateFee checks that tx's first output paying feeAddrPub carries at
// least amount.
func (a *Adapter) ValidateFee(tx chainadapter.Tx, feeAddrPub chainadapter.CompressedPubKey, amount uint64) error {
	t, err := asChainbtcTx(tx)
	if err != nil {
		return err
	}
	wantScript, err := p2pkhScript(feeAddrPub, a.params)
	if err != nil {
		return err
	}
	for _, out := range t.msg.TxOut {
		if bytes.Equal(out.PkScript, wantScript) {
			if uint64(out.Value) < amount {
				return fmt.Errorf("fee output %d below expected %d", out.Value, amount)
			}
			return nil
		}
	}
	return fmt.Errorf("no output pays the fee address")
}

// SendMakerPayment broadcasts the Maker's HTLC funding transaction: hash
// branch claimable by takerPub0, refund branch by the Maker's persistent
// key after lock.
func (a *Adapter) SendMakerPayment(ctx context.Context, lock uint64, takerPub0, makerPub0, senderPersistent chainadapter.CompressedPubKey, secretHash chainadapter.SecretHash, amount uint64) (chainadapter.Tx, error) {
	return a.sendHTLCPayment(ctx, lock, senderPersistent, takerPub0, secretHash, amount)
}

// SendTakerPayment broadcasts the Taker's HTLC funding transaction: hash
// branch claimable by makerPub0, refund branch by the Taker's persistent
// key after lock.
func (a *Adapter) SendTakerPayment(ctx context.Context, lock uint64, takerPub0, makerPub0, senderPersistent chainadapter.CompressedPubKey, secretHash chainadapter.SecretHash, amount uint64) (chainadapter.Tx, error) {
	return a.sendHTLCPayment(ctx, lock, senderPersistent, makerPub0, secretHash, amount)
}

// sendHTLCPayment builds the HTLC script (sender can refund via
// senderPersistent after lock, receiver can claim via receiverPub0 with the
// secret), funds it through the backend, and broadcasts the result.
func (a *Adapter) sendHTLCPayment(ctx context.Context, lock uint64, senderPersistent, receiverPub0 chainadapter.CompressedPubKey, secretHash chainadapter.SecretHash, amount uint64) (chainadapter.Tx, error) {
	data, err := BuildHTLCScriptData(lock, senderPersistent, receiverPub0, secretHash, a.params)
	if err != nil {
		return nil, fmt.Errorf("build htlc script: %w", err)
	}
	pkScript, err := p2wshScript(data.ScriptHash)
	if err != nil {
		return nil, err
	}
	return a.fundAndBroadcast(ctx, amount, pkScript, 0, data.Script)
}

// fundAndBroadcast asks the backend to fund amount to pkScript, broadcasts
// the result, and attaches HTLC metadata (if htlcScript is non-empty) to
// the returned Tx so later spends can reference it without re-parsing.
func (a *Adapter) fundAndBroadcast(ctx context.Context, amount uint64, pkScript []byte, _ uint32, htlcScript ...[]byte) (chainadapter.Tx, error) {
	funded, err := a.backend.FundPayment(ctx, amount, pkScript)
	if err != nil {
		return nil, fmt.Errorf("fund payment: %w", err)
	}
	if _, err := a.backend.Broadcast(ctx, funded.Raw); err != nil {
		return nil, fmt.Errorf("broadcast: %w", err)
	}
	t, err := txFromRawBytes(funded.Raw)
	if err != nil {
		return nil, err
	}
	t.HTLCVout = funded.Vout
	t.HTLCValue = funded.Value
	if len(htlcScript) == 1 {
		t.HTLCScript = htlcScript[0]
	}
	a.log.Info("broadcast transaction", "txid", t.ID(), "amount", amount)
	return t, nil
}

// ValidateMakerPayment recomputes the expected HTLC script/address and
// checks tx actually pays amount to it.
func (a *Adapter) ValidateMakerPayment(tx chainadapter.Tx, lock uint64, takerPub0, makerPub0, senderPersistent chainadapter.CompressedPubKey, secretHash chainadapter.SecretHash, amount uint64) error {
	return a.validateHTLCPayment(tx, lock, senderPersistent, takerPub0, secretHash, amount)
}

// ValidateTakerPayment recomputes the expected HTLC script/address and
// checks tx actually pays amount to it.
func (a *Adapter) ValidateTakerPayment(tx chainadapter.Tx, lock uint64, takerPub0, makerPub0, senderPersistent chainadapter.CompressedPubKey, secretHash chainadapter.SecretHash, amount uint64) error {
	return a.validateHTLCPayment(tx, lock, senderPersistent, makerPub0, secretHash, amount)
}

func (a *Adapter) validateHTLCPayment(tx chainadapter.Tx, lock uint64, senderPersistent, receiverPub0 chainadapter.CompressedPubKey, secretHash chainadapter.SecretHash, amount uint64) error {
	t, err := asChainbtcTx(tx)
	if err != nil {
		return err
	}
	data, err := BuildHTLCScriptData(lock, senderPersistent, receiverPub0, secretHash, a.params)
	if err != nil {
		return fmt.Errorf("rebuild expected htlc script: %w", err)
	}
	wantPkScript, err := p2wshScript(data.ScriptHash)
	if err != nil {
		return err
	}
	for i, out := range t.msg.TxOut {
		if bytes.Equal(out.PkScript, wantPkScript) {
			if uint64(out.Value) != amount {
				return fmt.Errorf("htlc output value %d != expected %d", out.Value, amount)
			}
			t.HTLCVout = uint32(i)
			t.HTLCValue = out.Value
			t.HTLCScript = data.Script
			return nil
		}
	}
	return fmt.Errorf("no output matches the expected htlc script")
}

// SendMakerSpendsTakerPayment spends the Taker's HTLC output via the hash
// branch, revealing secret.
func (a *Adapter) SendMakerSpendsTakerPayment(ctx context.Context, taker chainadapter.Tx, makerPriv0 []byte, secret chainadapter.Secret) (chainadapter.Tx, error) {
	return a.spendHashBranch(ctx, taker, makerPriv0, secret)
}

// SendTakerSpendsMakerPayment spends the Maker's HTLC output via the hash
// branch, using the secret revealed by SendMakerSpendsTakerPayment.
func (a *Adapter) SendTakerSpendsMakerPayment(ctx context.Context, maker chainadapter.Tx, takerPriv0 []byte, secret chainadapter.Secret) (chainadapter.Tx, error) {
	return a.spendHashBranch(ctx, maker, takerPriv0, secret)
}

func (a *Adapter) spendHashBranch(ctx context.Context, payment chainadapter.Tx, priv0 []byte, secret chainadapter.Secret) (chainadapter.Tx, error) {
	src, err := asChainbtcTx(payment)
	if err != nil {
		return nil, err
	}
	if len(src.HTLCScript) == 0 {
		return nil, fmt.Errorf("payment tx has no htlc metadata; validate it first")
	}

	privKey, _ := btcec.PrivKeyFromBytes(priv0)
	dest, err := receivePayoutScript(privKey.PubKey(), a.params)
	if err != nil {
		return nil, err
	}

	spendTx, sigHashes, err := buildSpendSkeleton(src, dest, 0)
	if err != nil {
		return nil, err
	}

	sig, err := signWitnessV0(spendTx, 0, src.HTLCScript, src.HTLCValue, privKey, sigHashes)
	if err != nil {
		return nil, err
	}
	spendTx.TxIn[0].Witness = BuildClaimWitness(sig, secret, src.HTLCScript)

	return a.broadcastSpend(ctx, spendTx)
}

// SendTakerRefundsPayment spends the Taker's own HTLC output via the
// timelock branch after its lock has elapsed.
func (a *Adapter) SendTakerRefundsPayment(ctx context.Context, taker chainadapter.Tx, takerPersistentPriv []byte) (chainadapter.Tx, error) {
	src, err := asChainbtcTx(taker)
	if err != nil {
		return nil, err
	}
	if len(src.HTLCScript) == 0 {
		return nil, fmt.Errorf("payment tx has no htlc metadata; validate it first")
	}

	lock, _, _, _, err := ParseHTLCScript(src.HTLCScript)
	if err != nil {
		return nil, fmt.Errorf("parse htlc script: %w", err)
	}

	privKey, _ := btcec.PrivKeyFromBytes(takerPersistentPriv)
	dest, err := receivePayoutScript(privKey.PubKey(), a.params)
	if err != nil {
		return nil, err
	}

	spendTx, sigHashes, err := buildSpendSkeleton(src, dest, uint32(lock))
	if err != nil {
		return nil, err
	}

	sig, err := signWitnessV0(spendTx, 0, src.HTLCScript, src.HTLCValue, privKey, sigHashes)
	if err != nil {
		return nil, err
	}
	spendTx.TxIn[0].Witness = BuildRefundWitness(sig, src.HTLCScript)

	return a.broadcastSpend(ctx, spendTx)
}

func (a *Adapter) broadcastSpend(ctx context.Context, spendTx *wire.MsgTx) (chainadapter.Tx, error) {
	var buf bytes.Buffer
	if err := spendTx.Serialize(&buf); err != nil {
		return nil, fmt.Errorf("serialize spend tx: %w", err)
	}
	if _, err := a.backend.Broadcast(ctx, buf.Bytes()); err != nil {
		return nil, fmt.Errorf("broadcast spend: %w", err)
	}
	return &Tx{msg: spendTx}, nil
}

// WaitForConfirmations polls the backend until tx reaches n confirmations
// or deadline elapses.
func (a *Adapter) WaitForConfirmations(ctx context.Context, tx chainadapter.Tx, n uint32, deadline time.Time) error {
	for {
		confs, err := a.backend.Confirmations(ctx, tx.ID())
		if err == nil && confs >= n {
			return nil
		}
		if time.Now().After(deadline) {
			return chainadapter.ErrChainTimeout
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(PollInterval):
		}
	}
}

// WaitForTxSpend polls the backend until tx's HTLC output is observed
// spent or deadline elapses.
func (a *Adapter) WaitForTxSpend(ctx context.Context, tx chainadapter.Tx, deadline time.Time) (chainadapter.Tx, error) {
	t, err := asChainbtcTx(tx)
	if err != nil {
		return nil, err
	}
	for {
		raw, found, err := a.backend.FindSpendingTx(ctx, t.ID(), t.HTLCVout)
		if err == nil && found {
			return txFromRawBytes(raw)
		}
		if time.Now().After(deadline) {
			return nil, chainadapter.ErrChainTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(PollInterval):
		}
	}
}

// --- script/signing helpers -------------------------------------------------

func p2wshScript(scriptHash [32]byte) ([]byte, error) {
	b := txscript.NewScriptBuilder()
	b.AddOp(txscript.OP_0)
	b.AddData(scriptHash[:])
	return b.Script()
}

func p2pkhScript(pub chainadapter.CompressedPubKey, params *chaincfg.Params) ([]byte, error) {
	pk, err := btcec.ParsePubKey(pub[:])
	if err != nil {
		return nil, fmt.Errorf("parse pubkey: %w", err)
	}
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_DUP).
		AddOp(txscript.OP_HASH160).
		AddData(btcutil.Hash160(pk.SerializeCompressed())).
		AddOp(txscript.OP_EQUALVERIFY).
		AddOp(txscript.OP_CHECKSIG).
		Script()
}

func receivePayoutScript(pub *btcec.PublicKey, params *chaincfg.Params) ([]byte, error) {
	var cpk chainadapter.CompressedPubKey
	copy(cpk[:], pub.SerializeCompressed())
	return p2pkhScript(cpk, params)
}

// buildSpendSkeleton constructs a one-input, one-output transaction
// spending src's HTLC output to dest, with nLockTime set so CLTV refund
// branches validate.
func buildSpendSkeleton(src *Tx, dest []byte, lockTime uint32) (*wire.MsgTx, *txscript.TxSigHashes, error) {
	spendTx := wire.NewMsgTx(wire.TxVersion)
	spendTx.LockTime = lockTime

	srcHash := src.msg.TxHash()
	prevOut := wire.NewOutPoint(&srcHash, src.HTLCVout)
	txIn := wire.NewTxIn(prevOut, nil, nil)
	txIn.Sequence = wire.MaxTxInSequenceNum - 1 // != 0xffffffff so nLockTime is honored
	spendTx.AddTxIn(txIn)
	spendTx.AddTxOut(wire.NewTxOut(src.HTLCValue, dest))

	prevPkScript, err := p2wshScript(sha256.Sum256(src.HTLCScript))
	if err != nil {
		return nil, nil, fmt.Errorf("rebuild prevout script: %w", err)
	}
	fetcher := txscript.NewCannedPrevOutputFetcher(prevPkScript, src.HTLCValue)
	sigHashes := txscript.NewTxSigHashes(spendTx, fetcher)
	return spendTx, sigHashes, nil
}

func signWitnessV0(spendTx *wire.MsgTx, idx int, script []byte, value int64, priv *btcec.PrivateKey, sigHashes *txscript.TxSigHashes) ([]byte, error) {
	hash, err := txscript.CalcWitnessSigHash(script, sigHashes, txscript.SigHashAll, spendTx, idx, value)
	if err != nil {
		return nil, fmt.Errorf("calc sighash: %w", err)
	}
	sig := btcecdsa.Sign(priv, hash)
	return append(sig.Serialize(), byte(txscript.SigHashAll)), nil
}
