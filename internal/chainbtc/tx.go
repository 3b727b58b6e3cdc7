package chainbtc

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/wire"

	"github.com/stjordanis/atomicswap-core/internal/chainadapter"
)

// Tx is the chainbtc implementation of chainadapter.Tx. Beyond the
// interface it also carries the fields the adapter needs to build
// follow-on spends: which output funds the HTLC and the script that
// guards it.
type Tx struct {
	msg *wire.MsgTx

	// HTLCVout/HTLCValue/HTLCScript are populated when this Tx is a known
	// HTLC funding transaction (maker-payment or taker-payment), either
	// because this adapter built it or because ValidateMakerPayment /
	// ValidateTakerPayment recovered them from its output script.
	HTLCVout   uint32
	HTLCValue  int64
	HTLCScript []byte
}

// ID returns the transaction's hex-encoded hash.
func (t *Tx) ID() string {
	return t.msg.TxHash().String()
}

// Raw returns the canonical wire-serialized transaction bytes.
func (t *Tx) Raw() []byte {
	var buf bytes.Buffer
	if err := t.msg.Serialize(&buf); err != nil {
		return nil
	}
	return buf.Bytes()
}

// ExtractSecret inspects the first input's witness for the claim-branch
// layout BuildClaimWitness produces: <sig> <secret> <falsy> <script>.
func (t *Tx) ExtractSecret() (chainadapter.Secret, error) {
	var secret chainadapter.Secret
	for _, in := range t.msg.TxIn {
		w := in.Witness
		if len(w) != 4 {
			continue
		}
		if len(w[2]) != 0 {
			continue // truthy selector -> refund branch, no secret here
		}
		if len(w[1]) != 32 {
			continue
		}
		copy(secret[:], w[1])
		return secret, nil
	}
	return secret, chainadapter.ErrSecretMissing
}

// txFromRawBytes parses raw wire bytes into a *Tx with no HTLC metadata
// attached; callers that need the HTLC fields populate them explicitly
// after recovering the script (see ValidateMakerPayment/ValidateTakerPayment).
func txFromRawBytes(raw []byte) (*Tx, error) {
	msg := wire.NewMsgTx(wire.TxVersion)
	if err := msg.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, &chainadapter.DecodeError{Cause: err}
	}
	return &Tx{msg: msg}, nil
}

func asChainbtcTx(tx chainadapter.Tx) (*Tx, error) {
	t, ok := tx.(*Tx)
	if !ok {
		return nil, fmt.Errorf("tx is not a chainbtc.Tx")
	}
	return t, nil
}
