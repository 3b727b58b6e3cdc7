// Package chainbtc implements the chainadapter.Chain contract for
// Bitcoin-family, CLTV-capable chains: HTLC script construction with an
// absolute CLTV locktime on the refund branch and HASH160 on the secret
// branch, P2WSH address derivation, and claim/refund/fee transaction
// building over a pluggable node Backend.
package chainbtc

import (
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"

	"github.com/stjordanis/atomicswap-core/internal/chainadapter"
)

// HTLCScriptData bundles an HTLC redeem script together with the P2WSH
// address it derives to and the parameters it encodes.
type HTLCScriptData struct {
	Script              []byte
	Address             string
	ScriptHash          [32]byte
	SecretHash          chainadapter.SecretHash
	ReceiverPub0        chainadapter.CompressedPubKey // spends the hash branch
	SenderPersistentPub chainadapter.CompressedPubKey // spends the timelock branch
	Lock                uint64
}

// BuildHTLCScript builds the HTLC redeem script:
//
//	OP_IF
//	    <lock> OP_CHECKLOCKTIMEVERIFY OP_DROP <senderPersistentPub> OP_CHECKSIG
//	OP_ELSE
//	    OP_SIZE 32 OP_EQUALVERIFY OP_HASH160 <secretHash> OP_EQUALVERIFY <receiverPub0> OP_CHECKSIG
//	OP_ENDIF
//
// Claim path (OP_ELSE branch): the receiver presents the 32-byte secret and
// a signature under their ephemeral key. Refund path (OP_IF branch): the
// sender signs with their persistent key after lock.
func BuildHTLCScript(lock uint64, senderPersistentPub, receiverPub0 chainadapter.CompressedPubKey, secretHash chainadapter.SecretHash) ([]byte, error) {
	if senderPersistentPub.IsZero() {
		return nil, fmt.Errorf("sender persistent pubkey not set")
	}
	if receiverPub0.IsZero() {
		return nil, fmt.Errorf("receiver pub0 not set")
	}

	builder := txscript.NewScriptBuilder()

	builder.AddOp(txscript.OP_IF)
	builder.AddInt64(int64(lock))
	builder.AddOp(txscript.OP_CHECKLOCKTIMEVERIFY)
	builder.AddOp(txscript.OP_DROP)
	builder.AddData(senderPersistentPub[:])
	builder.AddOp(txscript.OP_CHECKSIG)
	builder.AddOp(txscript.OP_ELSE)
	builder.AddOp(txscript.OP_SIZE)
	builder.AddInt64(32)
	builder.AddOp(txscript.OP_EQUALVERIFY)
	builder.AddOp(txscript.OP_HASH160)
	builder.AddData(secretHash[:])
	builder.AddOp(txscript.OP_EQUALVERIFY)
	builder.AddData(receiverPub0[:])
	builder.AddOp(txscript.OP_CHECKSIG)
	builder.AddOp(txscript.OP_ENDIF)

	return builder.Script()
}

// BuildHTLCScriptData builds the script and derives its P2WSH address.
func BuildHTLCScriptData(lock uint64, senderPersistentPub, receiverPub0 chainadapter.CompressedPubKey, secretHash chainadapter.SecretHash, params *chaincfg.Params) (*HTLCScriptData, error) {
	script, err := BuildHTLCScript(lock, senderPersistentPub, receiverPub0, secretHash)
	if err != nil {
		return nil, fmt.Errorf("build htlc script: %w", err)
	}

	scriptHash := sha256.Sum256(script)
	addr, err := btcutil.NewAddressWitnessScriptHash(scriptHash[:], params)
	if err != nil {
		return nil, fmt.Errorf("derive p2wsh address: %w", err)
	}

	return &HTLCScriptData{
		Script:              script,
		Address:             addr.EncodeAddress(),
		ScriptHash:          scriptHash,
		SecretHash:          secretHash,
		ReceiverPub0:        receiverPub0,
		SenderPersistentPub: senderPersistentPub,
		Lock:                lock,
	}, nil
}

// BuildClaimWitness builds the witness stack for the hash (claim) branch:
//
//	<signature> <secret> <falsy selector> <script>
//
// Selecting the OP_ELSE branch means pushing a falsy value ahead of the
// script.
func BuildClaimWitness(signature []byte, secret chainadapter.Secret, script []byte) [][]byte {
	return [][]byte{
		signature,
		secret[:],
		{}, // falsy: select OP_ELSE (hash/claim) branch
		script,
	}
}

// BuildRefundWitness builds the witness stack for the timelock (refund) branch.
func BuildRefundWitness(signature []byte, script []byte) [][]byte {
	return [][]byte{
		signature,
		{0x01}, // truthy: select OP_IF (timelock/refund) branch
		script,
	}
}

// ParseHTLCScript recovers an HTLC script's components. SendTakerRefundsPayment
// uses it to read back the lock; payment validation does not parse, it
// rebuilds the expected script and compares output scripts.
func ParseHTLCScript(script []byte) (lock uint64, senderPersistentPub, receiverPub0 chainadapter.CompressedPubKey, secretHash chainadapter.SecretHash, err error) {
	tz := txscript.MakeScriptTokenizer(0, script)

	expectOp := func(op byte) error {
		if !tz.Next() || tz.Opcode() != op {
			return fmt.Errorf("expected opcode %d", op)
		}
		return nil
	}

	if err = expectOp(txscript.OP_IF); err != nil {
		return
	}

	if !tz.Next() {
		err = fmt.Errorf("expected lock value")
		return
	}
	if txscript.IsSmallInt(tz.Opcode()) {
		lock = uint64(txscript.AsSmallInt(tz.Opcode()))
	} else {
		data := tz.Data()
		for i := 0; i < len(data); i++ {
			lock |= uint64(data[i]) << (8 * i)
		}
	}

	if err = expectOp(txscript.OP_CHECKLOCKTIMEVERIFY); err != nil {
		return
	}
	if err = expectOp(txscript.OP_DROP); err != nil {
		return
	}
	if !tz.Next() {
		err = fmt.Errorf("expected sender persistent pubkey")
		return
	}
	if len(tz.Data()) != 33 {
		err = fmt.Errorf("sender persistent pubkey must be 33 bytes")
		return
	}
	copy(senderPersistentPub[:], tz.Data())

	if err = expectOp(txscript.OP_CHECKSIG); err != nil {
		return
	}
	if err = expectOp(txscript.OP_ELSE); err != nil {
		return
	}
	if err = expectOp(txscript.OP_SIZE); err != nil {
		return
	}
	if !tz.Next() {
		err = fmt.Errorf("expected push of 32")
		return
	}
	var sizeCheck uint64
	if txscript.IsSmallInt(tz.Opcode()) {
		sizeCheck = uint64(txscript.AsSmallInt(tz.Opcode()))
	} else {
		data := tz.Data()
		for i := 0; i < len(data); i++ {
			sizeCheck |= uint64(data[i]) << (8 * i)
		}
	}
	if sizeCheck != 32 {
		err = fmt.Errorf("expected push of 32")
		return
	}
	if err = expectOp(txscript.OP_EQUALVERIFY); err != nil {
		return
	}
	if err = expectOp(txscript.OP_HASH160); err != nil {
		return
	}
	if !tz.Next() || len(tz.Data()) != 20 {
		err = fmt.Errorf("expected 20-byte secret hash")
		return
	}
	copy(secretHash[:], tz.Data())

	if err = expectOp(txscript.OP_EQUALVERIFY); err != nil {
		return
	}
	if !tz.Next() || len(tz.Data()) != 33 {
		err = fmt.Errorf("expected receiver pub0")
		return
	}
	copy(receiverPub0[:], tz.Data())

	if err = expectOp(txscript.OP_CHECKSIG); err != nil {
		return
	}
	if err = expectOp(txscript.OP_ENDIF); err != nil {
		return
	}

	return lock, senderPersistentPub, receiverPub0, secretHash, nil
}
