package chainbtc

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// MemBackend is an in-memory Backend implementation: it "funds" payments by
// minting a fresh coinbase-style input out of thin air, treats every
// broadcast transaction as instantly present (confirmations accrue one per
// Confirm call rather than by wall-clock block production), and answers
// FindSpendingTx by scanning everything it has seen broadcast.
//
// It exists for the single-process demo and for swapcore/chainbtc tests
// that need a Backend without a real node connection. Test scaffolding,
// not a production backend.
type MemBackend struct {
	mu sync.Mutex

	broadcast map[string][]byte        // txid -> raw
	confs     map[string]uint32        // txid -> confirmation count
	spendOf   map[wire.OutPoint]string // outpoint -> spending txid
}

// NewMemBackend returns an empty in-memory backend.
func NewMemBackend() *MemBackend {
	return &MemBackend{
		broadcast: make(map[string][]byte),
		confs:     make(map[string]uint32),
		spendOf:   make(map[wire.OutPoint]string),
	}
}

// FundPayment mints a single-input, single-output transaction paying amount
// to pkScript from a freshly-minted fake input, and signs nothing (the
// "funding" input is unchecked, matching a regtest coinbase-style mint).
func (b *MemBackend) FundPayment(_ context.Context, amount uint64, pkScript []byte) (*FundedPayment, error) {
	var fakePrevHash chainhash.Hash
	if _, err := rand.Read(fakePrevHash[:]); err != nil {
		return nil, fmt.Errorf("mint fake input: %w", err)
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&fakePrevHash, 0), []byte{0x51}, nil)) // OP_TRUE placeholder sig
	tx.AddTxOut(wire.NewTxOut(int64(amount), pkScript))

	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return nil, fmt.Errorf("serialize funded tx: %w", err)
	}
	return &FundedPayment{Raw: buf.Bytes(), Vout: 0, Value: int64(amount)}, nil
}

// Broadcast records raw's txid, indexes every input it spends, and seeds
// its confirmation count at 0.
func (b *MemBackend) Broadcast(_ context.Context, raw []byte) (string, error) {
	tx, err := txFromRawBytes(raw)
	if err != nil {
		return "", fmt.Errorf("broadcast: %w", err)
	}
	id := tx.ID()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.broadcast[id] = raw
	b.confs[id] = 0
	for _, in := range tx.msg.TxIn {
		b.spendOf[in.PreviousOutPoint] = id
	}
	return id, nil
}

// Confirmations returns the confirmation count recorded for txid, advanced
// by calling Confirm.
func (b *MemBackend) Confirmations(_ context.Context, txid string) (uint32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, ok := b.confs[txid]
	if !ok {
		return 0, fmt.Errorf("unknown txid %s", txid)
	}
	return n, nil
}

// Confirm advances txid's confirmation count by one; callers (tests, the
// demo driver) use this to simulate block production deterministically.
func (b *MemBackend) Confirm(txid string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.confs[txid]++
}

// ConfirmAllKnown advances every currently-broadcast transaction's
// confirmation count by one, used by callers (the CLI demo, tests) that
// want WaitForConfirmations to resolve promptly rather than simulate real
// block timing.
func (b *MemBackend) ConfirmAllKnown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id := range b.confs {
		b.confs[id]++
	}
}

// FindSpendingTx reports whether txid's vout has been spent by a later
// broadcast transaction.
func (b *MemBackend) FindSpendingTx(_ context.Context, txid string, vout uint32) ([]byte, bool, error) {
	hash, err := chainhash.NewHashFromStr(txid)
	if err != nil {
		return nil, false, fmt.Errorf("parse txid: %w", err)
	}
	op := wire.OutPoint{Hash: *hash, Index: vout}

	b.mu.Lock()
	defer b.mu.Unlock()
	spendTxid, ok := b.spendOf[op]
	if !ok {
		return nil, false, nil
	}
	return b.broadcast[spendTxid], true, nil
}

var _ Backend = (*MemBackend)(nil)
