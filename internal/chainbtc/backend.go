package chainbtc

import "context"

// FundedPayment is a signed, ready-to-broadcast transaction plus the
// index/value of the output it created for the script the caller asked to
// fund.
type FundedPayment struct {
	Raw   []byte
	Vout  uint32
	Value int64
}

// Backend is the seam between the adapter's pure tx/script building and a
// real node connection. A concrete Backend (RPC client, Electrum client,
// etc.) is wired in by the caller; this package never dials a node itself.
// Wallet concerns (UTXO selection, change, funding-input signing) stay
// behind this interface: chainbtc only ever builds and signs the HTLC
// claim/refund spends, which use swap-owned ephemeral/persistent keys
// passed directly through the chainadapter.Chain contract.
type Backend interface {
	// FundPayment builds and signs a transaction paying amount to pkScript,
	// selecting inputs from the backend's own wallet.
	FundPayment(ctx context.Context, amount uint64, pkScript []byte) (*FundedPayment, error)

	// Broadcast submits a raw transaction to the network and returns its
	// txid.
	Broadcast(ctx context.Context, raw []byte) (string, error)

	// Confirmations returns the current confirmation count for txid.
	Confirmations(ctx context.Context, txid string) (uint32, error)

	// FindSpendingTx returns the raw bytes of the transaction that spends
	// txid's given output, or (nil, false, nil) if it is still unspent.
	FindSpendingTx(ctx context.Context, txid string, vout uint32) (raw []byte, found bool, err error)
}
