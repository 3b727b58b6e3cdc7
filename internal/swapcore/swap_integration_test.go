package swapcore_test

import (
	"context"
	"encoding/hex"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg"

	"github.com/stjordanis/atomicswap-core/internal/chainadapter"
	"github.com/stjordanis/atomicswap-core/internal/chainbtc"
	"github.com/stjordanis/atomicswap-core/internal/status"
	"github.com/stjordanis/atomicswap-core/internal/swapconfig"
	"github.com/stjordanis/atomicswap-core/internal/swapcore"
	"github.com/stjordanis/atomicswap-core/internal/transport/memtransport"
)

func testConfig() *swapconfig.Config {
	cfg := swapconfig.Default()
	cfg.LockTimeSeconds = 3600
	cfg.MakerConfirmations = 1
	cfg.TakerConfirmations = 1
	return cfg
}

func feeAddr() chainadapter.CompressedPubKey {
	// The Taker's fee output is a p2pkh script, so the fee address must be
	// a valid secp256k1 point.
	var p chainadapter.CompressedPubKey
	b, err := hex.DecodeString(swapconfig.DefaultFeeAddressPubKeyHex)
	if err != nil || len(b) != len(p) {
		panic("invalid default fee address pubkey")
	}
	copy(p[:], b)
	return p
}

// setup builds a full maker/taker pair against shared memtransport +
// MemBackend infrastructure, with a background loop confirming every
// broadcast transaction so WaitForConfirmations resolves quickly.
func setup(t *testing.T, makerAmount, takerAmount uint64) (*swapcore.Maker, *swapcore.Taker, *swapcore.Context, *swapcore.Context, *memtransport.Hub, context.CancelFunc) {
	t.Helper()

	hub := memtransport.NewHub()
	memtransport.RetransmitInterval = 10 * time.Millisecond
	chainbtc.PollInterval = 20 * time.Millisecond

	var makerID, takerID swapcore.PeerID
	makerID[0] = 0xAA
	takerID[0] = 0xBB

	session := "test-session"
	makerMessenger := swapcore.NewMessenger(hub.Transport(makerID), session)
	takerMessenger := swapcore.NewMessenger(hub.Transport(takerID), session)

	backend := chainbtc.NewMemBackend()
	chain := chainbtc.New(&chaincfg.RegressionNetParams, backend)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				backend.ConfirmAllKnown()
			}
		}
	}()

	cfg := testConfig()
	fee := feeAddr()

	makerCtx, err := swapcore.NewContext(swapcore.NewContextParams{
		Role: swapcore.RoleMaker, MyIdentity: makerID, PeerIdentity: takerID,
		MakerAmount: makerAmount, TakerAmount: takerAmount, FeeAddrPub: fee,
	})
	if err != nil {
		t.Fatalf("NewContext maker: %v", err)
	}
	takerCtx, err := swapcore.NewContext(swapcore.NewContextParams{
		Role: swapcore.RoleTaker, MyIdentity: takerID, PeerIdentity: makerID,
		MakerAmount: makerAmount, TakerAmount: takerAmount, FeeAddrPub: fee,
	})
	if err != nil {
		t.Fatalf("NewContext taker: %v", err)
	}
	takerCtx.StartedAt = makerCtx.StartedAt

	maker := swapcore.NewMaker(chain, makerMessenger, status.NewHandle(), cfg, takerID)
	taker := swapcore.NewTaker(chain, takerMessenger, status.NewHandle(), cfg, makerID)

	return maker, taker, makerCtx, takerCtx, hub, cancel
}

// TestHappyPath drives a full two-role swap to completion: both state
// machines reach Done, the Taker fee equals takerAmount/777, and the Taker
// ends up knowing the Maker's secret.
func TestHappyPath(t *testing.T) {
	const makerAmount, takerAmount = uint64(100000), uint64(77700)
	maker, taker, makerCtx, takerCtx, _, cancel := setup(t, makerAmount, takerAmount)
	defer cancel()

	if takerCtx.TakerFeeAmount != 100 {
		t.Fatalf("taker fee amount = %d, want 100", takerCtx.TakerFeeAmount)
	}

	ctx, done := context.WithTimeout(context.Background(), 15*time.Second)
	defer done()

	makerDone := make(chan error, 1)
	takerDone := make(chan error, 1)

	go func() {
		_, err := maker.Run(ctx, makerCtx)
		makerDone <- err
	}()
	go func() {
		_, err := taker.Run(ctx, takerCtx)
		takerDone <- err
	}()

	var makerErr, takerErr error
	for i := 0; i < 2; i++ {
		select {
		case makerErr = <-makerDone:
		case takerErr = <-takerDone:
		case <-ctx.Done():
			t.Fatal("timed out waiting for both roles to finish")
		}
	}

	if makerErr != nil {
		t.Fatalf("maker did not reach Done: %v", makerErr)
	}
	if takerErr != nil {
		t.Fatalf("taker did not reach Done: %v", takerErr)
	}

	if makerCtx.MakerPaymentLock <= makerCtx.TakerPaymentLock {
		t.Fatalf("maker payment lock %d must be greater than taker payment lock %d",
			makerCtx.MakerPaymentLock, makerCtx.TakerPaymentLock)
	}
	if makerCtx.SecretHash != takerCtx.SecretHash {
		t.Fatal("maker and taker disagree on secret_hash")
	}
	secret, ok := takerCtx.Secret()
	if !ok {
		t.Fatal("taker never learned the secret")
	}
	if swapcore.Hash160(secret[:]) != takerCtx.SecretHash {
		t.Fatal("hash160(secret) does not match the negotiated secret hash")
	}
}

// TestClockSkewRejected checks that a Taker clock more than 60s ahead of
// the Maker's StartedAt is rejected with -1002.
func TestClockSkewRejected(t *testing.T) {
	maker, taker, makerCtx, takerCtx, _, cancel := setup(t, 100000, 77700)
	defer cancel()
	_ = maker

	takerCtx.StartedAt = makerCtx.StartedAt + 61

	ctx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()

	go func() { _, _ = maker.Run(ctx, makerCtx) }()

	_, err := taker.Run(ctx, takerCtx)
	if err == nil {
		t.Fatal("expected clock skew error")
	}
	swapErr, ok := err.(*swapcore.Error)
	if !ok {
		t.Fatalf("expected *swapcore.Error, got %T: %v", err, err)
	}
	if swapErr.Code != swapcore.ErrCodeTakerClockSkew {
		t.Fatalf("error code = %d, want %d", swapErr.Code, swapcore.ErrCodeTakerClockSkew)
	}
}

// TestClockSkewExactlyAtBoundaryAccepted checks that skew of exactly 60s
// is still accepted.
func TestClockSkewExactlyAtBoundaryAccepted(t *testing.T) {
	maker, taker, makerCtx, takerCtx, _, cancel := setup(t, 100000, 77700)
	defer cancel()

	takerCtx.StartedAt = makerCtx.StartedAt + 60

	ctx, done := context.WithTimeout(context.Background(), 15*time.Second)
	defer done()

	makerDone := make(chan error, 1)
	go func() {
		_, err := maker.Run(ctx, makerCtx)
		makerDone <- err
	}()

	_, takerErr := taker.Run(ctx, takerCtx)
	if takerErr != nil {
		swapErr, ok := takerErr.(*swapcore.Error)
		if ok && swapErr.Code == swapcore.ErrCodeTakerClockSkew {
			t.Fatalf("60s skew should be accepted, got clock skew error: %v", takerErr)
		}
	}
	<-makerDone
}

// underpayingFeeChain wraps a chainadapter.Chain and broadcasts the Taker's
// fee one unit short of what was asked, so TestBadTakerFeeRejected can drive
// a real Taker through real negotiation and still land an invalid fee.
type underpayingFeeChain struct {
	chainadapter.Chain
}

func (c underpayingFeeChain) SendTakerFee(ctx context.Context, feeAddrPub chainadapter.CompressedPubKey, amount uint64) (chainadapter.Tx, error) {
	return c.Chain.SendTakerFee(ctx, feeAddrPub, amount-1)
}

// TestBadTakerFeeRejected has the Taker broadcast a fee transaction paying
// one unit less than expected; the Maker must reject it with -2010 without
// ever broadcasting its own payment.
func TestBadTakerFeeRejected(t *testing.T) {
	maker, taker, makerCtx, takerCtx, _, cancel := setup(t, 100000, 77700)
	defer cancel()
	taker.Chain = underpayingFeeChain{taker.Chain}

	ctx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()

	takerDone := make(chan error, 1)
	go func() {
		_, err := taker.Run(ctx, takerCtx)
		takerDone <- err
	}()

	_, makerErr := maker.Run(ctx, makerCtx)
	<-takerDone

	if makerErr == nil {
		t.Fatal("expected maker to reject the underpaid taker fee")
	}
	swapErr, ok := makerErr.(*swapcore.Error)
	if !ok {
		t.Fatalf("expected *swapcore.Error, got %T: %v", makerErr, makerErr)
	}
	if swapErr.Code != swapcore.ErrCodeMakerValidateTakerFee {
		t.Fatalf("error code = %d, want %d", swapErr.Code, swapcore.ErrCodeMakerValidateTakerFee)
	}
	if makerCtx.MakerPayment != nil {
		t.Fatal("maker must not broadcast its own payment after a bad taker fee")
	}
}

// neverSpendsChain wraps a chainadapter.Chain and blocks forever on
// SendMakerSpendsTakerPayment, modeling a Maker that received the Taker's
// payment but absconds before ever spending it — deterministic, unlike
// racing the real protocol against a wall-clock cutoff.
type neverSpendsChain struct {
	chainadapter.Chain
}

func (c neverSpendsChain) SendMakerSpendsTakerPayment(ctx context.Context, taker chainadapter.Tx, makerPriv0 []byte, secret chainadapter.Secret) (chainadapter.Tx, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// TestTakerRefundsAfterMakerAbsconds: the Maker receives the Taker's
// payment but never spends it. The Taker's wait-for-spend deadline
// elapses, so it refunds its own payment via the timelock branch and
// terminates without error.
func TestTakerRefundsAfterMakerAbsconds(t *testing.T) {
	hub := memtransport.NewHub()
	memtransport.RetransmitInterval = 10 * time.Millisecond
	chainbtc.PollInterval = 5 * time.Millisecond
	swapconfig.ConfirmationWaitBudget = 150 * time.Millisecond
	defer func() { swapconfig.ConfirmationWaitBudget = 1000 * time.Second }()

	var makerID, takerID swapcore.PeerID
	makerID[0] = 0xCC
	takerID[0] = 0xDD
	session := "test-session-s5"

	makerMessenger := swapcore.NewMessenger(hub.Transport(makerID), session)
	takerMessenger := swapcore.NewMessenger(hub.Transport(takerID), session)

	backend := chainbtc.NewMemBackend()
	chain := chainbtc.New(&chaincfg.RegressionNetParams, backend)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ticker := time.NewTicker(2 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				backend.ConfirmAllKnown()
			}
		}
	}()

	cfg := testConfig()
	fee := feeAddr()

	makerCtx, err := swapcore.NewContext(swapcore.NewContextParams{
		Role: swapcore.RoleMaker, MyIdentity: makerID, PeerIdentity: takerID,
		MakerAmount: 100000, TakerAmount: 77700, FeeAddrPub: fee,
	})
	if err != nil {
		t.Fatalf("NewContext maker: %v", err)
	}
	takerCtx, err := swapcore.NewContext(swapcore.NewContextParams{
		Role: swapcore.RoleTaker, MyIdentity: takerID, PeerIdentity: makerID,
		MakerAmount: 100000, TakerAmount: 77700, FeeAddrPub: fee,
	})
	if err != nil {
		t.Fatalf("NewContext taker: %v", err)
	}
	takerCtx.StartedAt = makerCtx.StartedAt

	// The Maker runs everything up through receiving and confirming the
	// Taker's payment normally, then never spends it (neverSpendsChain),
	// modeling an absconded Maker that nonetheless received the payment.
	maker := swapcore.NewMaker(neverSpendsChain{chain}, makerMessenger, status.NewHandle(), cfg, takerID)
	taker := swapcore.NewTaker(chain, takerMessenger, status.NewHandle(), cfg, makerID)

	runCtx, runDone := context.WithTimeout(ctx, 10*time.Second)
	defer runDone()

	makerStopped := make(chan struct{})
	go func() {
		defer close(makerStopped)
		_, _ = maker.Run(runCtx, makerCtx)
	}()

	state, takerErr := taker.Run(runCtx, takerCtx)
	runDone()
	<-makerStopped

	if takerErr != nil {
		t.Fatalf("taker should refund cleanly, got error: %v", takerErr)
	}
	if state != swapcore.TakerStateRefundTakerPayment {
		t.Fatalf("taker state = %v, want %v", state, swapcore.TakerStateRefundTakerPayment)
	}
}
