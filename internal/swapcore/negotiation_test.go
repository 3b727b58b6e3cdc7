package swapcore

import (
	"testing"

	"pgregory.net/rapid"

	"github.com/stjordanis/atomicswap-core/internal/chainadapter"
)

func TestNegotiationRecordEncodeSize(t *testing.T) {
	var rec NegotiationRecord
	if got := len(rec.Encode()); got != NegotiationRecordSize {
		t.Fatalf("encoded size = %d, want %d", got, NegotiationRecordSize)
	}
	if NegotiationRecordSize != 118 {
		t.Fatalf("NegotiationRecordSize = %d, want 118", NegotiationRecordSize)
	}
}

// TestNegotiationRecordRoundTrip checks decode(encode(x)) == x for all x.
func TestNegotiationRecordRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		rec := NegotiationRecord{
			StartedAt:       rapid.Uint64().Draw(t, "started_at"),
			PaymentLocktime: rapid.Uint64().Draw(t, "payment_locktime"),
		}
		secretHashBytes := rapid.SliceOfN(rapid.Byte(), 20, 20).Draw(t, "secret_hash")
		copy(rec.SecretHash[:], secretHashBytes)
		pub0Bytes := rapid.SliceOfN(rapid.Byte(), 33, 33).Draw(t, "pub0")
		copy(rec.Pub0[:], pub0Bytes)
		persistentBytes := rapid.SliceOfN(rapid.Byte(), 33, 33).Draw(t, "persistent_pubkey")
		copy(rec.PersistentPubKey[:], persistentBytes)

		decoded, err := DecodeNegotiationRecord(rec.Encode())
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if decoded != rec {
			t.Fatalf("round-trip mismatch: got %+v, want %+v", decoded, rec)
		}
	})
}

func TestNegotiationRecordFieldLayout(t *testing.T) {
	rec := NegotiationRecord{
		StartedAt:       1,
		PaymentLocktime: 2,
	}
	buf := rec.Encode()
	// little-endian u64 1 at offset 0
	if buf[0] != 1 || buf[1] != 0 {
		t.Fatalf("StartedAt not little-endian at offset 0: %v", buf[0:8])
	}
	// little-endian u64 2 at offset 8
	if buf[8] != 2 || buf[9] != 0 {
		t.Fatalf("PaymentLocktime not little-endian at offset 8: %v", buf[8:16])
	}
}

func TestDecodeNegotiationRecordRejectsBadLength(t *testing.T) {
	cases := []int{0, 1, NegotiationRecordSize - 1, NegotiationRecordSize + 1, 1000}
	for _, n := range cases {
		if _, err := DecodeNegotiationRecord(make([]byte, n)); err == nil {
			t.Errorf("decode of %d bytes should fail, NegotiationRecordSize=%d", n, NegotiationRecordSize)
		}
	}
}

func TestHash160(t *testing.T) {
	var secret chainadapter.Secret
	for i := range secret {
		secret[i] = byte(i + 1)
	}
	h1 := Hash160(secret[:])
	h2 := Hash160(secret[:])
	if h1 != h2 {
		t.Fatal("Hash160 not deterministic")
	}
	if len(h1) != 20 {
		t.Fatalf("Hash160 output length = %d, want 20", len(h1))
	}
}
