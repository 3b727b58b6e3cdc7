package swapcore

import (
	"testing"

	"github.com/stjordanis/atomicswap-core/internal/chainadapter"
)

func TestNewContextInvariants(t *testing.T) {
	var feeAddr chainadapter.CompressedPubKey
	feeAddr[0] = 0x02

	c, err := NewContext(NewContextParams{
		Role:        RoleMaker,
		MakerAmount: 100000,
		TakerAmount: 77700,
		FeeAddrPub:  feeAddr,
	})
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	if c.TakerFeeAmount != 100 {
		t.Fatalf("taker fee amount = %d, want 100 (77700/777)", c.TakerFeeAmount)
	}
	if c.MyPriv0 == nil || len(c.MyPersistentPriv) == 0 {
		t.Fatal("NewContext did not generate keys")
	}
	if c.MyPub0().IsZero() {
		t.Fatal("MyPub0 is zero")
	}
}

func TestSetSecretEnforcesHash160(t *testing.T) {
	var secret chainadapter.Secret
	for i := range secret {
		secret[i] = byte(i)
	}
	c := &Context{SecretHash: Hash160(secret[:])}

	if err := c.SetSecret(secret); err != nil {
		t.Fatalf("SetSecret with matching hash: %v", err)
	}
	got, ok := c.Secret()
	if !ok || got != secret {
		t.Fatal("Secret() did not return the set secret")
	}

	var wrong chainadapter.Secret
	wrong[0] = 0xff
	c2 := &Context{SecretHash: Hash160(secret[:])}
	if err := c2.SetSecret(wrong); err == nil {
		t.Fatal("SetSecret accepted a secret not matching SecretHash")
	}
}

func TestPeerPubSetOnce(t *testing.T) {
	c := &Context{}
	var pub chainadapter.CompressedPubKey
	pub[0] = 0x03

	if err := c.SetPeerPub0(pub); err != nil {
		t.Fatalf("first SetPeerPub0: %v", err)
	}
	if err := c.SetPeerPub0(pub); err == nil {
		t.Fatal("second SetPeerPub0 should have failed (immutable once set)")
	}

	if err := c.SetPeerPersistentPub(pub); err != nil {
		t.Fatalf("first SetPeerPersistentPub: %v", err)
	}
	if err := c.SetPeerPersistentPub(pub); err == nil {
		t.Fatal("second SetPeerPersistentPub should have failed (immutable once set)")
	}
}

func TestValidateLockOrdering(t *testing.T) {
	c := &Context{MakerPaymentLock: 100, TakerPaymentLock: 50}
	if err := c.ValidateLockOrdering(); err != nil {
		t.Fatalf("maker > taker should be valid: %v", err)
	}

	c2 := &Context{MakerPaymentLock: 50, TakerPaymentLock: 50}
	if err := c2.ValidateLockOrdering(); err == nil {
		t.Fatal("maker == taker should be rejected")
	}

	c3 := &Context{MakerPaymentLock: 40, TakerPaymentLock: 50}
	if err := c3.ValidateLockOrdering(); err == nil {
		t.Fatal("maker < taker should be rejected")
	}
}
