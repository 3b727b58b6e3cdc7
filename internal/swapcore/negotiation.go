// Package swapcore implements the Maker/Taker atomic swap protocol: the
// negotiation codec, the messenger, the swap context, and the two
// asymmetric state machines that drive a swap from negotiation to a
// spent payment or a refund.
package swapcore

import (
	"encoding/binary"
	"fmt"

	"github.com/stjordanis/atomicswap-core/internal/chainadapter"
)

// NegotiationRecordSize is the canonical wire size of a NegotiationRecord:
// two 8-byte integers, a 20-byte hash, two 33-byte compressed pubkeys.
const NegotiationRecordSize = 8 + 8 + 20 + 33 + 33

// NegotiationRecord is exchanged on the negotiation and negotiation-reply
// subjects. Field order and endianness are fixed by the wire format; see
// Encode.
type NegotiationRecord struct {
	StartedAt        uint64
	PaymentLocktime  uint64
	SecretHash       chainadapter.SecretHash
	Pub0             chainadapter.CompressedPubKey
	PersistentPubKey chainadapter.CompressedPubKey
}

// DecodeError reports a malformed or short negotiation record.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string { return fmt.Sprintf("negotiation record: %s", e.Reason) }

// Encode serialises r into its canonical 118-byte little-endian wire form.
func (r NegotiationRecord) Encode() []byte {
	buf := make([]byte, NegotiationRecordSize)
	binary.LittleEndian.PutUint64(buf[0:8], r.StartedAt)
	binary.LittleEndian.PutUint64(buf[8:16], r.PaymentLocktime)
	copy(buf[16:36], r.SecretHash[:])
	copy(buf[36:69], r.Pub0[:])
	copy(buf[69:102], r.PersistentPubKey[:])
	return buf
}

// DecodeNegotiationRecord parses a 118-byte wire payload into a
// NegotiationRecord. Any length other than NegotiationRecordSize fails with
// DecodeError, including trailing bytes: the format is fixed-width, not
// self-delimiting, so extra bytes can never be a valid suffix.
func DecodeNegotiationRecord(buf []byte) (NegotiationRecord, error) {
	var r NegotiationRecord
	if len(buf) != NegotiationRecordSize {
		return r, &DecodeError{Reason: fmt.Sprintf("want %d bytes, got %d", NegotiationRecordSize, len(buf))}
	}
	r.StartedAt = binary.LittleEndian.Uint64(buf[0:8])
	r.PaymentLocktime = binary.LittleEndian.Uint64(buf[8:16])
	copy(r.SecretHash[:], buf[16:36])
	copy(r.Pub0[:], buf[36:69])
	copy(r.PersistentPubKey[:], buf[69:102])
	return r, nil
}
