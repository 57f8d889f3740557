package docnum

import (
	"crypto/rand"
	"fmt"
	"time"
)

const suffixAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// New mints a document number of the form PREFIX-<unix-ts>-<4-char-suffix>.
// The suffix narrows the collision window within one second; the storage
// unique constraint is the real guarantee, and callers re-mint once when it
// fires.
func New(prefix string) string {
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UTC().Unix(), suffix(4))
}

// NewTransactionID mints a time-ordered sale transaction id. Nanosecond
// granularity keeps ids from the same store sortable by creation time.
func NewTransactionID() string {
	return fmt.Sprintf("TXN-%d-%s", time.Now().UTC().UnixNano(), suffix(4))
}

func suffix(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing is effectively fatal elsewhere; fall back to a
		// time-derived suffix so minting still returns something unique-ish.
		ts := time.Now().UnixNano()
		for i := range buf {
			buf[i] = suffixAlphabet[int(ts>>uint(i*5))%len(suffixAlphabet)]
		}
		return string(buf)
	}
	for i := range buf {
		buf[i] = suffixAlphabet[int(buf[i])%len(suffixAlphabet)]
	}
	return string(buf)
}
