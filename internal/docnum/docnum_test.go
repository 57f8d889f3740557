package docnum

import (
	"strings"
	"testing"
)

func TestNewShape(t *testing.T) {
	id := New("INV")
	parts := strings.Split(id, "-")
	if len(parts) != 3 {
		t.Fatalf("expected PREFIX-ts-suffix, got %q", id)
	}
	if parts[0] != "INV" {
		t.Fatalf("expected INV prefix, got %q", id)
	}
	if len(parts[2]) != 4 {
		t.Fatalf("expected 4-char suffix, got %q", parts[2])
	}
	for _, c := range parts[2] {
		if !strings.ContainsRune(suffixAlphabet, c) {
			t.Fatalf("suffix char %q outside alphabet in %q", c, id)
		}
	}
}

func TestTransactionIDsAreDistinct(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewTransactionID()
		if !strings.HasPrefix(id, "TXN-") {
			t.Fatalf("expected TXN prefix, got %q", id)
		}
		if seen[id] {
			t.Fatalf("duplicate transaction id %q", id)
		}
		seen[id] = true
	}
}
