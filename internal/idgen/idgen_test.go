package idgen

import "testing"

func TestNewIsUUID(t *testing.T) {
	id := New()
	if !Valid(id) {
		t.Fatalf("Expected valid UUID, got %q", id)
	}
	if New() == id {
		t.Error("Expected distinct IDs")
	}
}

func TestPaymentID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		id := PaymentID()
		if !IsPaymentID(id) {
			t.Fatalf("Expected PAY- reference, got %q", id)
		}
		seen[id] = true
	}
	if len(seen) < 190 {
		t.Errorf("Expected mostly unique payment IDs, got %d distinct", len(seen))
	}
}

func TestIsPaymentIDRejects(t *testing.T) {
	for _, s := range []string{"", "PAY-", "PAY-abcdefgh", "PAY-ABCDEFGHI", "XYZ-ABCDEFGH"} {
		if IsPaymentID(s) {
			t.Errorf("Expected %q to be rejected", s)
		}
	}
}

func TestHexLength(t *testing.T) {
	if got := Hex(16); len(got) != 32 {
		t.Errorf("Expected 32 chars, got %d", len(got))
	}
}
