package workflow

import "testing"

// TestCalcRoundsForDenominateTxSimpleIncrement reproduces the S4 scenario:
// three own inputs of rounds [2, 2, 3] value 1000010 produce three own
// outputs of rounds [3, 3, 4] on a non-hardware-keystore wallet.
func TestCalcRoundsForDenominateTxSimpleIncrement(t *testing.T) {
	got := CalcRoundsForDenominateTx(false, []bool{false, false, false}, []int{2, 2, 3})
	want := []int{3, 3, 4}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
}

// TestCalcRoundsForDenominateTxHWKeystoreRedistributesMax reproduces a
// hardware-keystore session where one input is on its last mixing round:
// the highest post-increment round value must land on the main-keystore
// output position, not wherever the positional mapping would otherwise
// place it.
func TestCalcRoundsForDenominateTxHWKeystoreRedistributesMax(t *testing.T) {
	// input rounds [1, 3] -> naive increment [2, 4]; position 0 is the
	// main-keystore exit (flagged true in outputMainKS), so the round-4
	// value must move to position 0.
	got := CalcRoundsForDenominateTx(true, []bool{true, false}, []int{1, 3})
	want := []int{4, 2}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
}
