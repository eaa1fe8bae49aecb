package isat

import "testing"

func TestThresholdReducer(t *testing.T) {
	red, err := NewThresholdReducer(4, 1e-2, []int{3})
	if err != nil {
		t.Fatal(err)
	}
	if !red.Online() {
		t.Error("reducer should start online")
	}
	if red.EpsDAC() != 1e-2 {
		t.Errorf("EpsDAC: got %v, want 1e-2", red.EpsDAC())
	}

	// Species 0 dominates, species 1 is above threshold, species 2 is
	// below; species 3 is below but in the search-initiating set.
	c := []float64{1.0, 0.5, 1e-6, 1e-9}
	if err := red.ReduceMechanism(c, 1000, 1e5); err != nil {
		t.Fatal(err)
	}

	want := []bool{true, true, false, true}
	got := red.ActiveSpecies()
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ActiveSpecies[%d]: got %v, want %v", i, got[i], want[i])
		}
	}
	if red.NsSimp() != 3 {
		t.Errorf("NsSimp: got %d, want 3", red.NsSimp())
	}
}

func TestThresholdReducerKeepsAtLeastOneSpecies(t *testing.T) {
	red, err := NewThresholdReducer(3, 1e-2, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := red.ReduceMechanism([]float64{0, 0, 0}, 300, 1e5); err != nil {
		t.Fatal(err)
	}
	if red.NsSimp() < 1 {
		t.Error("reduction must keep at least one active species")
	}
}

func TestThresholdReducerOfflineToggle(t *testing.T) {
	red, err := NewThresholdReducer(3, 1e-2, nil)
	if err != nil {
		t.Fatal(err)
	}
	red.SetOnline(false)
	if red.Online() {
		t.Error("SetOnline(false) ignored")
	}

	// An offline reducer leaves the table in full space.
	nEq := 5
	tb, err := New(3, linearSolver(scaledIdentity(nEq, 2), make([]float64, nEq)), testTableConfig(nEq, 10))
	if err != nil {
		t.Fatal(err)
	}
	tb.WithReducer(red, -1)
	if _, err := tb.Query([]float64{0.5, 0.3, 0.2, 1000, 1e5}); err != nil {
		t.Fatal(err)
	}
	if got := tb.tree.leaves()[0].ActiveCount(); got != 3 {
		t.Errorf("ActiveCount with offline reducer: got %d, want 3 (full space)", got)
	}
}

func TestThresholdReducerValidation(t *testing.T) {
	if _, err := NewThresholdReducer(0, 1e-2, nil); err == nil {
		t.Error("expected error for zero species")
	}
	if _, err := NewThresholdReducer(3, 0, nil); err == nil {
		t.Error("expected error for zero tolerance")
	}
	if _, err := NewThresholdReducer(3, 1e-2, []int{7}); err == nil {
		t.Error("expected error for out-of-range init set entry")
	}
	if err := func() error {
		red, _ := NewThresholdReducer(3, 1e-2, nil)
		return red.ReduceMechanism([]float64{1, 2}, 300, 1e5)
	}(); err == nil {
		t.Error("expected error for wrong composition length")
	}
}
