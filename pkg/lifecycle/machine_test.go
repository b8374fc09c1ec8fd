package lifecycle

import "testing"

func testMachine() *Machine {
	const (
		idle    Status = 0
		running Status = 1
		done    Status = 2
		failed  Status = 3
	)
	return NewMachine("job",
		map[Status][]Status{
			running: {idle, failed},
			done:    {running},
			failed:  {running},
		},
		[]Status{done, failed},
		map[Status]string{
			idle:    "idle",
			running: "running",
			done:    "done",
			failed:  "failed",
		},
	)
}

func TestMachineCanEnter(t *testing.T) {
	m := testMachine()

	if !m.CanEnter(0, 1) {
		t.Fatal("expected idle to allow entering running")
	}
	if !m.CanEnter(3, 1) {
		t.Fatal("expected failed to allow entering running")
	}
	if m.CanEnter(2, 1) {
		t.Fatal("expected done to block entering running")
	}
	if m.CanEnter(0, 2) {
		t.Fatal("expected idle to block entering done")
	}
}

func TestMachineTerminal(t *testing.T) {
	m := testMachine()

	if m.Terminal(1) {
		t.Fatal("running must not be terminal")
	}
	if !m.Terminal(2) || !m.Terminal(3) {
		t.Fatal("done and failed must be terminal")
	}
}

func TestMachinePredecessors(t *testing.T) {
	m := testMachine()

	preds := m.Predecessors(1)
	if len(preds) != 2 {
		t.Fatalf("expected two predecessors of running, got %d", len(preds))
	}
}

func TestMachineLabelAndKnown(t *testing.T) {
	m := testMachine()

	if m.Label(1) != "running" {
		t.Fatalf("unexpected label %q", m.Label(1))
	}
	if !m.Known(3) {
		t.Fatal("expected failed to be known")
	}
	if m.Known(42) {
		t.Fatal("expected 42 to be unknown")
	}
}
