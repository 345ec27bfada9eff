package commitstep

import (
	"errors"
	"testing"

	"github.com/ledgerwatch/catapult/config"
	"github.com/ledgerwatch/catapult/errs"
)

func TestMarkerAbsentByDefault(t *testing.T) {
	dataDir, err := config.Prepare(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	m := NewMarker(dataDir)
	_, present, err := m.Read()
	if err != nil {
		t.Fatal(err)
	}
	if present {
		t.Fatal("expected commit_step.dat to be absent on a fresh data directory")
	}
}

func TestMarkerWriteReadDelete(t *testing.T) {
	dataDir, err := config.Prepare(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	m := NewMarker(dataDir)
	for _, step := range []Step{BlocksWritten, StateWritten, AllUpdated} {
		if err := m.Write(step); err != nil {
			t.Fatal(err)
		}
		got, present, err := m.Read()
		if err != nil {
			t.Fatal(err)
		}
		if !present || got != step {
			t.Fatalf("Read() = %v, %v, want %v, true", got, present, step)
		}
	}
	if err := m.Delete(); err != nil {
		t.Fatal(err)
	}
	if _, present, err := m.Read(); err != nil || present {
		t.Fatalf("expected absent after Delete, got present=%v err=%v", present, err)
	}
}

func TestMarkerReadsBackAllUpdated(t *testing.T) {
	dataDir, err := config.Prepare(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	m := NewMarker(dataDir)
	if err := m.Write(AllUpdated); err != nil {
		t.Fatal(err)
	}
	got, _, err := m.Read()
	if err != nil {
		t.Fatal(err)
	}
	if got != AllUpdated {
		t.Fatalf("got %v, want AllUpdated", got)
	}
}

func TestTransactionRunSequencesStepsAndCleansUpMarker(t *testing.T) {
	dataDir, err := config.Prepare(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	m := NewMarker(dataDir)

	var calls []string
	var seenAtPromoteBlocks, seenAtPromoteState, seenAtPublish Step

	tx := &Transaction{
		Marker: m,
		StageBlocks: func() error {
			calls = append(calls, "stage")
			return nil
		},
		BuildState: func() error {
			calls = append(calls, "build")
			return nil
		},
		PromoteBlocks: func() error {
			calls = append(calls, "promoteBlocks")
			seenAtPromoteBlocks, _, _ = m.Read()
			return nil
		},
		PromoteState: func() error {
			calls = append(calls, "promoteState")
			seenAtPromoteState, _, _ = m.Read()
			return nil
		},
		PublishMessages: func() error {
			calls = append(calls, "publish")
			seenAtPublish, _, _ = m.Read()
			return nil
		},
	}
	if err := tx.Run(); err != nil {
		t.Fatal(err)
	}

	want := []string{"stage", "build", "promoteBlocks", "promoteState", "publish"}
	if len(calls) != len(want) {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("calls = %v, want %v", calls, want)
		}
	}
	if seenAtPromoteBlocks != BlocksWritten {
		t.Fatalf("marker during PromoteBlocks = %v, want BlocksWritten", seenAtPromoteBlocks)
	}
	if seenAtPromoteState != StateWritten {
		t.Fatalf("marker during PromoteState = %v, want StateWritten", seenAtPromoteState)
	}
	if seenAtPublish != StateWritten {
		t.Fatalf("marker during PublishMessages = %v, want StateWritten (AllUpdated is written after)", seenAtPublish)
	}
	if _, present, err := m.Read(); err != nil || present {
		t.Fatalf("expected commit_step.dat deleted after a clean Run, present=%v err=%v", present, err)
	}
}

func TestTransactionRunStopsAtFirstError(t *testing.T) {
	dataDir, err := config.Prepare(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	m := NewMarker(dataDir)
	boom := errors.New("boom")

	promoteStateCalled := false
	tx := &Transaction{
		Marker:        m,
		StageBlocks:   func() error { return nil },
		BuildState:    func() error { return nil },
		PromoteBlocks: func() error { return boom },
		PromoteState:  func() error { promoteStateCalled = true; return nil },
		PublishMessages: func() error {
			return nil
		},
	}
	if err := tx.Run(); !errors.Is(err, boom) {
		t.Fatalf("Run() err = %v, want wrapping %v", err, boom)
	}
	if promoteStateCalled {
		t.Fatal("PromoteState must not run after PromoteBlocks fails")
	}
	step, present, err := m.Read()
	if err != nil {
		t.Fatal(err)
	}
	if !present || step != BlocksWritten {
		t.Fatalf("expected marker left at BlocksWritten after failure, got %v present=%v", step, present)
	}
}

func TestMarkerOutOfRangeValueIsCorruption(t *testing.T) {
	dataDir, err := config.Prepare(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	m := NewMarker(dataDir)
	if err := m.idx.Set(99); err != nil {
		t.Fatal(err)
	}
	_, _, err = m.Read()
	if !errors.Is(err, errs.ErrCorruption) {
		t.Fatalf("Read() err = %v, want ErrCorruption", err)
	}
}
