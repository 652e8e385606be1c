package reconcile

import (
	"math"
	"testing"

	"github.com/tavern-games/tablesync/internal/wire"
)

func TestBlendStaysWithinBounds(t *testing.T) {
	pairs := [][2]float64{
		{0, 10},
		{10, 0},
		{-3.5, 7.25},
		{100, 100},
		{0.001, -0.001},
	}
	steps := []float64{0, 0.1, 0.25, 0.5, 0.75, 0.99, 1}

	for _, pair := range pairs {
		a, b := pair[0], pair[1]
		lo, hi := math.Min(a, b), math.Max(a, b)
		for _, progress := range steps {
			out := blendStates(wire.State{"v": a}, wire.State{"v": b}, progress)
			got, ok := out["v"].(float64)
			if !ok {
				t.Fatalf("blend(%v, %v, %v) produced non-numeric %#v", a, b, progress, out["v"])
			}
			if got < lo || got > hi {
				t.Fatalf("blend(%v, %v, %v) = %v outside [%v, %v]", a, b, progress, got, lo, hi)
			}
			if progress == 1 && got != b {
				t.Fatalf("blend at t=1 should equal target %v, got %v", b, got)
			}
		}
	}
}

func TestBlendClampsProgress(t *testing.T) {
	current := wire.State{"v": 0.0}
	target := wire.State{"v": 10.0}

	if got := blendStates(current, target, -0.5)["v"].(float64); got != 0 {
		t.Fatalf("expected clamp to current at t<0, got %v", got)
	}
	if got := blendStates(current, target, 3)["v"].(float64); got != 10 {
		t.Fatalf("expected clamp to target at t>1, got %v", got)
	}
}

func TestBlendHoldsNonNumericUntilComplete(t *testing.T) {
	current := wire.State{"turn": "alice", "pot": 10.0}
	target := wire.State{"turn": "bob", "pot": 20.0}

	mid := blendStates(current, target, 0.5)
	if mid["turn"] != "alice" {
		t.Fatalf("expected non-numeric field held at current, got %v", mid["turn"])
	}
	if mid["pot"].(float64) != 15 {
		t.Fatalf("expected pot lerped to 15, got %v", mid["pot"])
	}

	done := blendStates(current, target, 1)
	if done["turn"] != "bob" {
		t.Fatalf("expected snap to target at t=1, got %v", done["turn"])
	}
}

func TestBlendTypeMismatchPrefersCurrentThenTarget(t *testing.T) {
	current := wire.State{"score": 5.0}
	target := wire.State{"score": "forfeit"}

	if got := blendStates(current, target, 0.5)["score"]; got != 5.0 {
		t.Fatalf("expected current value on mismatch mid-blend, got %v", got)
	}
	if got := blendStates(current, target, 1)["score"]; got != "forfeit" {
		t.Fatalf("expected target value on mismatch at t=1, got %v", got)
	}
}

func TestBlendNestedOneLevel(t *testing.T) {
	current := wire.State{
		"ball": map[string]any{"x": 0.0, "y": 10.0, "label": "cue"},
	}
	target := wire.State{
		"ball": map[string]any{"x": 100.0, "y": 0.0, "label": "eight"},
	}

	mid := blendStates(current, target, 0.5)
	ball, ok := mid["ball"].(map[string]any)
	if !ok {
		t.Fatalf("expected nested map, got %#v", mid["ball"])
	}
	if ball["x"].(float64) != 50 || ball["y"].(float64) != 5 {
		t.Fatalf("expected nested leaves lerped, got x=%v y=%v", ball["x"], ball["y"])
	}
	if ball["label"] != "cue" {
		t.Fatalf("expected nested non-numeric held, got %v", ball["label"])
	}
}

func TestBlendFieldOnlyInTargetAppearsAtCompletion(t *testing.T) {
	current := wire.State{"pot": 10.0}
	target := wire.State{"pot": 10.0, "winner": "alice"}

	mid := blendStates(current, target, 0.5)
	if _, present := mid["winner"]; present {
		t.Fatal("expected target-only field absent mid-blend")
	}

	done := blendStates(current, target, 1)
	if done["winner"] != "alice" {
		t.Fatalf("expected target-only field at t=1, got %v", done["winner"])
	}
}

func TestBlendFieldOnlyInCurrentHeldUntilComplete(t *testing.T) {
	current := wire.State{"pot": 10.0, "side_pot": 3.0}
	target := wire.State{"pot": 10.0}

	mid := blendStates(current, target, 0.5)
	if mid["side_pot"] != 3.0 {
		t.Fatalf("expected current-only field held mid-blend, got %v", mid["side_pot"])
	}

	done := blendStates(current, target, 1)
	if _, present := done["side_pot"]; present {
		t.Fatal("expected current-only field dropped at t=1")
	}
}
