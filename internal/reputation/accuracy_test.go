package reputation

import (
	"context"
	stdErrors "errors"
	"math/big"
	"testing"

	"OpenOracle-Chain/internal/identity"
)

func TestAccuracyBasisPoints(t *testing.T) {
	cases := []struct {
		name       string
		successful uint64
		total      uint64
		want       uint64
	}{
		{"no history", 0, 0, 0},
		{"one of one", 1, 1, 10000},
		{"one of three rounds down", 1, 3, 3333},
		{"two of three rounds down", 2, 3, 6666},
		{"one of seven", 1, 7, 1428},
		{"almost perfect", 999999, 1000000, 9999},
		{"half", 1, 2, 5000},
	}

	for _, tc := range cases {
		score := &Score{
			AgentID:              1,
			TotalAssertions:      tc.total,
			SuccessfulAssertions: tc.successful,
			TotalVolume:          big.NewInt(0),
		}
		if got := AccuracyOf(score); got != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.want, got)
		}
	}
}

func TestViewRejectsUnknownAgent(t *testing.T) {
	registry := identity.NewMemoryRegistry()
	view := NewView(NewMemoryStore(), registry)
	ctx := context.Background()

	if _, err := view.Accuracy(ctx, 77); !stdErrors.Is(err, identity.ErrAgentNotFound) {
		t.Fatalf("expected ErrAgentNotFound, got %v", err)
	}
	if _, err := view.Score(ctx, 77); !stdErrors.Is(err, identity.ErrAgentNotFound) {
		t.Fatalf("expected ErrAgentNotFound for score, got %v", err)
	}
}

func TestViewZeroScoreForRegisteredAgent(t *testing.T) {
	registry := identity.NewMemoryRegistry()
	registry.Register(identity.AgentRecord{ID: 12, Name: "quiet-agent"})
	view := NewView(NewMemoryStore(), registry)
	ctx := context.Background()

	accuracy, err := view.Accuracy(ctx, 12)
	if err != nil {
		t.Fatalf("accuracy: %v", err)
	}
	if accuracy != 0 {
		t.Fatalf("expected 0 accuracy for agent without history, got %d", accuracy)
	}

	score, err := view.Score(ctx, 12)
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if score.TotalAssertions != 0 || score.TotalVolume.Sign() != 0 {
		t.Fatalf("expected zero score, got %+v", score)
	}
}

func TestViewAccuracyAfterUpdates(t *testing.T) {
	registry := identity.NewMemoryRegistry()
	registry.Register(identity.AgentRecord{ID: 3, Name: "active-agent"})
	store := NewMemoryStore()
	view := NewView(store, registry)
	ctx := context.Background()

	outcomes := []bool{true, false, true}
	for _, successful := range outcomes {
		if _, err := store.Apply(ctx, 3, Update{Successful: successful, Volume: big.NewInt(10)}); err != nil {
			t.Fatalf("apply: %v", err)
		}
	}

	accuracy, err := view.Accuracy(ctx, 3)
	if err != nil {
		t.Fatalf("accuracy: %v", err)
	}
	if accuracy != 6666 {
		t.Fatalf("expected 6666 basis points, got %d", accuracy)
	}
}
