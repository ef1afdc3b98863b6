package broadcast

import (
	"context"
	"testing"
)

func TestToggleIsItsOwnInverse(t *testing.T) {
	s, _, _ := newTestService(t, testConfig())
	ctx := context.Background()

	if err := s.pending.Set(ctx, 42, Text{Body: "salom"}); err != nil {
		t.Fatal(err)
	}

	p, ok, err := s.pending.Toggle(ctx, 42, -1)
	if err != nil || !ok {
		t.Fatalf("toggle on = (%v, %v)", ok, err)
	}
	if len(p.Groups) != 1 || p.Groups[0] != -1 {
		t.Fatalf("selection = %v, want [-1]", p.Groups)
	}

	p, ok, err = s.pending.Toggle(ctx, 42, -1)
	if err != nil || !ok {
		t.Fatalf("toggle off = (%v, %v)", ok, err)
	}
	if len(p.Groups) != 0 {
		t.Fatalf("selection = %v, want empty after double toggle", p.Groups)
	}
}

func TestToggleWithoutPendingIsSilent(t *testing.T) {
	s, _, _ := newTestService(t, testConfig())

	_, ok, err := s.pending.Toggle(context.Background(), 42, -1)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("toggle reported a pending broadcast that does not exist")
	}
}

func TestToggleOrderPreserved(t *testing.T) {
	s, _, _ := newTestService(t, testConfig())
	ctx := context.Background()

	if err := s.pending.Set(ctx, 42, Text{Body: "salom"}); err != nil {
		t.Fatal(err)
	}
	for _, id := range []int64{-3, -1, -2} {
		if _, _, err := s.pending.Toggle(ctx, 42, id); err != nil {
			t.Fatal(err)
		}
	}
	// Untoggle the middle one; the rest keep their relative order.
	p, _, err := s.pending.Toggle(ctx, 42, -1)
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Groups) != 2 || p.Groups[0] != -3 || p.Groups[1] != -2 {
		t.Fatalf("selection = %v, want [-3 -2]", p.Groups)
	}
}
