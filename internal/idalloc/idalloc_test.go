package idalloc

import (
	"context"
	"testing"
)

type fakeExister struct {
	taken map[uint64]bool
	calls int
}

func (f *fakeExister) ExistsSkinID(_ context.Context, id uint64) (bool, error) {
	f.calls++
	return f.taken[id], nil
}

func TestEncodeIsDeterministic(t *testing.T) {
	enc := NewEncoder(198491329, 212456257, 1103515245)
	a := enc.Encode(42)
	b := enc.Encode(42)
	if a != b {
		t.Fatalf("encoding not deterministic: %d != %d", a, b)
	}
}

func TestNewIDConsultsCatalog(t *testing.T) {
	enc := NewEncoder(198491329, 212456257, 1103515245)
	f := &fakeExister{taken: map[uint64]bool{}}
	alloc := New(enc, f)

	_, err := alloc.NewID(context.Background())
	if err != nil {
		t.Fatalf("NewID: %v", err)
	}
	if f.calls == 0 {
		t.Fatal("expected catalog to be consulted")
	}
}

func TestNewIDExhaustsAfterMaxTries(t *testing.T) {
	enc := NewEncoder(198491329, 212456257, 1103515245)
	f := &allTakenExister{}
	alloc := New(enc, f)

	_, err := alloc.NewID(context.Background())
	if err == nil {
		t.Fatal("expected FAILED_TO_CREATE_ID")
	}
	if f.calls != maxTries {
		t.Fatalf("expected exactly %d attempts, got %d", maxTries, f.calls)
	}
}

type allTakenExister struct{ calls int }

func (a *allTakenExister) ExistsSkinID(_ context.Context, _ uint64) (bool, error) {
	a.calls++
	return true, nil
}
