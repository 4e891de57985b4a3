package scheduler

import "testing"

func TestNewRegistersSweep(t *testing.T) {
	called := false
	s, err := New(func() { called = true })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s.Start()
	s.Stop()
	// The sweep only fires at UTC midnight; registration succeeding and a
	// clean start/stop cycle is what this test pins down.
	_ = called
}

func TestStopIsIdempotentAfterStart(t *testing.T) {
	s, err := New(func() {})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s.Start()
	s.Stop()
	s.Stop()
}
