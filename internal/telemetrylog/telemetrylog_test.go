package telemetrylog

import "testing"

func TestNopDoesNotPanic(t *testing.T) {
	l := NewNop()
	l.Critical("x %d", 1)
	l.Error("x %d", 1)
	l.Warning("x %d", 1)
	l.Info("x %d", 1)
	l.Debug("x %d", 1)
}

func TestNewProductionBuilds(t *testing.T) {
	l, err := NewProduction()
	if err != nil {
		t.Fatalf("NewProduction: %v", err)
	}
	if l.Info == nil {
		t.Fatal("expected Info to be set")
	}
}
