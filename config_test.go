package objectpool

import (
	"bytes"
	"testing"
	"time"
)

func TestNewDefaultPoolConfigIsValid(t *testing.T) {
	if err := validateConfig(NewDefaultPoolConfig()); err != nil {
		t.Fatalf("validateConfig(default) = %v, want nil", err)
	}
}

func TestValidateConfigRejectsUnknownEvictionPolicy(t *testing.T) {
	cfg := NewDefaultPoolConfig()
	cfg.EvictionPolicyName = "does-not-exist"
	if err := validateConfig(cfg); err == nil {
		t.Fatal("validateConfig() = nil, want error for unknown eviction policy")
	}
}

func TestValidateConfigRequiresLogWriterWhenLogAbandoned(t *testing.T) {
	cfg := NewDefaultPoolConfig()
	cfg.Abandoned = &AbandonedConfig{LogAbandoned: true}
	if err := validateConfig(cfg); err == nil {
		t.Fatal("validateConfig() = nil, want error when LogAbandoned is set without a LogWriter")
	}
	cfg.Abandoned.LogWriter = &bytes.Buffer{}
	if err := validateConfig(cfg); err != nil {
		t.Fatalf("validateConfig() = %v, want nil once LogWriter is set", err)
	}
}

func TestWithMaxTotalPanicsBelowFloor(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("WithMaxTotal(-2) did not panic")
		}
	}()
	WithMaxTotal(-2)
}

func TestWithMinIdlePanicsOnNegative(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("WithMinIdle(-1) did not panic")
		}
	}()
	WithMinIdle(-1)
}

func TestNewObjectPoolRejectsInvalidConfig(t *testing.T) {
	f := newCountingFactory()
	_, err := NewObjectPool[*int](f, WithEvictionPolicyName("nonexistent"))
	if err == nil {
		t.Fatal("NewObjectPool() = nil error, want error for unknown eviction policy")
	}
}

func TestNewDefaultKeyedPoolConfigIsValid(t *testing.T) {
	if err := validateKeyedConfig(NewDefaultKeyedPoolConfig()); err != nil {
		t.Fatalf("validateKeyedConfig(default) = %v, want nil", err)
	}
}

func TestFormatAbandonedRecord(t *testing.T) {
	createTrace := "\tmain.dial\n\t\tmain.go:10"
	useTrace := "\tmain.query\n\t\tmain.go:20"
	got := formatAbandonedRecord(time.Now(), createTrace, useTrace)
	wantPrefix := "Pooled object created "
	if len(got) < len(wantPrefix) || got[:len(wantPrefix)] != wantPrefix {
		t.Fatalf("formatAbandonedRecord() = %q, want prefix %q", got, wantPrefix)
	}
	if !bytes.Contains([]byte(got), []byte(createTrace)) {
		t.Fatalf("formatAbandonedRecord() missing createTrace: %q", got)
	}
	if !bytes.Contains([]byte(got), []byte(useTrace)) {
		t.Fatalf("formatAbandonedRecord() missing useTrace: %q", got)
	}
}

func TestFormatAbandonedRecordFillsUnknownTraces(t *testing.T) {
	got := formatAbandonedRecord(time.Now(), "", "")
	if !bytes.Contains([]byte(got), []byte("unknown")) {
		t.Fatalf("formatAbandonedRecord() with empty traces = %q, want \"unknown\" fallback", got)
	}
}
