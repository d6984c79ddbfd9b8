package limits

import (
	"errors"
	"testing"
	"time"

	lua "github.com/yuin/gopher-lua"
)

func TestRunCompletesUnderLimit(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	err := Run(L, Limits{Timeout: time.Second}, func() error {
		return L.DoString(`x = 1 + 1`)
	})
	if err != nil {
		t.Fatalf("short script failed: %v", err)
	}
}

func TestRunStopsBusyLoop(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	start := time.Now()
	err := Run(L, Limits{Timeout: 50 * time.Millisecond}, func() error {
		// No function calls, no yields: interruption must not
		// depend on the script's control flow shape.
		return L.DoString(`while true do end`)
	})
	elapsed := time.Since(start)

	if !IsTimeout(err) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if elapsed > 2*time.Second {
		t.Errorf("interrupt took %s", elapsed)
	}
}

func TestStateUsableAfterTimeout(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	err := Run(L, Limits{Timeout: 50 * time.Millisecond}, func() error {
		return L.DoString(`while true do end`)
	})
	if !IsTimeout(err) {
		t.Fatalf("expected timeout, got %v", err)
	}

	// The same state must execute the next invocation normally.
	err = Run(L, Limits{Timeout: time.Second}, func() error {
		return L.DoString(`recovered = 42`)
	})
	if err != nil {
		t.Fatalf("state unusable after timeout: %v", err)
	}
	if v := L.GetGlobal("recovered"); lua.LVAsNumber(v) != 42 {
		t.Errorf("recovered = %v", v)
	}
}

func TestUnlimitedRunsWithoutContext(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	err := Run(L, Unlimited, func() error {
		return L.DoString(`for i = 1, 1000 do end`)
	})
	if err != nil {
		t.Fatalf("unlimited run failed: %v", err)
	}
}

func TestScriptErrorIsNotTimeout(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	err := Run(L, Limits{Timeout: time.Second}, func() error {
		return L.DoString(`error("deliberate")`)
	})
	if err == nil {
		t.Fatal("expected script error")
	}
	if IsTimeout(err) {
		t.Error("script error misclassified as timeout")
	}
	if !IsScriptError(err) {
		t.Errorf("expected script error classification, got %T", err)
	}
}

func TestErrorMessage(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	err := L.DoString(`error("boom")`)
	if err == nil {
		t.Fatal("expected error")
	}
	msg := ErrorMessage(err)
	if msg == "" {
		t.Error("empty message for script error")
	}

	plain := errors.New("host side")
	if ErrorMessage(plain) != "host side" {
		t.Errorf("plain error message = %q", ErrorMessage(plain))
	}
}
