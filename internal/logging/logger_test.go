package logging

import "testing"

func TestPresetLoggers(t *testing.T) {
	def := DefaultConfig()
	if def.Development || def.Level != "info" {
		t.Fatalf("default config = %+v", def)
	}
	dev := DevelopmentConfig()
	if !dev.Development || dev.Level != "debug" {
		t.Fatalf("development config = %+v", dev)
	}

	if l := NewDefault(); l.Logger == nil {
		t.Fatal("NewDefault built no logger")
	}
	if l := NewDevelopment(); l.Logger == nil {
		t.Fatal("NewDevelopment built no logger")
	}
}

func TestNewRejectsBadLevel(t *testing.T) {
	if _, err := New(Config{Level: "shouty"}); err == nil {
		t.Fatal("bad level accepted")
	}
}

func TestEnvironmentDetection(t *testing.T) {
	t.Setenv("STRATA_ENV", "production")
	if !IsProduction() || IsDevelopment() {
		t.Fatal("STRATA_ENV=production not detected")
	}

	t.Setenv("STRATA_ENV", "")
	if IsProduction() || !IsDevelopment() {
		t.Fatal("empty STRATA_ENV treated as production")
	}
}
