package app

import (
	"testing"
	"time"
)

func TestEnvString(t *testing.T) {
	t.Setenv("LOOM_TEST_STR", "  hello  ")
	if got := EnvString("LOOM_TEST_STR", "def"); got != "hello" {
		t.Fatalf("EnvString=%q want hello", got)
	}
	if got := EnvString("LOOM_TEST_STR_MISSING", "def"); got != "def" {
		t.Fatalf("EnvString missing=%q want def", got)
	}
}

func TestEnvStrings(t *testing.T) {
	t.Setenv("LOOM_TEST_CSV", " a, b ,, c ")
	got := EnvStrings("LOOM_TEST_CSV", "")
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("EnvStrings=%v want [a b c]", got)
	}

	def := EnvStrings("LOOM_TEST_CSV_MISSING", "x,y")
	if len(def) != 2 || def[0] != "x" || def[1] != "y" {
		t.Fatalf("EnvStrings default=%v want [x y]", def)
	}
}

func TestEnvBool(t *testing.T) {
	t.Setenv("LOOM_TEST_BOOL", "true")
	if !EnvBool("LOOM_TEST_BOOL", false) {
		t.Fatal("EnvBool=false want true")
	}
	t.Setenv("LOOM_TEST_BOOL", "not a bool")
	if EnvBool("LOOM_TEST_BOOL", false) {
		t.Fatal("invalid value should fall back to default")
	}
}

func TestEnvInt(t *testing.T) {
	t.Setenv("LOOM_TEST_INT", "42")
	if got := EnvInt("LOOM_TEST_INT", 7); got != 42 {
		t.Fatalf("EnvInt=%d want 42", got)
	}
	t.Setenv("LOOM_TEST_INT", "-3")
	if got := EnvInt("LOOM_TEST_INT", 7); got != 7 {
		t.Fatalf("non-positive should fall back: got %d want 7", got)
	}
}

func TestEnvDuration(t *testing.T) {
	t.Setenv("LOOM_TEST_DUR", "250ms")
	if got := EnvDuration("LOOM_TEST_DUR", time.Second); got != 250*time.Millisecond {
		t.Fatalf("EnvDuration=%v want 250ms", got)
	}
	t.Setenv("LOOM_TEST_DUR", "nope")
	if got := EnvDuration("LOOM_TEST_DUR", time.Second); got != time.Second {
		t.Fatalf("invalid should fall back: got %v want 1s", got)
	}
}
