package source

import (
	"errors"
	"fmt"
	"testing"
)

func TestBundleIDLookupIsCaseInsensitive(t *testing.T) {
	for _, name := range []string{"Safari", "safari", "SAFARI"} {
		id, ok := BundleIDFor(name)
		if !ok {
			t.Fatalf("expected %q to resolve", name)
		}
		if id != "com.apple.Safari" {
			t.Fatalf("expected Safari bundle ID, got %q", id)
		}
	}
}

func TestBundleIDLookupUnknown(t *testing.T) {
	if _, ok := BundleIDFor("netscape navigator"); ok {
		t.Fatal("unknown browser should not resolve")
	}
}

func TestBundleIDAliases(t *testing.T) {
	full, _ := BundleIDFor("google chrome")
	short, ok := BundleIDFor("chrome")
	if !ok || short != full {
		t.Fatalf("expected alias to match full name: %q vs %q", short, full)
	}
}

func TestSupportedTargetsResolve(t *testing.T) {
	for _, name := range SupportedTargets() {
		id, ok := BundleIDFor(name)
		if !ok {
			t.Fatalf("supported target %q does not resolve", name)
		}
		if !KnownBundleID(id) {
			t.Fatalf("bundle ID %q not recognized as known", id)
		}
	}
}

func TestIsTransient(t *testing.T) {
	base := errors.New("stream refused to start")
	transient := &TransientError{Err: base}

	if !IsTransient(transient) {
		t.Fatal("TransientError should classify as transient")
	}
	if !IsTransient(fmt.Errorf("begin capture: %w", transient)) {
		t.Fatal("wrapped TransientError should classify as transient")
	}
	if IsTransient(base) {
		t.Fatal("plain error should not classify as transient")
	}
	if !errors.Is(transient, base) {
		t.Fatal("TransientError should unwrap to its cause")
	}
}
