package errors

import "testing"

func TestWrap(t *testing.T) {
	err := Wrap(errWrapped, "Hello, Wrapped!")
	if err.Error() != "Hello, Wrapped!, err: wrapped error" {
		t.Fatalf("error mismatch: %+v", err)
	}
}

func TestWrapf(t *testing.T) {
	err := Wrapf(errWrapped, "step %d", 7)
	if err.Error() != "step 7, err: wrapped error" {
		t.Fatalf("error mismatch: %+v", err)
	}

	if Wrapf(nil, "step %d", 7) != nil {
		t.Fatal("wrapping nil should stay nil")
	}
}
