package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/ValentinKolb/mvkv/lib/db"
)

func TestErrorCodes(t *testing.T) {
	err := Errorf(RetCNotFound, "key %q", "a")
	if !IsNotFound(err) {
		t.Errorf("Expected IsNotFound for %v", err)
	}
	if IsBusy(err) {
		t.Errorf("NotFound must not be Busy")
	}

	wrapped := fmt.Errorf("get: %w", err)
	if CodeOf(wrapped) != RetCNotFound {
		t.Errorf("Expected code to survive wrapping, got %s", CodeOf(wrapped))
	}
	if !errors.Is(wrapped, &Error{Code: RetCNotFound}) {
		t.Errorf("errors.Is should match by code")
	}
	if CodeOf(nil) != RetCSuccess || CodeOf(errors.New("x")) != RetCInternalError {
		t.Errorf("Unexpected codes for nil or foreign errors")
	}
}

func TestFromEngine(t *testing.T) {
	cases := map[error]RetCode{
		db.ErrNotFound:                         RetCNotFound,
		db.ErrCorrupted:                        RetCCorrupted,
		fmt.Errorf("%w: big", db.ErrTooBig):    RetCOutOfMemory,
		errors.New("disk on fire"):             RetCIOFailure,
		NewError(RetCBusy, "already a *Error"): RetCBusy,
	}
	for in, want := range cases {
		if got := CodeOf(FromEngine(in)); got != want {
			t.Errorf("FromEngine(%v) = %s, want %s", in, got, want)
		}
	}
	if FromEngine(nil) != nil {
		t.Errorf("FromEngine(nil) must be nil")
	}
}

func TestRetCodeString(t *testing.T) {
	if RetCCorrupted.String() != "Corrupted" {
		t.Errorf("Unexpected name %s", RetCCorrupted)
	}
	if RetCode(99).String() != "Unknown(99)" {
		t.Errorf("Unexpected name %s", RetCode(99))
	}
}
