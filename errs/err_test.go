package errs

import (
	"errors"
	"strings"
	"testing"
)

func TestErr(t *testing.T) {
	err := DiscoveryMiss.Printf("/UserService/Login not found")
	if !errors.Is(err, DiscoveryMiss) {
		t.Fatalf("errors.Is should match by code, got %v", err)
	}
	if errors.Is(err, Transport) {
		t.Fatalf("errors.Is should not match a different code")
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Fatalf("augmented desc lost, got %q", err.Error())
	}
	if err.Code() != ErrCode_DiscoveryMiss {
		t.Fatalf("code changed by Printf: %d", err.Code())
	}
}

func TestWrapError(t *testing.T) {
	plain := errors.New("boom")
	wrapped := WrapError(plain)
	if wrapped.Code() != ErrCode_Unknown {
		t.Fatalf("plain error should wrap as unknown, got %d", wrapped.Code())
	}
	again := WrapError(wrapped)
	if again.Code() != wrapped.Code() || again.Error() != wrapped.Error() {
		t.Fatalf("re-wrap should keep the code error as is")
	}
}
