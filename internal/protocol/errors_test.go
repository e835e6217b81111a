package protocol

import (
	"errors"
	"fmt"
	"io"
	"testing"
)

func TestErrorMatchesKindSentinelAndCause(t *testing.T) {
	err := Errorf(KindFraming, "header.read", io.ErrUnexpectedEOF)
	if !errors.Is(err, ErrFraming) {
		t.Fatalf("expected ErrFraming, got %v", err)
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected wrapped cause, got %v", err)
	}
	if errors.Is(err, ErrIntegrity) {
		t.Fatalf("framing error must not match integrity")
	}
	if KindOf(err) != KindFraming {
		t.Fatalf("unexpected kind=%s", KindOf(err))
	}
}

func TestErrorfKeepsInnermostKind(t *testing.T) {
	inner := Errorf(KindIdentity, "session.dial", errors.New("bad cert"))
	outer := Errorf(KindConnectivity, "transfer.send", fmt.Errorf("dial: %w", inner))
	if KindOf(outer) != KindIdentity {
		t.Fatalf("expected identity kind, got %s", KindOf(outer))
	}
	if !errors.Is(outer, ErrIdentityMismatch) {
		t.Fatalf("expected ErrIdentityMismatch, got %v", outer)
	}
}

func TestErrorfNil(t *testing.T) {
	if Errorf(KindIO, "x", nil) != nil {
		t.Fatalf("expected nil")
	}
	if KindOf(errors.New("plain")) != KindUnknown {
		t.Fatalf("expected unknown kind")
	}
}
