package fserrors_test

import (
	"errors"
	"testing"

	"github.com/tikaszar/playground-fabric/fserrors"
)

func TestWrap_UnwrapReturnsInner(t *testing.T) {
	inner := errors.New("boom")
	err := fserrors.Wrap(fserrors.ConcernCodec, fserrors.StageDecode, fserrors.CodeMalformedFrame, inner)

	if !errors.Is(err, inner) {
		t.Fatalf("errors.Is(err, inner) = false, want true")
	}
}

func TestWrap_NilInnerStillFormats(t *testing.T) {
	err := fserrors.Wrap(fserrors.ConcernRegistry, fserrors.StageRegister, fserrors.CodeRangeExhausted, nil)
	if err.Error() == "" {
		t.Fatal("expected non-empty error string")
	}
}

func TestIs_MatchesCode(t *testing.T) {
	err := fserrors.Wrap(fserrors.ConcernBatcher, fserrors.StageEnqueue, fserrors.CodeOverloaded, nil)
	if !fserrors.Is(err, fserrors.CodeOverloaded) {
		t.Fatal("expected Is to match CodeOverloaded")
	}
	if fserrors.Is(err, fserrors.CodeMalformedFrame) {
		t.Fatal("expected Is to not match a different code")
	}
}

func TestIs_NonFSErrorIsFalse(t *testing.T) {
	if fserrors.Is(errors.New("plain"), fserrors.CodeOverloaded) {
		t.Fatal("expected Is to return false for a plain error")
	}
}
