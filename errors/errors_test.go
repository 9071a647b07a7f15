package errors

import (
	stderrors "errors"
	"strings"
	"testing"
)

func TestErrorMessage(t *testing.T) {
	err := TypeMismatch(PhaseTranslate, "u64", "bool")
	msg := err.Error()
	for _, want := range []string{"[translate]", "type_mismatch", "bool", "expected u64"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message %q missing %q", msg, want)
		}
	}
}

func TestErrorIsMatchesPhaseAndKind(t *testing.T) {
	err := RefInRef(PhaseAbiUnpack, "&&u64")
	if !stderrors.Is(err, New(PhaseAbiUnpack, KindRefInRef)) {
		t.Error("expected match on same phase and kind")
	}
	if stderrors.Is(err, New(PhaseAbiPack, KindRefInRef)) {
		t.Error("unexpected match across phases")
	}
	if stderrors.Is(err, New(PhaseAbiUnpack, KindTypeMismatch)) {
		t.Error("unexpected match across kinds")
	}
}

func TestWrapUnwraps(t *testing.T) {
	cause := stderrors.New("boom")
	err := Wrap(PhaseEntry, KindUnsupported, cause, "selector clash")
	if !stderrors.Is(err, cause) {
		t.Error("wrapped cause not reachable via errors.Is")
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Errorf("message %q missing cause", err.Error())
	}
}

func TestIndexFormatting(t *testing.T) {
	err := FieldMissing(PhaseTranslate, "Counter", 3)
	if !strings.Contains(err.Error(), "index 3") {
		t.Errorf("message %q missing index", err.Error())
	}
	if strings.Contains(New(PhaseEntry, KindUnsupported).Error(), "index") {
		t.Error("index should be omitted when not applicable")
	}
}
