package errors

import (
	stderrors "errors"
	"fmt"
	"io"
	"testing"
)

func TestErrorString(t *testing.T) {
	tests := []struct {
		err  *HostError
		want string
	}{
		{NotFoundError("Part_1"), "[NOT_FOUND] object 'Part_1' not found"},
		{LineProcessingError(12, "bad tag"), "[LINE_PROCESSING] bad tag (line 12)"},
		{Wrap(io.ErrUnexpectedEOF, ErrIO, "read print file").SetLine(3), "[IO] read print file (line 3): unexpected EOF"},
		{ConfigError("reptag", "must be specified"), "[CONFIG] option 'reptag': must be specified"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}

func TestIsAndCodeOf(t *testing.T) {
	err := fmt.Errorf("cancel: %w", ForbiddenError("cancel objects"))
	if !Is(err, ErrForbidden) {
		t.Errorf("Is(%v, FORBIDDEN) = false", err)
	}
	if Is(err, ErrNotFound) {
		t.Errorf("Is(%v, NOT_FOUND) = true", err)
	}
	if got := CodeOf(err); got != ErrForbidden {
		t.Errorf("CodeOf = %q", got)
	}
	if got := CodeOf(io.EOF); got != "" {
		t.Errorf("CodeOf(io.EOF) = %q, want empty", got)
	}

	var hostErr *HostError
	if !As(err, &hostErr) || hostErr.Code != ErrForbidden {
		t.Errorf("As did not find the HostError")
	}
}

func TestWrapUnwraps(t *testing.T) {
	err := Wrap(io.ErrClosedPipe, ErrStorage, "write")
	if !stderrors.Is(err, io.ErrClosedPipe) {
		t.Error("wrapped error not reachable through Unwrap")
	}
}

func TestRecoverPanic(t *testing.T) {
	if RecoverPanic(nil) != nil {
		t.Error("RecoverPanic(nil) should be nil")
	}
	if got := RecoverPanic("boom").Error(); got != "[RUNTIME] panic: boom" {
		t.Errorf("string panic = %q", got)
	}
	if err := RecoverPanic(io.EOF); !stderrors.Is(err, io.EOF) {
		t.Errorf("error panic should wrap the value, got %v", err)
	}
	if got := RecoverPanic(42).Error(); got != "[RUNTIME] panic: 42" {
		t.Errorf("int panic = %q", got)
	}
}

func TestSetContext(t *testing.T) {
	err := New(ErrStorage, "x").SetContext("path", "a.gcode").SetObject("A")
	if err.Context["path"] != "a.gcode" || err.Object != "A" {
		t.Errorf("context not recorded: %+v", err)
	}
}
