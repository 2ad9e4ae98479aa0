package camerr

import (
	"errors"
	"io"
	"strings"
	"testing"
)

func TestError_Is(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind error
	}{
		{"invalid argument", InvalidArgument("lookup", "unknown stream %d", 7), ErrInvalidArgument},
		{"unrecoverable", Unrecoverable("enqueue", "queue full"), ErrUnrecoverable},
		{"exhausted", New("allocate", ErrResourceExhausted, "raw limit %d", 1), ErrResourceExhausted},
		{"precondition", Wrap("release", ErrFailedPrecondition, nil), ErrFailedPrecondition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.kind) {
				t.Errorf("errors.Is(%v, %v) = false", tt.err, tt.kind)
			}
			if KindOf(tt.err) != tt.kind {
				t.Errorf("KindOf() = %v, want %v", KindOf(tt.err), tt.kind)
			}
		})
	}
}

func TestError_WrapKeepsCause(t *testing.T) {
	err := Wrap("dequeue_request", ErrUnrecoverable, io.ErrUnexpectedEOF)

	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Error("cause should be reachable through errors.Is")
	}
	if !errors.Is(err, ErrUnrecoverable) {
		t.Error("kind should be reachable through errors.Is")
	}
	if !strings.HasPrefix(err.Error(), "dequeue_request: unrecoverable") {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestKindOf_Plain(t *testing.T) {
	if KindOf(errors.New("plain")) != nil {
		t.Error("plain errors have no kind")
	}
	if KindOf(nil) != nil {
		t.Error("nil has no kind")
	}
}
