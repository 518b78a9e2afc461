package mailer

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestIsTemporary(t *testing.T) {
	down := errors.New("connection reset")
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "plain", err: errors.New("invalid recipient"), want: false},
		{name: "temporary", err: Temporary(down), want: true},
		{name: "wrapped temporary", err: fmt.Errorf("batch 2: %w", Temporary(down)), want: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsTemporary(tc.err); got != tc.want {
				t.Fatalf("IsTemporary(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestTemporaryKeepsCause(t *testing.T) {
	if Temporary(nil) != nil {
		t.Fatal("Temporary(nil) should stay nil")
	}
	err := Temporary(context.DeadlineExceeded)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want it to wrap the deadline", err)
	}
	if err.Error() != context.DeadlineExceeded.Error() {
		t.Fatalf("message = %q", err.Error())
	}
}
