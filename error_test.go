package gorig

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestIsRecoverable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"plain", errors.New("boom"), true},
		{"nil", nil, true},
		{"wrapped unrecoverable", fmt.Errorf("open: %w", Unrecoverable(errors.New("boom"))), false},
		{"no reply", &NoReplyError{Name: "vfoa", Timeout: time.Second}, false},
		{"model", &ModelError{Code: "999"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRecoverable(tt.err); got != tt.want {
				t.Errorf("IsRecoverable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestModelError(t *testing.T) {
	err := fmt.Errorf("identify: %w", &ModelError{Code: "021"})
	if !errors.Is(err, ErrUnsupportedModel) {
		t.Errorf("errors.Is(%v, ErrUnsupportedModel) = false", err)
	}
}
