package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type classedErr struct{}

func (classedErr) Error() string      { return "boom" }
func (classedErr) ErrorClass() string { return "push_transient" }

type plainErr struct{}

func (*plainErr) Error() string { return "plain" }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"classed wrapped", fmt.Errorf("dispatch: %w", classedErr{}), "push_transient"},
		{"deadline", fmt.Errorf("await: %w", context.DeadlineExceeded), "deadline_exceeded"},
		{"canceled", context.Canceled, "canceled"},
		{"pointer type", fmt.Errorf("wrap: %w", &plainErr{}), "errors_plainerr"},
		{"string error", errors.New("x"), "errors_errorstring"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}
