package fault

import (
	"fmt"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
)

type stockErr struct{}

func (stockErr) Error() string   { return "out of stock" }
func (stockErr) FaultKind() Kind { return KindInsufficientStock }

func TestKindOf(t *testing.T) {
	errMissing := New(KindNotFound, "thing not found")

	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{name: "nil", err: nil, want: KindUnknown},
		{name: "plain error", err: errors.New("boom"), want: KindUnknown},
		{name: "sentinel", err: errMissing, want: KindNotFound},
		{name: "wrapped sentinel", err: errors.Wrap(errMissing, "get"), want: KindNotFound},
		{name: "fmt wrapped", err: fmt.Errorf("outer: %w", errMissing), want: KindNotFound},
		{name: "typed error", err: errors.Wrap(stockErr{}, "place"), want: KindInsufficientStock},
		{name: "validation helper", err: Validation("price %s is negative", "-1"), want: KindValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestSentinelIdentity(t *testing.T) {
	a := New(KindConflict, "conflict")
	b := New(KindConflict, "conflict")

	assert.True(t, errors.Is(errors.Wrap(a, "x"), a))
	assert.False(t, errors.Is(a, b))
	assert.Equal(t, "price -1 is negative", Validation("price %d is negative", -1).Error())
}
