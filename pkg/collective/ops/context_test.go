package ops

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttr(t *testing.T) {
	ctx := NewExecutionContext(0, nil).
		WithAttr("ring_id", int32(3)).
		WithAttr("flag", true).
		WithAttr("shape", []int{2, 3})

	ringID, err := Attr[int](ctx, "ring_id")
	require.NoError(t, err)
	assert.Equal(t, 3, ringID)
	ringID64, err := Attr[int64](ctx, "ring_id")
	require.NoError(t, err)
	assert.Equal(t, int64(3), ringID64)

	flag, err := Attr[bool](ctx, "flag")
	require.NoError(t, err)
	assert.True(t, flag)

	shape, err := Attr[[]int](ctx, "shape")
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, shape)

	_, err = Attr[bool](ctx, "ring_id")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidArgument))
	assert.Contains(t, err.Error(), "expected bool")

	_, err = Attr[int](ctx, "missing")
	assert.True(t, errors.Is(err, ErrInvalidArgument))
}

func TestCategorize(t *testing.T) {
	assert.NoError(t, categorize(ErrTransport, nil))
	cause := errors.New("link down")
	err := errors.WithMessage(categorize(ErrTransport, cause), "send_v2")
	assert.True(t, errors.Is(err, ErrTransport))
	assert.False(t, errors.Is(err, ErrInvalidArgument))
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, "send_v2: transport failure: link down", err.Error())
}
