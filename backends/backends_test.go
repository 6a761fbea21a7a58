package backends_test

import (
	"testing"

	"github.com/gomlx/collective/backends"
	"github.com/gomlx/collective/backends/notimplemented"
	"github.com/gomlx/collective/pkg/core/dtypes"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// configuredBackend records the configuration it was created with.
type configuredBackend struct {
	notimplemented.Backend
	config string
}

func (b *configuredBackend) Name() string { return "configured" }

func TestNewWithConfig(t *testing.T) {
	backends.Register("configured", func(config string) backends.Backend {
		return &configuredBackend{config: config}
	})
	require.Contains(t, backends.List(), "configured")

	b := backends.NewWithConfig("configured:a=1,b=2")
	require.Equal(t, "configured", b.Name())
	assert.Equal(t, "a=1,b=2", b.(*configuredBackend).config)

	b = backends.NewWithConfig("configured")
	assert.Equal(t, "", b.(*configuredBackend).config)

	assert.Panics(t, func() { backends.NewWithConfig("unknown:x") })

	t.Setenv(backends.GOMLX_COLLECTIVE, "configured:from_env")
	b, err := backends.TryNew()
	require.NoError(t, err)
	assert.Equal(t, "from_env", b.(*configuredBackend).config)

	t.Setenv(backends.GOMLX_COLLECTIVE, "unknown:")
	_, err = backends.TryNew()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backends.New() failed")
}

func TestToDataType(t *testing.T) {
	for _, tc := range []struct {
		dtype dtypes.DType
		want  backends.DataType
	}{
		{dtypes.Int8, backends.DataInt8},
		{dtypes.Int16, backends.DataInt16},
		{dtypes.Int32, backends.DataInt32},
		{dtypes.Int64, backends.DataInt64},
		{dtypes.Uint8, backends.DataUint8},
		{dtypes.Uint16, backends.DataUint16},
		{dtypes.Uint32, backends.DataUint32},
		{dtypes.Uint64, backends.DataUint64},
		{dtypes.Float16, backends.DataFloat16},
		{dtypes.BFloat16, backends.DataBFloat16},
		{dtypes.Float32, backends.DataFloat32},
		{dtypes.Float64, backends.DataFloat64},
	} {
		got, err := backends.ToDataType(tc.dtype)
		require.NoError(t, err, "dtype %s", tc.dtype)
		assert.Equal(t, tc.want, got, "dtype %s", tc.dtype)
		assert.Equal(t, tc.dtype, got.DType())
		assert.Equal(t, tc.dtype.Size(), got.Size())
	}

	for _, dtype := range []dtypes.DType{dtypes.Bool, dtypes.Complex64, dtypes.Complex128, dtypes.InvalidDType} {
		got, err := backends.ToDataType(dtype)
		require.Error(t, err, "dtype %s", dtype)
		assert.True(t, errors.Is(err, backends.ErrUnmappedDType))
		assert.Equal(t, backends.DataInvalid, got)
	}
	assert.Len(t, backends.MappedDTypes(), 12)
	assert.False(t, backends.DataInvalid.IsValid())
	assert.Equal(t, 0, backends.DataInvalid.Size())
	assert.Equal(t, "bfp16", backends.DataBFloat16.String())
}

func TestStatus(t *testing.T) {
	assert.NoError(t, backends.StatusSuccess.Err())
	assert.True(t, backends.StatusSuccess.Ok())

	err := backends.StatusTimeout.Err()
	require.Error(t, err)
	assert.Equal(t, backends.StatusTimeout, backends.StatusOf(err))

	err = errors.WithMessage(backends.Errorf(backends.StatusTransfer, "link %d down", 3), "send")
	assert.Equal(t, backends.StatusTransfer, backends.StatusOf(err))
	assert.Contains(t, err.Error(), "link 3 down")
	assert.Contains(t, err.Error(), "transfer failure")

	assert.Equal(t, backends.StatusInternal, backends.StatusOf(errors.New("other")))
	assert.Equal(t, backends.StatusSuccess, backends.StatusOf(nil))
	assert.Equal(t, "Status(99)", backends.Status(99).String())
}
