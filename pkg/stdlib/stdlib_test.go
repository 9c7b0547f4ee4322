package stdlib_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kayton-lang/kayton/pkg/abi"
	"github.com/kayton-lang/kayton/pkg/api"
	"github.com/kayton-lang/kayton/pkg/host"
	"github.com/kayton-lang/kayton/pkg/stdlib"
)

func TestLenOnStringAndBytes(t *testing.T) {
	h := host.New()
	defer h.Close()
	require.NoError(t, h.RegisterExtensions(stdlib.Extensions()))
	ctx := h.APICtx()

	slot, ok := h.Resolve("len")
	require.True(t, ok)

	str, err := ctx.AllocString("hi")
	require.NoError(t, err)
	result, err := ctx.CallSlot(slot, []*api.Handle{str})
	require.NoError(t, err)
	kind, err := result.Describe()
	require.NoError(t, err)
	assert.Equal(t, int64(2), kind.Int)

	bytes, err := ctx.AllocBytes([]byte{1, 2, 3})
	require.NoError(t, err)
	result, err = ctx.CallSlot(slot, []*api.Handle{bytes})
	require.NoError(t, err)
	kind, err = result.Describe()
	require.NoError(t, err)
	assert.Equal(t, int64(3), kind.Int)
}

func TestLenRejectsInt(t *testing.T) {
	h := host.New()
	defer h.Close()
	require.NoError(t, h.RegisterExtensions(stdlib.Extensions()))
	ctx := h.APICtx()

	slot, ok := h.Resolve("len")
	require.True(t, ok)

	n, err := ctx.AllocInt(1)
	require.NoError(t, err)
	_, err = ctx.CallSlot(slot, []*api.Handle{n})
	require.Error(t, err)
	var abiErr *abi.Error
	require.ErrorAs(t, err, &abiErr)
	assert.Equal(t, abi.TypeMismatch, abiErr.Code)
}

func TestPrintReturnsUnit(t *testing.T) {
	h := host.New()
	defer h.Close()
	require.NoError(t, h.RegisterExtensions(stdlib.Extensions()))
	ctx := h.APICtx()

	slot, ok := h.Resolve("print")
	require.True(t, ok)

	str, err := ctx.AllocString("hello, kayton")
	require.NoError(t, err)
	result, err := ctx.CallSlot(slot, []*api.Handle{str})
	require.NoError(t, err)
	kind, err := result.Describe()
	require.NoError(t, err)
	assert.Equal(t, abi.KindUnit, kind.Tag)
}
