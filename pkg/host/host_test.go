package host_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kayton-lang/kayton/pkg/abi"
	"github.com/kayton-lang/kayton/pkg/api"
	"github.com/kayton-lang/kayton/pkg/host"
)

func TestAllocAndInspectRoundTrip(t *testing.T) {
	h := host.New()
	defer h.Close()
	ctx := h.APICtx()

	handle, err := ctx.AllocInt(42)
	require.NoError(t, err)
	kind, err := handle.Describe()
	require.NoError(t, err)
	assert.Equal(t, abi.KindInt, kind.Tag)
	assert.Equal(t, int64(42), kind.Int)
}

func TestRefcountReleasesOnLastDecRef(t *testing.T) {
	h := host.New()
	defer h.Close()
	ctx := h.APICtx()

	handle, err := ctx.AllocString("owned once")
	require.NoError(t, err)
	clone, err := handle.Clone()
	require.NoError(t, err)

	require.NoError(t, handle.Release())
	// Still alive: clone holds a reference.
	_, err = clone.Describe()
	require.NoError(t, err)

	require.NoError(t, clone.Release())
	_, err = clone.Describe()
	require.Error(t, err)
	var abiErr *abi.Error
	require.ErrorAs(t, err, &abiErr)
	assert.Equal(t, abi.NotFound, abiErr.Code)
}

func TestRegisterDuplicateExtensionNameFails(t *testing.T) {
	h := host.New()
	defer h.Close()

	ext := api.Extension{Name: "dup", MinArity: 0, MaxArity: 0, Callable: func(ctx api.Ctx, args []*api.Handle) (*api.Handle, error) {
		return ctx.AllocUnit()
	}}
	_, err := h.RegisterExtension(ext)
	require.NoError(t, err)
	_, err = h.RegisterExtension(ext)
	require.Error(t, err)
	var abiErr *abi.Error
	require.ErrorAs(t, err, &abiErr)
	assert.Equal(t, abi.AlreadyExists, abiErr.Code)
}

func TestRegisterAndCallExtension(t *testing.T) {
	h := host.New()
	defer h.Close()

	double := api.Extension{
		Name:     "double",
		MinArity: 1,
		MaxArity: 1,
		Callable: func(ctx api.Ctx, args []*api.Handle) (*api.Handle, error) {
			n, err := api.IntFromKay(args[0])
			if err != nil {
				return nil, err
			}
			return ctx.AllocInt(n * 2)
		},
	}
	slot, err := h.RegisterExtension(double)
	require.NoError(t, err)

	ctx := h.APICtx()
	arg, err := ctx.AllocInt(21)
	require.NoError(t, err)
	result, err := ctx.CallSlot(slot, []*api.Handle{arg})
	require.NoError(t, err)
	n, err := api.IntFromKay(result)
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
}

func TestCallDynamicByName(t *testing.T) {
	h := host.New()
	defer h.Close()

	_, err := h.RegisterExtension(api.Extension{
		Name:     "negate",
		MinArity: 1,
		MaxArity: 1,
		Callable: func(ctx api.Ctx, args []*api.Handle) (*api.Handle, error) {
			b, err := api.BoolFromKay(args[0])
			if err != nil {
				return nil, err
			}
			return ctx.AllocBool(!b)
		},
	})
	require.NoError(t, err)

	ctx := h.APICtx()
	arg, err := ctx.AllocBool(true)
	require.NoError(t, err)
	result, err := ctx.CallDynamic("negate", []*api.Handle{arg})
	require.NoError(t, err)
	b, err := api.BoolFromKay(result)
	require.NoError(t, err)
	assert.False(t, b)
}

func TestExtensionPanicBecomesPanicError(t *testing.T) {
	h := host.New()
	defer h.Close()

	slot, err := h.RegisterExtension(api.Extension{
		Name:     "boom",
		MinArity: 0,
		MaxArity: 0,
		Callable: func(ctx api.Ctx, args []*api.Handle) (*api.Handle, error) {
			panic("kaboom")
		},
	})
	require.NoError(t, err)

	ctx := h.APICtx()
	_, err = ctx.CallSlot(slot, nil)
	require.Error(t, err)
	var abiErr *abi.Error
	require.ErrorAs(t, err, &abiErr)
	assert.Equal(t, abi.Panic, abiErr.Code)
}

func TestCapsuleRoundTrip(t *testing.T) {
	h := host.New()
	defer h.Close()
	ctx := h.APICtx()

	type payload struct{ value int }
	capsule, err := api.NewCapsule(ctx, "test.payload", &payload{value: 7})
	require.NoError(t, err)
	assert.Equal(t, "test.payload", capsule.Tag())

	got, err := capsule.Downcast("test.payload")
	require.NoError(t, err)
	assert.Equal(t, 7, got.(*payload).value)

	_, err = capsule.Downcast("wrong.tag")
	require.Error(t, err)
}

func TestUseAfterCloseFails(t *testing.T) {
	h := host.New()
	ctx := h.APICtx()
	h.Close()

	_, err := ctx.AllocInt(1)
	require.Error(t, err)
	var abiErr *abi.Error
	require.ErrorAs(t, err, &abiErr)
	assert.Equal(t, abi.NotFound, abiErr.Code)
}
