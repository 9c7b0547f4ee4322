// Package api is the ergonomic layer host extensions are written against.
// It wraps the raw abi.VTable calls with a handle type that tracks its
// own context, typed accessors for each value kind, and a scope helper
// for releasing a batch of handles at once.
//
// Go has no destructors, so where the reference implementation relies on
// Drop to release a handle automatically, Handle here requires an
// explicit Release call. Forgetting one leaks a refcount inside the
// context's handle store rather than corrupting memory, which is the
// same failure mode the reference implementation accepts for handles
// that are leaked via mem::forget.
package api

import "github.com/kayton-lang/kayton/pkg/abi"

// Ctx is the ergonomic handle to a context: a context id plus the
// vtable to reach it through. Safe to copy and share across goroutines;
// every method just forwards to the vtable.
type Ctx struct {
	raw abi.Context
}

// FromRaw wraps a raw abi.Context.
func FromRaw(raw abi.Context) Ctx { return Ctx{raw: raw} }

// Raw returns the underlying abi.Context.
func (c Ctx) Raw() abi.Context { return c.raw }

func (c Ctx) AllocInt(value int64) (*Handle, error) {
	raw, err := c.raw.VTable.AllocInt(c.raw.ID, value)
	if err != nil {
		return nil, err
	}
	return newHandle(c, raw), nil
}

func (c Ctx) AllocBool(value bool) (*Handle, error) {
	raw, err := c.raw.VTable.AllocBool(c.raw.ID, value)
	if err != nil {
		return nil, err
	}
	return newHandle(c, raw), nil
}

func (c Ctx) AllocString(value string) (*Handle, error) {
	raw, err := c.raw.VTable.AllocString(c.raw.ID, value)
	if err != nil {
		return nil, err
	}
	return newHandle(c, raw), nil
}

func (c Ctx) AllocBytes(value []byte) (*Handle, error) {
	raw, err := c.raw.VTable.AllocBytes(c.raw.ID, value)
	if err != nil {
		return nil, err
	}
	return newHandle(c, raw), nil
}

func (c Ctx) AllocUnit() (*Handle, error) {
	raw, err := c.raw.VTable.AllocUnit(c.raw.ID)
	if err != nil {
		return nil, err
	}
	return newHandle(c, raw), nil
}

func (c Ctx) IncRef(raw abi.HandleId) error {
	return toErr(c.raw.VTable.IncRef(c.raw.ID, raw))
}

func (c Ctx) DecRef(raw abi.HandleId) error {
	return toErr(c.raw.VTable.DecRef(c.raw.ID, raw))
}

func (c Ctx) Inspect(raw abi.HandleId) (abi.ValueKind, error) {
	kind, err := c.raw.VTable.Inspect(c.raw.ID, raw)
	if err != nil {
		return abi.ValueKind{}, err
	}
	return kind, nil
}

// CallSlot invokes a registered extension by its host slot.
func (c Ctx) CallSlot(slot abi.HostSlot, args []*Handle) (*Handle, error) {
	raw, err := c.raw.VTable.CallHost(c.raw.ID, slot, rawIDs(args))
	if err != nil {
		return nil, err
	}
	return newHandle(c, raw), nil
}

// CallDynamic invokes a registered extension looked up by name.
func (c Ctx) CallDynamic(name string, args []*Handle) (*Handle, error) {
	raw, err := c.raw.VTable.CallHostDynamic(c.raw.ID, name, rawIDs(args))
	if err != nil {
		return nil, err
	}
	return newHandle(c, raw), nil
}

func (c Ctx) NewCapsule(tag string, payload any) (*Handle, error) {
	raw, err := c.raw.VTable.NewCapsule(c.raw.ID, abi.CapsuleSpec{Tag: tag, Payload: payload})
	if err != nil {
		return nil, err
	}
	return newHandle(c, raw), nil
}

func (c Ctx) CapsuleData(raw abi.HandleId) (abi.CapsuleData, error) {
	data, err := c.raw.VTable.CapsuleData(c.raw.ID, raw)
	if err != nil {
		return abi.CapsuleData{}, err
	}
	return data, nil
}

// HandleFromRaw wraps a raw handle id without touching its refcount.
// Use this only when the caller already owns the reference it's
// wrapping (for example, one just returned across the host bridge).
func (c Ctx) HandleFromRaw(raw abi.HandleId) *Handle {
	return newHandle(c, raw)
}

// CloneRaw increments the refcount of an existing raw handle id and
// wraps it, giving the caller its own owned Handle.
func (c Ctx) CloneRaw(raw abi.HandleId) (*Handle, error) {
	if err := c.IncRef(raw); err != nil {
		return nil, err
	}
	return newHandle(c, raw), nil
}

func rawIDs(handles []*Handle) []abi.HandleId {
	ids := make([]abi.HandleId, len(handles))
	for i, h := range handles {
		ids[i] = h.raw
	}
	return ids
}

func toErr(err *abi.Error) error {
	if err == nil {
		return nil
	}
	return err
}

// Handle is an owned reference to a value living in a context's handle
// store. Call Release when done with it; Clone to hand out another
// owned reference to the same value.
type Handle struct {
	ctx Ctx
	raw abi.HandleId
}

func newHandle(ctx Ctx, raw abi.HandleId) *Handle {
	return &Handle{ctx: ctx, raw: raw}
}

func (h *Handle) Ctx() Ctx { return h.ctx }

func (h *Handle) Raw() abi.HandleId { return h.raw }

// Describe returns the value kind currently stored behind this handle.
func (h *Handle) Describe() (abi.ValueKind, error) {
	return h.ctx.Inspect(h.raw)
}

// Clone increments the handle's refcount and returns a new owned
// Handle to the same value. The two handles must each be Released
// independently.
func (h *Handle) Clone() (*Handle, error) {
	if err := h.ctx.IncRef(h.raw); err != nil {
		return nil, err
	}
	return newHandle(h.ctx, h.raw), nil
}

// Release decrements the handle's refcount. Calling it more than once
// on the same Handle double-frees the underlying value; callers own
// that discipline the same way the reference implementation's Drop
// does exactly once per owned value.
func (h *Handle) Release() error {
	return h.ctx.DecRef(h.raw)
}

// Any is a type-erased wrapper around a Handle, for code that only
// needs to move a value around without inspecting it.
type Any struct {
	handle *Handle
}

func NewAny(handle *Handle) Any { return Any{handle: handle} }

func (a Any) Handle() *Handle { return a.handle }

func (a Any) Describe() (abi.ValueKind, error) { return a.handle.Describe() }

// Str is a Handle known to hold a string value.
type Str struct {
	handle *Handle
}

func NewStr(handle *Handle) (Str, error) {
	kind, err := handle.Describe()
	if err != nil {
		return Str{}, err
	}
	if kind.Tag != abi.KindString {
		return Str{}, typeMismatch("string", kind)
	}
	return Str{handle: handle}, nil
}

func (s Str) Handle() *Handle { return s.handle }

func (s Str) Value() (string, error) {
	kind, err := s.handle.Describe()
	if err != nil {
		return "", err
	}
	if kind.Tag != abi.KindString {
		return "", typeMismatch("string", kind)
	}
	return kind.String, nil
}

// Bytes is a Handle known to hold a bytes value.
type Bytes struct {
	handle *Handle
}

func NewBytes(handle *Handle) (Bytes, error) {
	kind, err := handle.Describe()
	if err != nil {
		return Bytes{}, err
	}
	if kind.Tag != abi.KindBytes {
		return Bytes{}, typeMismatch("bytes", kind)
	}
	return Bytes{handle: handle}, nil
}

func (b Bytes) Handle() *Handle { return b.handle }

func (b Bytes) Value() ([]byte, error) {
	kind, err := b.handle.Describe()
	if err != nil {
		return nil, err
	}
	if kind.Tag != abi.KindBytes {
		return nil, typeMismatch("bytes", kind)
	}
	return kind.Bytes, nil
}

// Capsule is a Handle known to hold an opaque, tagged host payload.
type Capsule struct {
	handle *Handle
	tag    string
}

// NewCapsule allocates a fresh capsule holding payload, tagged with tag.
func NewCapsule(ctx Ctx, tag string, payload any) (Capsule, error) {
	handle, err := ctx.NewCapsule(tag, payload)
	if err != nil {
		return Capsule{}, err
	}
	return Capsule{handle: handle, tag: tag}, nil
}

// CapsuleFromHandle wraps an existing handle known to be a capsule.
func CapsuleFromHandle(handle *Handle) (Capsule, error) {
	data, err := handle.ctx.CapsuleData(handle.raw)
	if err != nil {
		return Capsule{}, err
	}
	return Capsule{handle: handle, tag: data.Tag}, nil
}

func (c Capsule) Handle() *Handle { return c.handle }

func (c Capsule) Tag() string { return c.tag }

// Downcast returns the capsule's payload, failing if the stored tag
// doesn't match expectedTag. The payload is returned as `any`; its Go
// type is not checked here.
func (c Capsule) Downcast(expectedTag string) (any, error) {
	data, err := c.handle.ctx.CapsuleData(c.handle.raw)
	if err != nil {
		return nil, err
	}
	if data.Tag != expectedTag {
		return nil, abi.NewError(abi.TypeMismatch, "capsule tag mismatch: expected "+expectedTag+", found "+data.Tag)
	}
	return data.Payload, nil
}

func typeMismatch(expected string, found abi.ValueKind) error {
	return abi.NewError(abi.TypeMismatch, "expected "+expected+", found "+kindName(found))
}

func kindName(kind abi.ValueKind) string {
	switch kind.Tag {
	case abi.KindInt:
		return "int"
	case abi.KindBool:
		return "bool"
	case abi.KindString:
		return "string"
	case abi.KindBytes:
		return "bytes"
	case abi.KindUnit:
		return "unit"
	case abi.KindCapsule:
		return "capsule"
	default:
		return "unknown"
	}
}

// IntToKay, IntFromKay, and the following pairs mirror the reference
// implementation's ToKay/FromKay conversion traits as plain functions,
// since Go extension signatures are concrete rather than generic.

func IntToKay(ctx Ctx, value int64) (*Handle, error) { return ctx.AllocInt(value) }

func IntFromKay(handle *Handle) (int64, error) {
	kind, err := handle.Describe()
	if err != nil {
		return 0, err
	}
	if kind.Tag != abi.KindInt {
		return 0, typeMismatch("int", kind)
	}
	return kind.Int, nil
}

func BoolToKay(ctx Ctx, value bool) (*Handle, error) { return ctx.AllocBool(value) }

func BoolFromKay(handle *Handle) (bool, error) {
	kind, err := handle.Describe()
	if err != nil {
		return false, err
	}
	if kind.Tag != abi.KindBool {
		return false, typeMismatch("bool", kind)
	}
	return kind.Bool, nil
}

func StringToKay(ctx Ctx, value string) (*Handle, error) { return ctx.AllocString(value) }

func StringFromKay(handle *Handle) (string, error) {
	kind, err := handle.Describe()
	if err != nil {
		return "", err
	}
	if kind.Tag != abi.KindString {
		return "", typeMismatch("string", kind)
	}
	return kind.String, nil
}

func UnitToKay(ctx Ctx) (*Handle, error) { return ctx.AllocUnit() }

func UnitFromKay(handle *Handle) error {
	kind, err := handle.Describe()
	if err != nil {
		return err
	}
	if kind.Tag != abi.KindUnit {
		return typeMismatch("unit", kind)
	}
	return nil
}

// HandleScope batches the release of a group of handles. Extensions
// that allocate several intermediate handles before producing a final
// result can track them all here and Close the scope once instead of
// threading Release calls through every error path.
type HandleScope struct {
	ctx     Ctx
	handles []abi.HandleId
}

func NewHandleScope(ctx Ctx) *HandleScope {
	return &HandleScope{ctx: ctx}
}

// Track takes ownership of handle's reference (the caller must not call
// Release on it independently) and returns a ScopedHandle that can mint
// fresh owned clones until the scope closes.
func (s *HandleScope) Track(handle *Handle) *ScopedHandle {
	s.handles = append(s.handles, handle.raw)
	return &ScopedHandle{scope: s, raw: handle.raw}
}

// Close releases every handle tracked by the scope.
func (s *HandleScope) Close() error {
	var first error
	for _, raw := range s.handles {
		if err := s.ctx.DecRef(raw); err != nil && first == nil {
			first = err
		}
	}
	s.handles = nil
	return first
}

// ScopedHandle is a handle owned by a HandleScope. It cannot be
// released directly; instead callers mint a fresh owned Handle with
// ToHandle whenever they need to hand the value to code outside the
// scope.
type ScopedHandle struct {
	scope *HandleScope
	raw   abi.HandleId
}

func (s *ScopedHandle) Raw() abi.HandleId { return s.raw }

func (s *ScopedHandle) ToHandle() (*Handle, error) {
	return s.scope.ctx.CloneRaw(s.raw)
}

// Extension describes a host function callable from guest bytecode.
// Callable receives already-owned Handles for each argument and must
// return an owned Handle for the result.
type Extension struct {
	Name     string
	Callable func(ctx Ctx, args []*Handle) (*Handle, error)
	MinArity int
	MaxArity int // -1 means unbounded
	Doc      string
}

// Call checks arity before invoking Callable.
func (e Extension) Call(ctx Ctx, args []*Handle) (*Handle, error) {
	if len(args) < e.MinArity {
		return nil, abi.NewError(abi.InvalidArgument, "expected at least "+itoa(e.MinArity)+" arguments")
	}
	if e.MaxArity >= 0 && len(args) > e.MaxArity {
		return nil, abi.NewError(abi.InvalidArgument, "expected at most "+itoa(e.MaxArity)+" arguments")
	}
	return e.Callable(ctx, args)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
