// Package host implements the Kayton Host Facade: the process-wide
// table of live contexts, each with its own handle store and extension
// registry, plus the frozen abi.VTable that the VM and host extensions
// call through to reach them.
//
// Every exported entry point takes a context id first and looks the
// context up in a single process-wide map; nothing here ever hands out
// a Go pointer across the boundary a real dynamic-library ABI would
// have, which is the point of routing everything through abi.ContextId.
package host

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-stack/stack"
	"github.com/google/uuid"

	"github.com/kayton-lang/kayton/pkg/abi"
	"github.com/kayton-lang/kayton/pkg/api"
)

var (
	contextsMu sync.Mutex
	contexts   = map[abi.ContextId]*contextState{}
	nextID     uint64 = 1
)

func registerContext(state *contextState) abi.ContextId {
	id := abi.ContextId(atomic.AddUint64(&nextID, 1) - 1)
	contextsMu.Lock()
	contexts[id] = state
	contextsMu.Unlock()
	return id
}

func unregisterContext(id abi.ContextId) {
	contextsMu.Lock()
	delete(contexts, id)
	contextsMu.Unlock()
}

func lookup(id abi.ContextId) (*contextState, *abi.Error) {
	contextsMu.Lock()
	state, ok := contexts[id]
	contextsMu.Unlock()
	if !ok {
		return nil, abi.NewError(abi.NotFound, "context not found")
	}
	return state, nil
}

// withContext resolves id to its contextState and runs f against it.
func withContext[T any](id abi.ContextId, f func(*contextState) (T, *abi.Error)) (T, *abi.Error) {
	var zero T
	state, err := lookup(id)
	if err != nil {
		return zero, err
	}
	return f(state)
}

// storedValue is the handle store's internal representation of a
// value. Only the field matching kind is meaningful.
type storedValue struct {
	kind           abi.ValueKindTag
	intVal         int64
	boolVal        bool
	stringVal      string
	bytesVal       []byte
	capsuleTag     string
	capsulePayload any
}

func (v storedValue) describe() abi.ValueKind {
	return abi.ValueKind{
		Tag:        v.kind,
		Int:        v.intVal,
		Bool:       v.boolVal,
		String:     v.stringVal,
		Bytes:      v.bytesVal,
		CapsuleTag: v.capsuleTag,
	}
}

type handleEntry struct {
	value storedValue
	refs  uint64
}

// contextState holds one context's handle store and extension
// registry behind their own locks, mirroring the reference
// implementation's per-field mutexes rather than one coarse lock.
type contextState struct {
	handlesMu  sync.Mutex
	handles    map[abi.HandleId]*handleEntry
	nextHandle uint64

	extMu      sync.Mutex
	extensions []api.Extension
	nameToSlot map[string]abi.HostSlot

	// traceID has no effect on ABI semantics; it exists purely so log
	// lines from different contexts running concurrently can be told
	// apart without leaking the monotonic ContextId as a correlation key.
	traceID uuid.UUID
}

func newContextState() *contextState {
	return &contextState{
		handles:    make(map[abi.HandleId]*handleEntry),
		nextHandle: 1,
		nameToSlot: make(map[string]abi.HostSlot),
		traceID:    uuid.New(),
	}
}

func (s *contextState) allocValue(value storedValue) abi.HandleId {
	s.handlesMu.Lock()
	defer s.handlesMu.Unlock()
	id := abi.HandleId(s.nextHandle)
	s.nextHandle++
	s.handles[id] = &handleEntry{value: value, refs: 1}
	return id
}

func (s *contextState) incRef(handle abi.HandleId) *abi.Error {
	s.handlesMu.Lock()
	defer s.handlesMu.Unlock()
	entry, ok := s.handles[handle]
	if !ok {
		return abi.NewError(abi.NotFound, "handle not found")
	}
	entry.refs++
	return nil
}

func (s *contextState) decRef(handle abi.HandleId) *abi.Error {
	s.handlesMu.Lock()
	defer s.handlesMu.Unlock()
	entry, ok := s.handles[handle]
	if !ok {
		return abi.NewError(abi.NotFound, "handle not found")
	}
	if entry.refs == 0 {
		return abi.NewError(abi.GeneralFailure, "invalid refcount state")
	}
	entry.refs--
	if entry.refs == 0 {
		delete(s.handles, handle)
	}
	return nil
}

func (s *contextState) inspect(handle abi.HandleId) (abi.ValueKind, *abi.Error) {
	s.handlesMu.Lock()
	defer s.handlesMu.Unlock()
	entry, ok := s.handles[handle]
	if !ok {
		return abi.ValueKind{}, abi.NewError(abi.NotFound, "handle not found")
	}
	return entry.value.describe(), nil
}

func (s *contextState) capsuleData(handle abi.HandleId) (abi.CapsuleData, *abi.Error) {
	s.handlesMu.Lock()
	defer s.handlesMu.Unlock()
	entry, ok := s.handles[handle]
	if !ok {
		return abi.CapsuleData{}, abi.NewError(abi.NotFound, "handle not found")
	}
	if entry.value.kind != abi.KindCapsule {
		return abi.CapsuleData{}, abi.NewError(abi.TypeMismatch, "value is not a capsule")
	}
	return abi.CapsuleData{Tag: entry.value.capsuleTag, Payload: entry.value.capsulePayload}, nil
}

func (s *contextState) registerExtension(ext api.Extension) (abi.HostSlot, *abi.Error) {
	s.extMu.Lock()
	defer s.extMu.Unlock()
	if _, exists := s.nameToSlot[ext.Name]; exists {
		return 0, abi.NewError(abi.AlreadyExists, fmt.Sprintf("extension `%s` already registered", ext.Name))
	}
	slot := abi.HostSlot(len(s.extensions))
	s.extensions = append(s.extensions, ext)
	s.nameToSlot[ext.Name] = slot
	return slot, nil
}

func (s *contextState) extensionBySlot(slot abi.HostSlot) (api.Extension, *abi.Error) {
	s.extMu.Lock()
	defer s.extMu.Unlock()
	if int(slot) >= len(s.extensions) {
		return api.Extension{}, abi.NewError(abi.NotFound, fmt.Sprintf("extension slot %d not found", slot))
	}
	return s.extensions[slot], nil
}

func (s *contextState) extensionByName(name string) (abi.HostSlot, api.Extension, *abi.Error) {
	s.extMu.Lock()
	slot, ok := s.nameToSlot[name]
	s.extMu.Unlock()
	if !ok {
		return 0, api.Extension{}, abi.NewError(abi.NotFound, "extension not found")
	}
	ext, err := s.extensionBySlot(slot)
	return slot, ext, err
}

// VTable is the process-wide frozen vtable every Context is built with.
// It is the Go equivalent of the reference implementation's static
// VTABLE: one value, shared by every context, whose functions all take
// a context id as their first argument.
var VTable = &abi.VTable{
	AllocInt:        allocInt,
	AllocBool:       allocBool,
	AllocString:     allocString,
	AllocBytes:      allocBytes,
	AllocUnit:       allocUnit,
	IncRef:          incRef,
	DecRef:          decRef,
	Inspect:         inspect,
	CallHost:        callHost,
	CallHostDynamic: callHostDynamic,
	NewCapsule:      newCapsule,
	CapsuleData:     capsuleData,
}

func allocInt(id abi.ContextId, value int64) (abi.HandleId, *abi.Error) {
	return withContext(id, func(s *contextState) (abi.HandleId, *abi.Error) {
		return s.allocValue(storedValue{kind: abi.KindInt, intVal: value}), nil
	})
}

func allocBool(id abi.ContextId, value bool) (abi.HandleId, *abi.Error) {
	return withContext(id, func(s *contextState) (abi.HandleId, *abi.Error) {
		return s.allocValue(storedValue{kind: abi.KindBool, boolVal: value}), nil
	})
}

func allocString(id abi.ContextId, value string) (abi.HandleId, *abi.Error) {
	return withContext(id, func(s *contextState) (abi.HandleId, *abi.Error) {
		return s.allocValue(storedValue{kind: abi.KindString, stringVal: value}), nil
	})
}

func allocBytes(id abi.ContextId, value []byte) (abi.HandleId, *abi.Error) {
	return withContext(id, func(s *contextState) (abi.HandleId, *abi.Error) {
		cp := append([]byte(nil), value...)
		return s.allocValue(storedValue{kind: abi.KindBytes, bytesVal: cp}), nil
	})
}

func allocUnit(id abi.ContextId) (abi.HandleId, *abi.Error) {
	return withContext(id, func(s *contextState) (abi.HandleId, *abi.Error) {
		return s.allocValue(storedValue{kind: abi.KindUnit}), nil
	})
}

func incRef(id abi.ContextId, handle abi.HandleId) *abi.Error {
	_, err := withContext(id, func(s *contextState) (struct{}, *abi.Error) {
		return struct{}{}, s.incRef(handle)
	})
	return err
}

func decRef(id abi.ContextId, handle abi.HandleId) *abi.Error {
	_, err := withContext(id, func(s *contextState) (struct{}, *abi.Error) {
		return struct{}{}, s.decRef(handle)
	})
	return err
}

func inspect(id abi.ContextId, handle abi.HandleId) (abi.ValueKind, *abi.Error) {
	return withContext(id, func(s *contextState) (abi.ValueKind, *abi.Error) {
		return s.inspect(handle)
	})
}

func newCapsule(id abi.ContextId, spec abi.CapsuleSpec) (abi.HandleId, *abi.Error) {
	return withContext(id, func(s *contextState) (abi.HandleId, *abi.Error) {
		return s.allocValue(storedValue{kind: abi.KindCapsule, capsuleTag: spec.Tag, capsulePayload: spec.Payload}), nil
	})
}

func capsuleData(id abi.ContextId, handle abi.HandleId) (abi.CapsuleData, *abi.Error) {
	return withContext(id, func(s *contextState) (abi.CapsuleData, *abi.Error) {
		return s.capsuleData(handle)
	})
}

func callHost(id abi.ContextId, slot abi.HostSlot, args []abi.HandleId) (abi.HandleId, *abi.Error) {
	return withContext(id, func(s *contextState) (abi.HandleId, *abi.Error) {
		ext, err := s.extensionBySlot(slot)
		if err != nil {
			return 0, err
		}
		return invokeExtension(id, ext, args)
	})
}

func callHostDynamic(id abi.ContextId, name string, args []abi.HandleId) (abi.HandleId, *abi.Error) {
	return withContext(id, func(s *contextState) (abi.HandleId, *abi.Error) {
		_, ext, err := s.extensionByName(name)
		if err != nil {
			return 0, err
		}
		return invokeExtension(id, ext, args)
	})
}

// invokeExtension clones each argument handle into the extension's own
// ownership for the duration of the call, releasing those clones
// afterward, and hands off the result handle's refcount to the raw id
// it returns across the boundary (the Go analogue of the reference
// implementation's mem::forget).
func invokeExtension(id abi.ContextId, ext api.Extension, args []abi.HandleId) (result abi.HandleId, outErr *abi.Error) {
	ctx := api.FromRaw(abi.Context{ID: id, VTable: VTable})

	handles := make([]*api.Handle, 0, len(args))
	defer func() {
		for _, h := range handles {
			_ = h.Release()
		}
	}()
	for _, raw := range args {
		h, err := ctx.CloneRaw(raw)
		if err != nil {
			return 0, err.(*abi.Error)
		}
		handles = append(handles, h)
	}

	defer func() {
		if r := recover(); r != nil {
			trace := stack.Trace().TrimRuntime()
			outErr = abi.NewError(abi.Panic, fmt.Sprintf("extension `%s` panicked: %v\n%v", ext.Name, r, trace))
		}
	}()

	res, err := ext.Call(ctx, handles)
	if err != nil {
		return 0, asAbiError(err)
	}
	return res.Raw(), nil
}

func asAbiError(err error) *abi.Error {
	if err == nil {
		return nil
	}
	if abiErr, ok := err.(*abi.Error); ok {
		return abiErr
	}
	return abi.NewError(abi.GeneralFailure, err.Error())
}

// Host owns one context for the lifetime of the process section using
// it: typically one per VM run. Close removes it from the process-wide
// table so its resources (and any capsule payloads it still holds) can
// be garbage collected.
type Host struct {
	context abi.Context
	state   *contextState
}

// New creates a fresh context and returns the Host that owns it.
func New() *Host {
	state := newContextState()
	ctx := abi.Context{VTable: VTable}
	ctx.ID = registerContext(state)
	return &Host{context: ctx, state: state}
}

// Context returns the raw abi.Context for this host's context.
func (h *Host) Context() abi.Context { return h.context }

// APICtx returns the ergonomic api.Ctx wrapper for this host's context.
func (h *Host) APICtx() api.Ctx { return api.FromRaw(h.context) }

// TraceID is a diagnostic correlation id, distinct from the ABI's
// monotonic ContextId, suitable for log lines.
func (h *Host) TraceID() uuid.UUID { return h.state.traceID }

// RegisterExtension adds a single extension to the context's registry.
func (h *Host) RegisterExtension(ext api.Extension) (abi.HostSlot, error) {
	slot, err := h.state.registerExtension(ext)
	if err != nil {
		return 0, err
	}
	return slot, nil
}

// RegisterExtensions registers each extension in order, stopping at the
// first failure (typically a duplicate name).
func (h *Host) RegisterExtensions(exts []api.Extension) error {
	for _, ext := range exts {
		if _, err := h.RegisterExtension(ext); err != nil {
			return err
		}
	}
	return nil
}

// Resolve looks up a registered extension's slot by name.
func (h *Host) Resolve(name string) (abi.HostSlot, bool) {
	slot, _, err := h.state.extensionByName(name)
	if err != nil {
		return 0, false
	}
	return slot, true
}

// Close removes the context from the process-wide table. Using the
// Host after Close causes every vtable call to fail with NotFound.
func (h *Host) Close() {
	unregisterContext(h.context.ID)
}
