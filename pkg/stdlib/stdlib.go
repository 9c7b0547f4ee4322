// Package stdlib provides Kayton's built-in host extensions: the
// handful of operations every Kayton program gets without an explicit
// extension registration. Both are plain api.Extension values, wired
// into a host.Host's registry the same way any other embedder-supplied
// extension would be.
package stdlib

import (
	"fmt"

	"github.com/kayton-lang/kayton/pkg/abi"
	"github.com/kayton-lang/kayton/pkg/api"
)

// Extensions returns the built-in extension set, in registration order.
func Extensions() []api.Extension {
	return []api.Extension{printExtension, lenExtension}
}

var printExtension = api.Extension{
	Name:     "print",
	MinArity: 1,
	MaxArity: 1,
	Doc:      "print(value): writes a textual rendering of value to stdout, followed by a newline, and returns unit.",
	Callable: func(ctx api.Ctx, args []*api.Handle) (*api.Handle, error) {
		kind, err := args[0].Describe()
		if err != nil {
			return nil, err
		}
		fmt.Println(formatValue(kind))
		return ctx.AllocUnit()
	},
}

var lenExtension = api.Extension{
	Name:     "len",
	MinArity: 1,
	MaxArity: 1,
	Doc:      "len(value): returns the length of a string (in bytes) or a bytes value. Any other kind is a TypeMismatch.",
	Callable: func(ctx api.Ctx, args []*api.Handle) (*api.Handle, error) {
		kind, err := args[0].Describe()
		if err != nil {
			return nil, err
		}
		switch kind.Tag {
		case abi.KindString:
			return ctx.AllocInt(int64(len(kind.String)))
		case abi.KindBytes:
			return ctx.AllocInt(int64(len(kind.Bytes)))
		default:
			return nil, abi.NewError(abi.TypeMismatch, "len expects a string or bytes value")
		}
	},
}

// formatValue renders a value kind the way print does: primitives
// print their literal value, bytes print their length rather than raw
// content, and capsules print only their tag since their payload is
// opaque to guest code.
func formatValue(kind abi.ValueKind) string {
	switch kind.Tag {
	case abi.KindInt:
		return fmt.Sprintf("%d", kind.Int)
	case abi.KindBool:
		return fmt.Sprintf("%t", kind.Bool)
	case abi.KindString:
		return kind.String
	case abi.KindBytes:
		return fmt.Sprintf("bytes[%d]", len(kind.Bytes))
	case abi.KindUnit:
		return "()"
	case abi.KindCapsule:
		return fmt.Sprintf("<capsule %s>", kind.CapsuleTag)
	default:
		return "<unknown>"
	}
}
