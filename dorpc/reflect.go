package dorpc

import (
	"reflect"
	"strings"

	"github.com/distclass-go/dorpc/dcerr"
	"github.com/distclass-go/dorpc/wire"
)

// RemoteError lets a host method's returned error carry a specific
// exception name across the wire instead of the generic "Error" every
// plain error gets.
type RemoteError interface {
	error
	RemoteName() string
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// methodNameForSelector maps a selector such as "increment" or "setValue:"
// onto the exported Go method name this package's reflective dispatch looks
// for: "Increment", "SetValue". This convention is the boundary a real host
// dispatch trap would occupy (spec's host-dispatch interface is explicitly
// out of scope); reflection is the simplest thing that actually runs
// without a generated stub.
func methodNameForSelector(selector string) string {
	base := strings.TrimSuffix(selector, ":")
	if base == "" {
		return ""
	}
	return strings.ToUpper(base[:1]) + base[1:]
}

func findMethod(obj interface{}, selector string) (reflect.Value, bool) {
	name := methodNameForSelector(selector)
	if name == "" {
		return reflect.Value{}, false
	}
	v := reflect.ValueOf(obj).MethodByName(name)
	return v, v.IsValid()
}

// letterForKind maps a Go reflect.Kind onto this runtime's wire type
// letter, the inverse of argToReflectValue's decoding.
func letterForKind(k reflect.Kind) (byte, error) {
	switch k {
	case reflect.Int8:
		return 'c', nil
	case reflect.Uint8:
		return 'C', nil
	case reflect.Int16:
		return 's', nil
	case reflect.Uint16:
		return 'S', nil
	case reflect.Int32, reflect.Int:
		return 'i', nil
	case reflect.Uint32, reflect.Uint:
		return 'I', nil
	case reflect.Int64:
		return 'q', nil
	case reflect.Uint64:
		return 'Q', nil
	case reflect.Float32:
		return 'f', nil
	case reflect.Float64:
		return 'd', nil
	case reflect.Bool:
		return 'B', nil
	case reflect.String:
		return '*', nil
	case reflect.Slice:
		return 'b', nil
	default:
		return 0, dcerr.New(dcerr.KindEncodingMismatch, "unsupported reflect kind %s", k)
	}
}

// reflectSignature builds a TypeSig for selector on obj's matching method by
// reflecting on its parameter and (non-error) return types. Methods with no
// non-error return value answer "B:..." (a boolean completion ack), the
// convention invokeReflect's caller side also expects.
func reflectSignature(obj interface{}, selector string) (string, error) {
	m, ok := findMethod(obj, selector)
	if !ok {
		return "", dcerr.New(dcerr.KindNoSuchSelector, "no method for selector %q", selector)
	}
	t := m.Type()
	argElems := make([]string, t.NumIn())
	for i := 0; i < t.NumIn(); i++ {
		letter, err := letterForKind(t.In(i).Kind())
		if err != nil {
			return "", err
		}
		argElems[i] = string(letter)
	}
	retLetter := byte('B')
	for i := 0; i < t.NumOut(); i++ {
		if t.Out(i) == errorType {
			continue
		}
		letter, err := letterForKind(t.Out(i).Kind())
		if err != nil {
			return "", err
		}
		retLetter = letter
	}
	return wire.BuildTypeSig(string(retLetter), argElems), nil
}

// invokeReflect calls the selector's matching method on obj with inv's
// decoded arguments and encodes its result as a reply Arg.
func invokeReflect(obj interface{}, inv *wire.Invocation) (*wire.Arg, *dcerr.RemoteInfo) {
	m, ok := findMethod(obj, inv.Selector)
	if !ok {
		return nil, &dcerr.RemoteInfo{Name: "NoSuchSelector", Reason: inv.Selector}
	}
	t := m.Type()
	if t.NumIn() != len(inv.Args) {
		return nil, &dcerr.RemoteInfo{Name: "ArgumentError", Reason: "argument count mismatch"}
	}
	in := make([]reflect.Value, len(inv.Args))
	for i, a := range inv.Args {
		v, err := argToReflectValue(a, t.In(i))
		if err != nil {
			return nil, &dcerr.RemoteInfo{Name: "ArgumentError", Reason: err.Error()}
		}
		in[i] = v
	}
	out := m.Call(in)
	return resultToArg(out)
}

func argToReflectValue(a wire.Arg, want reflect.Type) (reflect.Value, error) {
	switch a.Letter {
	case '*', ':':
		return reflect.ValueOf(a.Str).Convert(want), nil
	case 'b', '^':
		return reflect.ValueOf(a.Blob).Convert(want), nil
	case '@', '#':
		return reflect.Value{}, dcerr.New(dcerr.KindEncodingMismatch, "object arguments are not supported by reflective dispatch")
	default:
		v := reflect.ValueOf(a.Prim)
		if !v.Type().ConvertibleTo(want) {
			return reflect.Value{}, dcerr.New(dcerr.KindEncodingMismatch, "cannot convert %s to %s", v.Type(), want)
		}
		return v.Convert(want), nil
	}
}

func resultToArg(out []reflect.Value) (*wire.Arg, *dcerr.RemoteInfo) {
	var value *reflect.Value
	for i := range out {
		if out[i].Type() == errorType {
			if !out[i].IsNil() {
				err := out[i].Interface().(error)
				if re, ok := err.(RemoteError); ok {
					return nil, &dcerr.RemoteInfo{Name: re.RemoteName(), Reason: re.Error()}
				}
				return nil, &dcerr.RemoteInfo{Name: "Error", Reason: err.Error()}
			}
			continue
		}
		v := out[i]
		value = &v
	}
	if value == nil {
		return &wire.Arg{Letter: 'B', Prim: true}, nil
	}
	letter, err := letterForKind(value.Kind())
	if err != nil {
		return nil, &dcerr.RemoteInfo{Name: "EncodingError", Reason: err.Error()}
	}
	switch letter {
	case '*':
		return &wire.Arg{Letter: '*', Str: value.String()}, nil
	case 'b':
		return &wire.Arg{Letter: 'b', Blob: value.Bytes()}, nil
	default:
		return &wire.Arg{Letter: letter, Prim: value.Interface()}, nil
	}
}
