package native

import (
	"fmt"
	"reflect"

	"github.com/ebitengine/purego"

	"github.com/starford/grandlibs/internal/apperr"
)

// Prototype declares one native entry point.
//
// Fn points at a func variable whose type carries the C argument and result
// types. For a checked prototype the C function returns an int status code
// and the Go func returns either error or (int32, error); Register installs
// a wrapper that translates the code through the library's CodeTable.
type Prototype struct {
	Symbol  string
	Fn      any
	Checked bool
}

var (
	errorType = reflect.TypeOf((*error)(nil)).Elem()
	int32Type = reflect.TypeOf(int32(0))
)

// Register binds every prototype against l. Symbols are resolved eagerly,
// so a library missing an entry point fails here rather than on first call.
// Register stops at the first failure; prototypes bound before it stay
// bound.
func (l *Library) Register(table CodeTable, protos ...Prototype) error {
	if err := table.Validate(); err != nil {
		return err
	}
	for _, p := range protos {
		if err := l.register(table, p); err != nil {
			return err
		}
	}
	return nil
}

func (l *Library) register(table CodeTable, p Prototype) (err error) {
	fail := func(msg string, cause error) error {
		return &apperr.BindingError{Library: l.name, Symbol: p.Symbol, Msg: msg, Err: cause}
	}

	fv := reflect.ValueOf(p.Fn)
	if !fv.IsValid() || fv.Kind() != reflect.Pointer || fv.IsNil() || fv.Elem().Kind() != reflect.Func {
		return fail(fmt.Sprintf("prototype target must be a pointer to a func variable, got %T", p.Fn), nil)
	}
	goType := fv.Elem().Type()
	if goType.IsVariadic() {
		return fail("variadic prototypes are not supported", nil)
	}

	addr, err := l.Symbol(p.Symbol)
	if err != nil {
		return err
	}

	// purego panics on argument or result types it cannot marshal.
	defer func() {
		if r := recover(); r != nil {
			err = fail("unsupported prototype "+goType.String(), fmt.Errorf("%v", r))
		}
	}()

	if !p.Checked {
		purego.RegisterFunc(p.Fn, addr)
		return nil
	}

	rawType, err := rawSignature(goType)
	if err != nil {
		return fail(err.Error(), nil)
	}
	raw := reflect.New(rawType)
	purego.RegisterFunc(raw.Interface(), addr)
	fv.Elem().Set(checkedWrapper(goType, raw.Elem(), table, p.Symbol))
	return nil
}

// rawSignature derives the C-facing signature of a checked Go func type:
// same parameters, a single int32 status result.
func rawSignature(goType reflect.Type) (reflect.Type, error) {
	switch {
	case goType.NumOut() == 1 && goType.Out(0) == errorType:
	case goType.NumOut() == 2 && goType.Out(0) == int32Type && goType.Out(1) == errorType:
	default:
		return nil, fmt.Errorf("checked prototype must return error or (int32, error), got %s", goType)
	}
	in := make([]reflect.Type, goType.NumIn())
	for i := range in {
		in[i] = goType.In(i)
	}
	return reflect.FuncOf(in, []reflect.Type{int32Type}, false), nil
}

func checkedWrapper(goType reflect.Type, raw reflect.Value, table CodeTable, symbol string) reflect.Value {
	withCode := goType.NumOut() == 2
	return reflect.MakeFunc(goType, func(args []reflect.Value) []reflect.Value {
		code := int32(raw.Call(args)[0].Int())
		errv := reflect.Zero(errorType)
		if cerr := table.Check(symbol, code); cerr != nil {
			errv = reflect.ValueOf(&cerr).Elem()
		}
		if withCode {
			return []reflect.Value{reflect.ValueOf(code), errv}
		}
		return []reflect.Value{errv}
	})
}
