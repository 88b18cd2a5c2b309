package runtime

import (
	"fmt"
	"strconv"
	"strings"

	"mlc/internal/value"
)

// RegisterBuiltins installs the default "builtin" host module: the
// function surface available to every program without an import. None
// of these require capabilities; print writes to the captured stdout,
// never the host stream.
func RegisterBuiltins(h *HostRegistry) error {
	entries := []HostEntry{
		{MLName: "print", Fn: builtinPrint, ReturnKind: "null"},
		{MLName: "len", Fn: builtinLen, ReturnKind: "number"},
		{MLName: "str", Fn: builtinStr, ReturnKind: "string"},
		{MLName: "int", Fn: builtinInt, ReturnKind: "number"},
		{MLName: "float", Fn: builtinFloat, ReturnKind: "number"},
		{MLName: "range", Fn: builtinRange, ReturnKind: "array"},
		{MLName: "typeof", Fn: builtinTypeof, ReturnKind: "string"},
		{MLName: "keys", Fn: builtinKeys, ReturnKind: "array"},
		{MLName: "values", Fn: builtinValues, ReturnKind: "array"},
	}
	return h.RegisterHostModule("builtin", entries)
}

func builtinPrint(rt *Runtime, args []value.Value) (value.Value, error) {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = value.ToString(a)
	}
	fmt.Fprintln(rt.Stdout, strings.Join(parts, " "))
	return nil, nil
}

func builtinLen(_ *Runtime, args []value.Value) (value.Value, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("len expects 1 argument, got %d", len(args))
	}
	switch x := args[0].(type) {
	case string:
		return int64(len([]rune(x))), nil
	case *value.Array:
		return int64(len(x.Elems)), nil
	case *value.Object:
		return int64(len(x.Entries)), nil
	}
	return nil, fmt.Errorf("len: unsupported type %s", value.TypeName(args[0]))
}

func builtinStr(_ *Runtime, args []value.Value) (value.Value, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("str expects 1 argument, got %d", len(args))
	}
	return value.ToString(args[0]), nil
}

func builtinInt(_ *Runtime, args []value.Value) (value.Value, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("int expects 1 argument, got %d", len(args))
	}
	switch x := args[0].(type) {
	case int64:
		return x, nil
	case float64:
		return int64(x), nil
	case bool:
		if x {
			return int64(1), nil
		}
		return int64(0), nil
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("int: cannot convert %q", x)
		}
		return i, nil
	}
	return nil, fmt.Errorf("int: unsupported type %s", value.TypeName(args[0]))
}

func builtinFloat(_ *Runtime, args []value.Value) (value.Value, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("float expects 1 argument, got %d", len(args))
	}
	switch x := args[0].(type) {
	case int64:
		return float64(x), nil
	case float64:
		return x, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return nil, fmt.Errorf("float: cannot convert %q", x)
		}
		return f, nil
	}
	return nil, fmt.Errorf("float: unsupported type %s", value.TypeName(args[0]))
}

func builtinRange(_ *Runtime, args []value.Value) (value.Value, error) {
	var start, stop, step int64 = 0, 0, 1
	get := func(i int) (int64, error) {
		n, ok := args[i].(int64)
		if !ok {
			return 0, fmt.Errorf("range: argument %d must be an integer", i+1)
		}
		return n, nil
	}
	var err error
	switch len(args) {
	case 1:
		stop, err = get(0)
	case 2:
		if start, err = get(0); err == nil {
			stop, err = get(1)
		}
	case 3:
		if start, err = get(0); err == nil {
			if stop, err = get(1); err == nil {
				step, err = get(2)
			}
		}
	default:
		return nil, fmt.Errorf("range expects 1-3 arguments, got %d", len(args))
	}
	if err != nil {
		return nil, err
	}
	if step == 0 {
		return nil, fmt.Errorf("range: step must not be zero")
	}
	var elems []value.Value
	if step > 0 {
		for i := start; i < stop; i += step {
			elems = append(elems, i)
		}
	} else {
		for i := start; i > stop; i += step {
			elems = append(elems, i)
		}
	}
	return &value.Array{Elems: elems}, nil
}

func builtinTypeof(_ *Runtime, args []value.Value) (value.Value, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("typeof expects 1 argument, got %d", len(args))
	}
	return value.TypeName(args[0]), nil
}

func builtinKeys(_ *Runtime, args []value.Value) (value.Value, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("keys expects 1 argument, got %d", len(args))
	}
	obj, ok := args[0].(*value.Object)
	if !ok {
		return nil, fmt.Errorf("keys: argument must be an object")
	}
	keys := obj.Keys()
	elems := make([]value.Value, len(keys))
	for i, k := range keys {
		elems[i] = k
	}
	return &value.Array{Elems: elems}, nil
}

func builtinValues(_ *Runtime, args []value.Value) (value.Value, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("values expects 1 argument, got %d", len(args))
	}
	obj, ok := args[0].(*value.Object)
	if !ok {
		return nil, fmt.Errorf("values: argument must be an object")
	}
	keys := obj.Keys()
	elems := make([]value.Value, len(keys))
	for i, k := range keys {
		elems[i] = obj.Entries[k]
	}
	return &value.Array{Elems: elems}, nil
}
