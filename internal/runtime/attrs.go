package runtime

import (
	"fmt"
	"sort"
	"strings"

	"mlc/internal/safeattr"
	"mlc/internal/value"
)

// builtinAttr materializes a whitelisted attribute: properties return
// their value directly, methods return a bound callable. The registry
// entry has already been authorized; this is pure dispatch.
func builtinAttr(rt *Runtime, recv value.Value, entry *safeattr.Entry) (value.Value, error) {
	switch entry.HostType {
	case safeattr.TypeString:
		return stringAttr(recv.(string), entry)
	case safeattr.TypeArray:
		return arrayAttr(recv.(*value.Array), entry)
	case safeattr.TypeObject:
		return objectAttr(recv.(*value.Object), entry)
	}
	return nil, &safeattr.NotSafeError{Attr: entry.Attr}
}

func method(name string, fn func(args []value.Value) (value.Value, error)) *Bound {
	return &Bound{Name: name, Call: fn}
}

func argString(args []value.Value, i int) (string, error) {
	if i >= len(args) {
		return "", fmt.Errorf("missing argument %d", i+1)
	}
	s, ok := args[i].(string)
	if !ok {
		return "", fmt.Errorf("argument %d must be a string", i+1)
	}
	return s, nil
}

func stringAttr(s string, entry *safeattr.Entry) (value.Value, error) {
	switch entry.Attr {
	case "length":
		return int64(len([]rune(s))), nil
	case "upper":
		return method("upper", func([]value.Value) (value.Value, error) {
			return strings.ToUpper(s), nil
		}), nil
	case "lower":
		return method("lower", func([]value.Value) (value.Value, error) {
			return strings.ToLower(s), nil
		}), nil
	case "trim":
		return method("trim", func([]value.Value) (value.Value, error) {
			return strings.TrimSpace(s), nil
		}), nil
	case "split":
		return method("split", func(args []value.Value) (value.Value, error) {
			sep, err := argString(args, 0)
			if err != nil {
				return nil, err
			}
			parts := strings.Split(s, sep)
			elems := make([]value.Value, len(parts))
			for i, p := range parts {
				elems[i] = p
			}
			return &value.Array{Elems: elems}, nil
		}), nil
	case "replace":
		return method("replace", func(args []value.Value) (value.Value, error) {
			old, err := argString(args, 0)
			if err != nil {
				return nil, err
			}
			new_, err := argString(args, 1)
			if err != nil {
				return nil, err
			}
			return strings.ReplaceAll(s, old, new_), nil
		}), nil
	case "contains":
		return method("contains", func(args []value.Value) (value.Value, error) {
			sub, err := argString(args, 0)
			if err != nil {
				return nil, err
			}
			return strings.Contains(s, sub), nil
		}), nil
	case "starts_with":
		return method("starts_with", func(args []value.Value) (value.Value, error) {
			prefix, err := argString(args, 0)
			if err != nil {
				return nil, err
			}
			return strings.HasPrefix(s, prefix), nil
		}), nil
	case "ends_with":
		return method("ends_with", func(args []value.Value) (value.Value, error) {
			suffix, err := argString(args, 0)
			if err != nil {
				return nil, err
			}
			return strings.HasSuffix(s, suffix), nil
		}), nil
	}
	return nil, &safeattr.NotSafeError{Attr: entry.Attr}
}

func arrayAttr(a *value.Array, entry *safeattr.Entry) (value.Value, error) {
	switch entry.Attr {
	case "length":
		return int64(len(a.Elems)), nil
	case "push":
		return method("push", func(args []value.Value) (value.Value, error) {
			a.Elems = append(a.Elems, args...)
			return int64(len(a.Elems)), nil
		}), nil
	case "pop":
		return method("pop", func([]value.Value) (value.Value, error) {
			if len(a.Elems) == 0 {
				return nil, fmt.Errorf("pop from empty array")
			}
			last := a.Elems[len(a.Elems)-1]
			a.Elems = a.Elems[:len(a.Elems)-1]
			return last, nil
		}), nil
	case "join":
		return method("join", func(args []value.Value) (value.Value, error) {
			sep, err := argString(args, 0)
			if err != nil {
				return nil, err
			}
			parts := make([]string, len(a.Elems))
			for i, el := range a.Elems {
				parts[i] = value.ToString(el)
			}
			return strings.Join(parts, sep), nil
		}), nil
	case "contains":
		return method("contains", func(args []value.Value) (value.Value, error) {
			if len(args) == 0 {
				return nil, fmt.Errorf("missing argument 1")
			}
			for _, el := range a.Elems {
				if value.Equal(el, args[0]) {
					return true, nil
				}
			}
			return false, nil
		}), nil
	case "index_of":
		return method("index_of", func(args []value.Value) (value.Value, error) {
			if len(args) == 0 {
				return nil, fmt.Errorf("missing argument 1")
			}
			for i, el := range a.Elems {
				if value.Equal(el, args[0]) {
					return int64(i), nil
				}
			}
			return int64(-1), nil
		}), nil
	case "reverse":
		return method("reverse", func([]value.Value) (value.Value, error) {
			out := make([]value.Value, len(a.Elems))
			for i, el := range a.Elems {
				out[len(a.Elems)-1-i] = el
			}
			return &value.Array{Elems: out}, nil
		}), nil
	case "sort":
		return method("sort", func([]value.Value) (value.Value, error) {
			out := append([]value.Value(nil), a.Elems...)
			sort.SliceStable(out, func(i, j int) bool {
				less, err := value.BinaryOp("<", out[i], out[j])
				if err != nil {
					return false
				}
				b, _ := less.(bool)
				return b
			})
			return &value.Array{Elems: out}, nil
		}), nil
	}
	return nil, &safeattr.NotSafeError{Attr: entry.Attr}
}

func objectAttr(o *value.Object, entry *safeattr.Entry) (value.Value, error) {
	switch entry.Attr {
	case "length":
		return int64(len(o.Entries)), nil
	case "keys":
		return method("keys", func([]value.Value) (value.Value, error) {
			keys := o.Keys()
			elems := make([]value.Value, len(keys))
			for i, k := range keys {
				elems[i] = k
			}
			return &value.Array{Elems: elems}, nil
		}), nil
	case "values":
		return method("values", func([]value.Value) (value.Value, error) {
			keys := o.Keys()
			elems := make([]value.Value, len(keys))
			for i, k := range keys {
				elems[i] = o.Entries[k]
			}
			return &value.Array{Elems: elems}, nil
		}), nil
	case "has":
		return method("has", func(args []value.Value) (value.Value, error) {
			k, err := argString(args, 0)
			if err != nil {
				return nil, err
			}
			_, present := o.Entries[k]
			return present, nil
		}), nil
	}
	return nil, &safeattr.NotSafeError{Attr: entry.Attr}
}
