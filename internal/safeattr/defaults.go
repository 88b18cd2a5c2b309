package safeattr

import "mlc/internal/capability"

// Builtin host types for ML values. Host modules register under their
// module name.
const (
	TypeString = "string"
	TypeArray  = "array"
	TypeObject = "object"
	TypeNumber = "number"
)

// RegisterDefaults installs the builtin value surface: the string,
// array, and object attributes compiled code may always reach. None of
// them require capabilities; capability-gated attributes come from host
// module registrations.
func RegisterDefaults(r *Registry) error {
	none := []capability.Requirement(nil)
	defaults := []struct {
		hostType string
		attr     string
		kind     AccessKind
		doc      string
	}{
		{TypeString, "upper", Method, "uppercase copy"},
		{TypeString, "lower", Method, "lowercase copy"},
		{TypeString, "trim", Method, "strip surrounding whitespace"},
		{TypeString, "split", Method, "split on a separator"},
		{TypeString, "replace", Method, "replace occurrences"},
		{TypeString, "contains", Method, "substring test"},
		{TypeString, "starts_with", Method, "prefix test"},
		{TypeString, "ends_with", Method, "suffix test"},
		{TypeString, "length", Property, "character count"},

		{TypeArray, "length", Property, "element count"},
		{TypeArray, "push", Method, "append an element"},
		{TypeArray, "pop", Method, "remove and return the last element"},
		{TypeArray, "join", Method, "join elements into a string"},
		{TypeArray, "contains", Method, "membership test"},
		{TypeArray, "index_of", Method, "first index of an element, -1 if absent"},
		{TypeArray, "reverse", Method, "reversed copy"},
		{TypeArray, "sort", Method, "sorted copy"},

		{TypeObject, "keys", Method, "sorted key list"},
		{TypeObject, "values", Method, "values in key order"},
		{TypeObject, "has", Method, "key presence test"},
		{TypeObject, "length", Property, "entry count"},
	}
	for _, d := range defaults {
		if err := r.Register(d.hostType, d.attr, d.kind, none, d.doc); err != nil {
			return err
		}
	}
	return nil
}
