package ast

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// taggedValue preserves literal payload types across serialization;
// a bare interface{} round-trip would widen int64 to float64.
type taggedValue struct {
	T string `json:"t"`
	V string `json:"v,omitempty"`
}

func encodeValue(v interface{}) (*taggedValue, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case bool:
		return &taggedValue{T: "bool", V: strconv.FormatBool(x)}, nil
	case int64:
		return &taggedValue{T: "int", V: strconv.FormatInt(x, 10)}, nil
	case float64:
		return &taggedValue{T: "float", V: strconv.FormatFloat(x, 'g', -1, 64)}, nil
	case string:
		return &taggedValue{T: "str", V: x}, nil
	}
	return nil, fmt.Errorf("unserializable node payload %T", v)
}

func decodeValue(tv *taggedValue) (interface{}, error) {
	if tv == nil {
		return nil, nil
	}
	switch tv.T {
	case "bool":
		b, err := strconv.ParseBool(tv.V)
		return b, err
	case "int":
		i, err := strconv.ParseInt(tv.V, 10, 64)
		return i, err
	case "float":
		f, err := strconv.ParseFloat(tv.V, 64)
		return f, err
	case "str":
		return tv.V, nil
	}
	return nil, fmt.Errorf("unknown node payload tag %q", tv.T)
}

type nodeJSON struct {
	Kind     Kind         `json:"kind"`
	Span     spanJSON     `json:"span"`
	Children []NodeID     `json:"children,omitempty"`
	Name     string       `json:"name,omitempty"`
	Op       string       `json:"op,omitempty"`
	Value    *taggedValue `json:"value,omitempty"`
	Flags    uint8        `json:"flags,omitempty"`
	Binding  NodeID       `json:"binding"`
}

type spanJSON struct {
	SL int `json:"sl"`
	SC int `json:"sc"`
	EL int `json:"el"`
	EC int `json:"ec"`
}

// MarshalJSON serializes a node with its payload type preserved.
func (n Node) MarshalJSON() ([]byte, error) {
	tv, err := encodeValue(n.Value)
	if err != nil {
		return nil, err
	}
	return json.Marshal(nodeJSON{
		Kind:     n.Kind,
		Span:     spanJSON{n.Span.Start.Line, n.Span.Start.Column, n.Span.End.Line, n.Span.End.Column},
		Children: n.Children,
		Name:     n.Name,
		Op:       n.Op,
		Value:    tv,
		Flags:    n.Flags,
		Binding:  n.Binding,
	})
}

// UnmarshalJSON restores a node including its typed payload.
func (n *Node) UnmarshalJSON(data []byte) error {
	var raw nodeJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	v, err := decodeValue(raw.Value)
	if err != nil {
		return err
	}
	n.Kind = raw.Kind
	n.Span.Start.Line = raw.Span.SL
	n.Span.Start.Column = raw.Span.SC
	n.Span.End.Line = raw.Span.EL
	n.Span.End.Column = raw.Span.EC
	n.Children = raw.Children
	n.Name = raw.Name
	n.Op = raw.Op
	n.Value = v
	n.Flags = raw.Flags
	n.Binding = raw.Binding
	return nil
}
