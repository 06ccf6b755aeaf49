package node

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// MarshalJSON serializes the node. Typed objects flatten to
// {"type": ..., "id": ..., <props>...} with properties in sorted order so
// output is byte-stable for digesting.
func (n Node) MarshalJSON() ([]byte, error) {
	switch n.Kind() {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return json.Marshal(n.b)
	case KindInteger:
		return json.Marshal(n.i)
	case KindNumber:
		return json.Marshal(n.f)
	case KindString:
		return json.Marshal(n.s)
	case KindArray:
		if len(n.arr) == 0 {
			return []byte("[]"), nil
		}
		return json.Marshal(n.arr)
	case KindObject:
		var buf bytes.Buffer
		buf.WriteByte('{')
		buf.WriteString(`"type":`)
		typeJSON, err := json.Marshal(n.obj.Type)
		if err != nil {
			return nil, err
		}
		buf.Write(typeJSON)
		if n.obj.ID != "" {
			buf.WriteString(`,"id":`)
			idJSON, err := json.Marshal(n.obj.ID)
			if err != nil {
				return nil, err
			}
			buf.Write(idJSON)
		}
		names := make([]string, 0, len(n.obj.Props))
		for name := range n.obj.Props {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			buf.WriteByte(',')
			keyJSON, err := json.Marshal(name)
			if err != nil {
				return nil, err
			}
			buf.Write(keyJSON)
			buf.WriteByte(':')
			valJSON, err := json.Marshal(*n.obj.Props[name])
			if err != nil {
				return nil, err
			}
			buf.Write(valJSON)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("unknown node kind %q", n.Kind())
}

// UnmarshalJSON parses the flattened JSON form. JSON objects without a
// "type" key become typed objects with an empty type tag.
func (n *Node) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	parsed, err := fromValue(raw)
	if err != nil {
		return err
	}
	*n = parsed
	return nil
}

// FromJSON decodes a JSON document into a node tree.
func FromJSON(data []byte) (Node, error) {
	var n Node
	if err := json.Unmarshal(data, &n); err != nil {
		return Node{}, fmt.Errorf("decoding document: %w", err)
	}
	return n, nil
}

// FromYAML decodes a YAML document into a node tree.
func FromYAML(data []byte) (Node, error) {
	var raw interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Node{}, fmt.Errorf("decoding document: %w", err)
	}
	return fromValue(raw)
}

// fromValue converts decoded JSON/YAML values into nodes.
func fromValue(v interface{}) (Node, error) {
	switch val := v.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(val), nil
	case int:
		return Int(int64(val)), nil
	case int64:
		return Int(val), nil
	case float64:
		if val == float64(int64(val)) {
			return Int(int64(val)), nil
		}
		return Num(val), nil
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return Int(i), nil
		}
		f, err := val.Float64()
		if err != nil {
			return Node{}, fmt.Errorf("parsing number %q: %w", val, err)
		}
		// Whole floats like 3.0 decode as integers, matching the YAML
		// path, so the two codecs load equal trees.
		if f == float64(int64(f)) {
			return Int(int64(f)), nil
		}
		return Num(f), nil
	case string:
		return Str(val), nil
	case []interface{}:
		elems := make([]Node, len(val))
		for i, e := range val {
			parsed, err := fromValue(e)
			if err != nil {
				return Node{}, err
			}
			elems[i] = parsed
		}
		return Arr(elems...), nil
	case map[string]interface{}:
		return objectFromMap(val)
	case map[interface{}]interface{}:
		// Older YAML decodings key maps by interface{}.
		converted := make(map[string]interface{}, len(val))
		for k, mv := range val {
			key, ok := k.(string)
			if !ok {
				return Node{}, fmt.Errorf("object key must be a string, got %T", k)
			}
			converted[key] = mv
		}
		return objectFromMap(converted)
	}
	return Node{}, fmt.Errorf("unsupported value type %T", v)
}

func objectFromMap(m map[string]interface{}) (Node, error) {
	typeName := ""
	if t, ok := m["type"].(string); ok {
		typeName = t
	}
	id := ""
	if v, ok := m["id"].(string); ok {
		id = v
	}
	props := make(map[string]*Node, len(m))
	for k, mv := range m {
		if k == "type" || k == "id" {
			continue
		}
		parsed, err := fromValue(mv)
		if err != nil {
			return Node{}, fmt.Errorf("property %q: %w", k, err)
		}
		props[k] = &parsed
	}
	return Node{kind: KindObject, obj: &Object{Type: typeName, ID: id, Props: props}}, nil
}
