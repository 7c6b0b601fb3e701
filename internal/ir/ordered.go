package ir

import (
	"bytes"
	"encoding/json"
	"fmt"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Action is one named entry of an actions block.
type Action struct {
	Name   string
	Params map[string]any
}

// Actions is an actions block in authoring order.
//
// On the wire it is a JSON object mapping action name to params; decoding
// keeps the key order so actions dispatch in the order they were written.
// A repeated key keeps its first position and its last params, matching how
// a JSON object assignment behaves.
type Actions []Action

// Names returns the action names in order.
func (a Actions) Names() []string {
	names := make([]string, len(a))
	for i, act := range a {
		names[i] = act.Name
	}
	return names
}

// Get returns the params for name.
func (a Actions) Get(name string) (map[string]any, bool) {
	for _, act := range a {
		if act.Name == name {
			return act.Params, true
		}
	}
	return nil, false
}

// With returns a copy of a with name set to params, replacing an existing
// entry in place or appending a new one.
func (a Actions) With(name string, params map[string]any) Actions {
	out := make(Actions, 0, len(a)+1)
	replaced := false
	for _, act := range a {
		if act.Name == name {
			out = append(out, Action{Name: name, Params: params})
			replaced = true
			continue
		}
		out = append(out, act)
	}
	if !replaced {
		out = append(out, Action{Name: name, Params: params})
	}
	return out
}

func (a Actions) MarshalJSON() ([]byte, error) {
	om := orderedmap.New[string, map[string]any]()
	for _, act := range a {
		params := act.Params
		if params == nil {
			params = map[string]any{}
		}
		om.Set(act.Name, params)
	}
	return json.Marshal(om)
}

func (a *Actions) UnmarshalJSON(data []byte) error {
	om, err := decodeOrdered(data)
	if err != nil {
		return err
	}
	out := make(Actions, 0, om.Len())
	for pair := om.Oldest(); pair != nil; pair = pair.Next() {
		var params map[string]any
		if err := json.Unmarshal(pair.Value, &params); err != nil {
			return fmt.Errorf("action %q: params must be an object: %w", pair.Key, err)
		}
		out = append(out, Action{Name: pair.Key, Params: params})
	}
	*a = out
	return nil
}

// NamedFact is one entry of an additionalFacts block.
type NamedFact struct {
	Name string
	Def  FactDef
}

// FactDefs is an additionalFacts block in authoring order.
type FactDefs []NamedFact

// Get returns the def registered under name.
func (f FactDefs) Get(name string) (FactDef, bool) {
	for _, nf := range f {
		if nf.Name == name {
			return nf.Def, true
		}
	}
	return FactDef{}, false
}

func (f FactDefs) MarshalJSON() ([]byte, error) {
	om := orderedmap.New[string, FactDef]()
	for _, nf := range f {
		om.Set(nf.Name, nf.Def)
	}
	return json.Marshal(om)
}

func (f *FactDefs) UnmarshalJSON(data []byte) error {
	om, err := decodeOrdered(data)
	if err != nil {
		return err
	}
	out := make(FactDefs, 0, om.Len())
	for pair := om.Oldest(); pair != nil; pair = pair.Next() {
		var def FactDef
		if err := json.Unmarshal(pair.Value, &def); err != nil {
			return fmt.Errorf("fact %q: %w", pair.Key, err)
		}
		out = append(out, NamedFact{Name: pair.Key, Def: def})
	}
	*f = out
	return nil
}

// decodeOrdered reads a JSON object keeping its members in source order. A
// repeated key keeps its first position and its last value. A JSON null
// decodes to an empty object.
func decodeOrdered(data []byte) (*orderedmap.OrderedMap[string, json.RawMessage], error) {
	om := orderedmap.New[string, json.RawMessage]()
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return om, nil
	}
	if err := om.UnmarshalJSON(data); err != nil {
		return nil, fmt.Errorf("expected JSON object: %w", err)
	}
	return om, nil
}
