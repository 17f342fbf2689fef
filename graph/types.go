package graph

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// Type is a declared value type for node outputs and input ports.
//
// Check validates an in-memory value. Decode rebuilds a value of this type
// from its JSON form, which is how checkpoints restore exact Go types.
type Type interface {
	Name() string
	Check(v any) error
	Decode(data []byte) (any, error)
}

type goType[T any] struct {
	name string
}

// TypeOf returns the Type for Go type T. Its name is the Go type string
// (for example "[]string" or "interview.Verdict").
func TypeOf[T any]() Type {
	return goType[T]{name: reflect.TypeFor[T]().String()}
}

// NamedTypeOf is TypeOf with an explicit registry name.
func NamedTypeOf[T any](name string) Type {
	return goType[T]{name: name}
}

func (t goType[T]) Name() string { return t.name }

func (t goType[T]) Check(v any) error {
	if _, ok := v.(T); !ok {
		return fmt.Errorf("want %s, got %s", t.name, typeName(v))
	}
	return nil
}

func (t goType[T]) Decode(data []byte) (any, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode %s: %w", t.name, err)
	}
	return v, nil
}

type anyType struct{}

func (anyType) Name() string { return "any" }

func (anyType) Check(any) error { return nil }

func (anyType) Decode(data []byte) (any, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode any: %w", err)
	}
	return v, nil
}

// Builtin types.
var (
	Any     Type = anyType{}
	String  Type = TypeOf[string]()
	Strings Type = TypeOf[[]string]()
	Bool    Type = TypeOf[bool]()
	Int     Type = TypeOf[int]()
	Float   Type = TypeOf[float64]()
)

// compatible reports whether values of type out may be delivered into a
// port of type in. Any on either side defers the check to run time.
func compatible(in, out Type) bool {
	if in == nil || out == nil {
		return true
	}
	if in.Name() == Any.Name() || out.Name() == Any.Name() {
		return true
	}
	return in.Name() == out.Name()
}

// jsonNative reports whether v decodes from JSON into an interface as the
// same Go type it was encoded from.
func jsonNative(v any) bool {
	switch v.(type) {
	case nil, string, float64, bool, map[string]any, []any:
		return true
	}
	return false
}

func typeName(v any) string {
	if v == nil {
		return "nil"
	}
	return reflect.TypeOf(v).String()
}

// TypeRegistry resolves type names used by the YAML graph DSL.
type TypeRegistry struct {
	mu    sync.RWMutex
	types map[string]Type
}

// NewTypeRegistry returns a registry preloaded with the builtin types.
func NewTypeRegistry() *TypeRegistry {
	r := &TypeRegistry{types: make(map[string]Type)}
	for _, t := range []Type{Any, String, Strings, Bool, Int, Float} {
		r.types[t.Name()] = t
	}
	return r
}

// Register adds types, replacing any previous type of the same name.
func (r *TypeRegistry) Register(types ...Type) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range types {
		r.types[t.Name()] = t
	}
}

// Lookup returns the type registered under name.
func (r *TypeRegistry) Lookup(name string) (Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[name]
	return t, ok
}

// Names lists registered type names in sorted order.
func (r *TypeRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.types))
	for n := range r.types {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
