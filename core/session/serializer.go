package session

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"
)

// Serializer encodes attribute values for stores that persist bytes.
// Decoding must reject types outside the serializer's allow-list.
type Serializer interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte) (any, error)
}

// JSONSerializer stores values as {"t": typeName, "v": value}.
// Only builtin scalar and collection types plus explicitly registered types are accepted.
type JSONSerializer struct {
	mu     sync.RWMutex
	byName map[string]reflect.Type
	byType map[reflect.Type]string
}

type jsonEnvelope struct {
	Type  string          `json:"t"`
	Value json.RawMessage `json:"v"`
}

// NewJSONSerializer creates a serializer with the builtin allow-list.
func NewJSONSerializer() *JSONSerializer {
	s := &JSONSerializer{
		byName: make(map[string]reflect.Type),
		byType: make(map[reflect.Type]string),
	}
	for name, sample := range map[string]any{
		"string":            "",
		"bool":              false,
		"int":               0,
		"int64":             int64(0),
		"float64":           float64(0),
		"bytes":             []byte(nil),
		"time":              time.Time{},
		"duration":          time.Duration(0),
		"strings":           []string(nil),
		"list":              []any(nil),
		"map":               map[string]any(nil),
		"map[string]string": map[string]string(nil),
	} {
		s.Register(name, sample)
	}
	return s
}

// Register adds the dynamic type of sample to the allow-list under name.
// Registering pointers is not supported; register the value type instead.
func (s *JSONSerializer) Register(name string, sample any) {
	t := reflect.TypeOf(sample)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byName[name] = t
	s.byType[t] = name
}

// Marshal implements Serializer.
func (s *JSONSerializer) Marshal(v any) ([]byte, error) {
	s.mu.RLock()
	name, ok := s.byType[reflect.TypeOf(v)]
	s.mu.RUnlock()
	if !ok {
		return nil, errors.Join(ErrSerialization, fmt.Errorf("%w: %T", ErrTypeNotAllowed, v))
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Join(ErrSerialization, err)
	}
	data, err := json.Marshal(jsonEnvelope{Type: name, Value: raw})
	if err != nil {
		return nil, errors.Join(ErrSerialization, err)
	}
	return data, nil
}

// Unmarshal implements Serializer.
func (s *JSONSerializer) Unmarshal(data []byte) (any, error) {
	var env jsonEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errors.Join(ErrSerialization, err)
	}

	s.mu.RLock()
	t, ok := s.byName[env.Type]
	s.mu.RUnlock()
	if !ok {
		return nil, errors.Join(ErrSerialization, fmt.Errorf("%w: %q", ErrTypeNotAllowed, env.Type))
	}

	ptr := reflect.New(t)
	if err := json.Unmarshal(env.Value, ptr.Interface()); err != nil {
		return nil, errors.Join(ErrSerialization, err)
	}
	return ptr.Elem().Interface(), nil
}

// GobSerializer encodes values with encoding/gob.
// Concrete types must be registered with gob.Register, which acts as the allow-list.
type GobSerializer struct{}

type gobEnvelope struct {
	Value any
}

// Marshal implements Serializer.
func (GobSerializer) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(gobEnvelope{Value: v}); err != nil {
		return nil, errors.Join(ErrSerialization, err)
	}
	return buf.Bytes(), nil
}

// Unmarshal implements Serializer.
func (GobSerializer) Unmarshal(data []byte) (any, error) {
	var env gobEnvelope
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&env); err != nil {
		return nil, errors.Join(ErrSerialization, err)
	}
	return env.Value, nil
}

// EncodeAttributes serializes every value of attrs.
func EncodeAttributes(s Serializer, attrs map[string]any) (map[string][]byte, error) {
	out := make(map[string][]byte, len(attrs))
	for name, v := range attrs {
		b, err := s.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", name, err)
		}
		out[name] = b
	}
	return out, nil
}
