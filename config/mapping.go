package config

// Item is one key/value pair of a Mapping.
type Item struct {
	Key   interface{}
	Value interface{}
}

// Mapping is a parsed dict literal. Items keep their source order and keys are
// unique.
type Mapping struct {
	Items []Item
}

// NewMapping returns an empty mapping.
func NewMapping() *Mapping {
	return &Mapping{}
}

// Len returns the number of items.
func (m *Mapping) Len() int {
	if m == nil {
		return 0
	}
	return len(m.Items)
}

// Get returns the value stored under key.
func (m *Mapping) Get(key interface{}) (interface{}, bool) {
	if m == nil {
		return nil, false
	}
	for _, item := range m.Items {
		if keyEqual(item.Key, key) {
			return item.Value, true
		}
	}
	return nil, false
}

// Has reports whether key is present.
func (m *Mapping) Has(key interface{}) bool {
	_, ok := m.Get(key)
	return ok
}

// Set replaces the value under key, or appends a new item.
func (m *Mapping) Set(key, value interface{}) {
	key, value = normalize(key), normalize(value)
	for i := range m.Items {
		if keyEqual(m.Items[i].Key, key) {
			m.Items[i].Value = value
			return
		}
	}
	m.Items = append(m.Items, Item{Key: key, Value: value})
}

// Keys returns the keys in order.
func (m *Mapping) Keys() []interface{} {
	if m == nil {
		return nil
	}
	keys := make([]interface{}, 0, len(m.Items))
	for _, item := range m.Items {
		keys = append(keys, item.Key)
	}
	return keys
}

// Clone returns a deep copy.
func (m *Mapping) Clone() *Mapping {
	if m == nil {
		return nil
	}
	return cloneValue(m).(*Mapping)
}

func cloneValue(v interface{}) interface{} {
	switch x := v.(type) {
	case *Mapping:
		if x == nil {
			return x
		}
		out := &Mapping{Items: make([]Item, len(x.Items))}
		for i, item := range x.Items {
			out.Items[i] = Item{Key: item.Key, Value: cloneValue(item.Value)}
		}
		return out
	case List:
		out := make(List, len(x))
		for i := range x {
			out[i] = cloneValue(x[i])
		}
		return out
	case Tuple:
		out := make(Tuple, len(x))
		for i := range x {
			out[i] = cloneValue(x[i])
		}
		return out
	}
	return v
}

func (m *Mapping) String() string {
	return FormatLiteral(m)
}

// MarshalText encodes the mapping as literal text.
func (m *Mapping) MarshalText() ([]byte, error) {
	return []byte(FormatLiteral(m)), nil
}

// UnmarshalText decodes literal text produced by MarshalText.
func (m *Mapping) UnmarshalText(text []byte) error {
	parsed, err := ResolveMapping("mapping", string(text))
	if err != nil {
		return err
	}
	*m = *parsed
	return nil
}

// Int returns the integer option key, or def when it is absent.
func (m *Mapping) Int(key string, def int) (int, error) {
	v, ok := m.Get(key)
	if !ok {
		return def, nil
	}
	i, ok := v.(int64)
	if !ok {
		return def, newError(key, "want int, got %s", typeName(v))
	}
	return int(i), nil
}

// Float returns the numeric option key, or def when it is absent. Integers are
// accepted.
func (m *Mapping) Float(key string, def float64) (float64, error) {
	v, ok := m.Get(key)
	if !ok {
		return def, nil
	}
	switch x := v.(type) {
	case float64:
		return x, nil
	case int64:
		return float64(x), nil
	}
	return def, newError(key, "want float, got %s", typeName(v))
}

// Bool returns the boolean option key, or def when it is absent.
func (m *Mapping) Bool(key string, def bool) (bool, error) {
	v, ok := m.Get(key)
	if !ok {
		return def, nil
	}
	b, ok := v.(bool)
	if !ok {
		return def, newError(key, "want bool, got %s", typeName(v))
	}
	return b, nil
}

// Text returns the string option key, or def when it is absent.
func (m *Mapping) Text(key string, def string) (string, error) {
	v, ok := m.Get(key)
	if !ok {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return def, newError(key, "want str, got %s", typeName(v))
	}
	return s, nil
}

// Mapping returns the nested mapping under key, or nil when it is absent.
func (m *Mapping) Mapping(key string) (*Mapping, error) {
	v, ok := m.Get(key)
	if !ok {
		return nil, nil
	}
	sub, ok := v.(*Mapping)
	if !ok {
		return nil, newError(key, "want dict, got %s", typeName(v))
	}
	return sub, nil
}

// EnsureMapping returns the nested mapping under key, creating an empty one if
// the key is absent.
func (m *Mapping) EnsureMapping(key string) (*Mapping, error) {
	sub, err := m.Mapping(key)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		sub = NewMapping()
		m.Set(key, sub)
	}
	return sub, nil
}

// Unknown returns the string keys of m not listed in known.
func (m *Mapping) Unknown(known ...string) []string {
	var out []string
next:
	for _, k := range m.Keys() {
		for _, name := range known {
			if keyEqual(k, name) {
				continue next
			}
		}
		if s, ok := k.(string); ok {
			out = append(out, s)
		} else {
			out = append(out, FormatLiteral(k))
		}
	}
	return out
}
