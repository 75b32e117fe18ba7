package config

// Fragment names used in errors.
const (
	FragmentDataConfig  = "data_config"
	FragmentModelConfig = "model_config"
	FragmentRegime      = "optimization_config"
	FragmentDevices     = "devices"
)

// ResolveMapping parses text and requires the top-level value to be a dict.
func ResolveMapping(fragment, text string) (*Mapping, error) {
	v, err := ParseLiteral(fragment, text)
	if err != nil {
		return nil, err
	}
	m, ok := v.(*Mapping)
	if !ok {
		return nil, newError(fragment, "top-level value is %s, want dict", typeName(v))
	}
	return m, nil
}

// ResolveDataConfig resolves the dataset options. Option names must be strings.
func ResolveDataConfig(text string) (*Mapping, error) {
	m, err := ResolveMapping(FragmentDataConfig, text)
	if err != nil {
		return nil, err
	}
	if err := stringKeys(FragmentDataConfig, m); err != nil {
		return nil, err
	}
	return m, nil
}

// ResolveModelConfig resolves the model options and makes sure nested encoder
// and decoder mappings exist, so vocabulary sizes can be injected later.
func ResolveModelConfig(text string) (*Mapping, error) {
	m, err := ResolveMapping(FragmentModelConfig, text)
	if err != nil {
		return nil, err
	}
	if err := stringKeys(FragmentModelConfig, m); err != nil {
		return nil, err
	}
	for _, key := range []string{"encoder", "decoder"} {
		if _, err := m.EnsureMapping(key); err != nil {
			v, _ := m.Get(key)
			return nil, newError(FragmentModelConfig, "%s is %s, want dict", key, typeName(v))
		}
	}
	return m, nil
}

func stringKeys(fragment string, m *Mapping) error {
	for _, k := range m.Keys() {
		if _, ok := k.(string); !ok {
			return newError(fragment, "option name %s is %s, want str", FormatLiteral(k), typeName(k))
		}
	}
	return nil
}

// DeviceSpec is a parsed device assignment: an int, a tuple or list of ints,
// or a dict from role name to int. Value is validated by the device package.
type DeviceSpec struct {
	Value interface{}
}

// ResolveDevices parses a device assignment such as "0", "0,1" or
// "{'encoder': 0, 'decoder': 1}".
func ResolveDevices(text string) (DeviceSpec, error) {
	v, err := ParseLiteral(FragmentDevices, text)
	if err != nil {
		return DeviceSpec{}, err
	}
	return DeviceSpec{Value: v}, nil
}

func (d DeviceSpec) String() string {
	return FormatLiteral(d.Value)
}

// MarshalText encodes the assignment as literal text.
func (d DeviceSpec) MarshalText() ([]byte, error) {
	return []byte(FormatLiteral(d.Value)), nil
}

// UnmarshalText decodes literal text.
func (d *DeviceSpec) UnmarshalText(text []byte) error {
	spec, err := ResolveDevices(string(text))
	if err != nil {
		return err
	}
	*d = spec
	return nil
}
