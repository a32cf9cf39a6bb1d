package analysis

import (
	"fmt"
	"iter"
	"slices"
	"strconv"
	"strings"
)

// OptionType enumerates the value types a service configuration option can hold.
type OptionType string

const (
	OptionString      OptionType = "string"
	OptionInt         OptionType = "int"
	OptionBool        OptionType = "bool"
	OptionList        OptionType = "list"
	OptionSelect      OptionType = "select"
	OptionMultiSelect OptionType = "multi_select"
	OptionPassword    OptionType = "password"
)

// String returns the string representation of the OptionType.
func (t OptionType) String() string { return string(t) }

// IsValid reports whether t is a recognized option type.
func (t OptionType) IsValid() bool {
	switch t {
	case OptionString, OptionInt, OptionBool, OptionList, OptionSelect, OptionMultiSelect, OptionPassword:
		return true
	default:
		return false
	}
}

func (t OptionType) hasChoices() bool { return t == OptionSelect || t == OptionMultiSelect }

// Config maps option names to their values.
type Config map[string]any

// Clone returns a shallow copy of the config.
func (c Config) Clone() Config {
	out := make(Config, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// String returns the string value stored under key, or "".
func (c Config) String(key string) string {
	s, _ := c[key].(string)
	return s
}

// Bool returns the boolean value stored under key. String forms such as
// "true" or "1" are accepted.
func (c Config) Bool(key string) bool {
	switch v := c[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(strings.TrimSpace(v))
		return b
	default:
		return false
	}
}

// Int returns the integer value stored under key. JSON numbers and numeric
// strings are converted.
func (c Config) Int(key string) (int, bool) {
	switch v := c[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), v == float64(int(v))
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		return n, err == nil
	default:
		return 0, false
	}
}

// Strings returns the string list stored under key. Values that crossed a
// JSON boundary arrive as []any and are converted.
func (c Config) Strings(key string) []string {
	switch v := c[key].(type) {
	case []string:
		return slices.Clone(v)
	case []any:
		out, err := stringSlice(v)
		if err != nil {
			return nil
		}
		return out
	case string:
		return splitLines(v)
	default:
		return nil
	}
}

// ConfigOption describes a single typed setting of a service. It is immutable
// once constructed.
type ConfigOption struct {
	name        string
	typ         OptionType
	description string
	defaultVal  any
	required    bool
	private     bool
	runtimeOnly bool
	choices     []string
}

// OptionFunc configures a ConfigOption during construction.
type OptionFunc func(*ConfigOption)

// WithDescription sets the human readable description.
func WithDescription(desc string) OptionFunc {
	return func(o *ConfigOption) { o.description = desc }
}

// WithDefault sets the default value.
func WithDefault(v any) OptionFunc {
	return func(o *ConfigOption) { o.defaultVal = v }
}

// WithChoices sets the labels addressable by select and multi_select options.
func WithChoices(choices ...string) OptionFunc {
	return func(o *ConfigOption) { o.choices = slices.Clone(choices) }
}

// Required marks the option as mandatory.
func Required() OptionFunc { return func(o *ConfigOption) { o.required = true } }

// Private hides the option from public config views.
func Private() OptionFunc { return func(o *ConfigOption) { o.private = true } }

// RuntimeOnly marks an option that is only supplied per run and never shown publicly.
func RuntimeOnly() OptionFunc { return func(o *ConfigOption) { o.runtimeOnly = true } }

// NewConfigOption creates a ConfigOption. It fails when typ is not recognized or
// when a select or multi_select option is declared without choices.
func NewConfigOption(name string, typ OptionType, opts ...OptionFunc) (ConfigOption, error) {
	o := ConfigOption{name: name, typ: typ}
	for _, opt := range opts {
		opt(&o)
	}

	if name == "" {
		return ConfigOption{}, &ConfigError{Reason: "option name is required"}
	}
	if !typ.IsValid() {
		return ConfigOption{}, &ConfigError{Option: name, Reason: fmt.Sprintf("invalid option type %q", typ)}
	}
	if typ.hasChoices() && len(o.choices) == 0 {
		return ConfigOption{}, &ConfigError{Option: name, Reason: fmt.Sprintf("%s option requires choices", typ)}
	}
	return o, nil
}

// MustConfigOption is like NewConfigOption but panics on error. It is intended
// for package level service definitions.
func MustConfigOption(name string, typ OptionType, opts ...OptionFunc) ConfigOption {
	o, err := NewConfigOption(name, typ, opts...)
	if err != nil {
		panic(err)
	}
	return o
}

func (o ConfigOption) Name() string        { return o.name }
func (o ConfigOption) Type() OptionType    { return o.typ }
func (o ConfigOption) Description() string { return o.description }
func (o ConfigOption) Default() any        { return o.defaultVal }
func (o ConfigOption) IsRequired() bool    { return o.required }
func (o ConfigOption) IsPrivate() bool     { return o.private }
func (o ConfigOption) IsRuntimeOnly() bool { return o.runtimeOnly }

// Choices returns a copy of the selectable labels.
func (o ConfigOption) Choices() []string { return slices.Clone(o.choices) }

// EnumerateChoices yields (1-based index, choice) pairs. The sequence can be
// ranged over any number of times.
func (o ConfigOption) EnumerateChoices() iter.Seq2[int, string] {
	return func(yield func(int, string) bool) {
		for i, c := range o.choices {
			if !yield(i+1, c) {
				return
			}
		}
	}
}

// ParseValue converts a raw submitted value into its stored form. Lists are
// split on newlines with blank lines dropped, select indexes become ints and
// multi_select indexes become []int. Other types pass through unchanged.
func (o ConfigOption) ParseValue(raw any) (any, error) {
	switch o.typ {
	case OptionList:
		switch v := raw.(type) {
		case string:
			return splitLines(v), nil
		case []string:
			return splitLines(strings.Join(v, "\n")), nil
		case []any:
			parts, err := stringSlice(v)
			if err != nil {
				return nil, o.errorf("%v", err)
			}
			return splitLines(strings.Join(parts, "\n")), nil
		case nil:
			return []string{}, nil
		default:
			return nil, o.errorf("cannot parse %T as list", raw)
		}

	case OptionSelect:
		return o.parseIndex(raw)

	case OptionMultiSelect:
		var items []any
		switch v := raw.(type) {
		case []int:
			return slices.Clone(v), nil
		case []string:
			for _, s := range v {
				items = append(items, s)
			}
		case []any:
			items = v
		case string:
			items = []any{v}
		case nil:
			return []int{}, nil
		default:
			return nil, o.errorf("cannot parse %T as multi select", raw)
		}
		out := make([]int, 0, len(items))
		for _, item := range items {
			idx, err := o.parseIndex(item)
			if err != nil {
				return nil, err
			}
			out = append(out, idx)
		}
		return out, nil

	default:
		return raw, nil
	}
}

// FormatValue converts a stored value for display or editing. Lists are joined
// with newlines. When printable is set, select indexes are mapped back to their
// choice labels.
func (o ConfigOption) FormatValue(v any, printable bool) (any, error) {
	switch o.typ {
	case OptionList:
		switch lv := v.(type) {
		case []string:
			return strings.Join(lv, "\n"), nil
		case []any:
			parts, err := stringSlice(lv)
			if err != nil {
				return nil, o.errorf("%v", err)
			}
			return strings.Join(parts, "\n"), nil
		case string:
			return lv, nil
		case nil:
			return "", nil
		default:
			return nil, o.errorf("cannot format %T as list", v)
		}

	case OptionSelect, OptionMultiSelect:
		if !printable {
			return v, nil
		}
		return o.ReplaceValue(v)

	default:
		return v, nil
	}
}

// ReplaceValue resolves select indexes into the literal choice values. A
// select yields a string and a multi_select yields []string. Out of range
// indexes fail.
func (o ConfigOption) ReplaceValue(v any) (any, error) {
	switch o.typ {
	case OptionSelect:
		idx, err := o.parseIndex(v)
		if err != nil {
			return nil, err
		}
		return o.choiceAt(idx)

	case OptionMultiSelect:
		parsed, err := o.ParseValue(v)
		if err != nil {
			return nil, err
		}
		idxs := parsed.([]int)
		out := make([]string, 0, len(idxs))
		for _, idx := range idxs {
			c, err := o.choiceAt(idx)
			if err != nil {
				return nil, err
			}
			out = append(out, c)
		}
		return out, nil

	default:
		return v, nil
	}
}

func (o ConfigOption) choiceAt(idx int) (string, error) {
	if idx < 1 || idx > len(o.choices) {
		return "", o.errorf("index %d out of range [1,%d]", idx, len(o.choices))
	}
	return o.choices[idx-1], nil
}

func (o ConfigOption) parseIndex(raw any) (int, error) {
	switch v := raw.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		// JSON numbers decode as float64.
		if v != float64(int(v)) {
			return 0, o.errorf("index %v is not an integer", v)
		}
		return int(v), nil
	case string:
		idx, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, o.errorf("invalid index %q", v)
		}
		return idx, nil
	default:
		return 0, o.errorf("cannot parse %T as index", raw)
	}
}

func (o ConfigOption) errorf(format string, args ...any) error {
	return &ConfigError{Option: o.name, Reason: fmt.Sprintf(format, args...)}
}

func splitLines(s string) []string {
	out := []string{}
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	return out
}

func stringSlice(in []any) ([]string, error) {
	out := make([]string, 0, len(in))
	for _, v := range in {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("list item %v is %T, not string", v, v)
		}
		out = append(out, s)
	}
	return out, nil
}
