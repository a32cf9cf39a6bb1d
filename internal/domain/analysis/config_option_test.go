package analysis

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigOption(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		optName string
		typ     OptionType
		opts    []OptionFunc
		wantErr bool
	}{
		{name: "string option", optName: "api_key", typ: OptionString},
		{name: "select with choices", optName: "mode", typ: OptionSelect, opts: []OptionFunc{WithChoices("fast", "deep")}},
		{name: "select without choices", optName: "mode", typ: OptionSelect, wantErr: true},
		{name: "multi select without choices", optName: "modes", typ: OptionMultiSelect, wantErr: true},
		{name: "unknown type", optName: "x", typ: OptionType("float"), wantErr: true},
		{name: "missing name", optName: "", typ: OptionBool, wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			o, err := NewConfigOption(tt.optName, tt.typ, tt.opts...)
			if tt.wantErr {
				var cfgErr *ConfigError
				require.Error(t, err)
				assert.True(t, errors.As(err, &cfgErr))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.optName, o.Name())
			assert.Equal(t, tt.typ, o.Type())
		})
	}
}

func TestMustConfigOption_Panics(t *testing.T) {
	t.Parallel()
	assert.Panics(t, func() { MustConfigOption("mode", OptionSelect) })
}

func TestConfigOption_Choices_ReturnsCopy(t *testing.T) {
	t.Parallel()

	o := MustConfigOption("mode", OptionSelect, WithChoices("a", "b"))
	choices := o.Choices()
	choices[0] = "mutated"

	assert.Equal(t, []string{"a", "b"}, o.Choices())
}

func TestConfigOption_EnumerateChoices(t *testing.T) {
	t.Parallel()

	o := MustConfigOption("mode", OptionMultiSelect, WithChoices("a", "b", "c"))

	collect := func() map[int]string {
		out := make(map[int]string)
		for i, c := range o.EnumerateChoices() {
			out[i] = c
		}
		return out
	}

	want := map[int]string{1: "a", 2: "b", 3: "c"}
	assert.Equal(t, want, collect())
	// Sequences are restartable.
	assert.Equal(t, want, collect())

	var first []string
	for _, c := range o.EnumerateChoices() {
		first = append(first, c)
		break
	}
	assert.Equal(t, []string{"a"}, first)
}

func TestConfigOption_ParseValue(t *testing.T) {
	t.Parallel()

	list := MustConfigOption("hosts", OptionList)
	sel := MustConfigOption("mode", OptionSelect, WithChoices("fast", "deep"))
	multi := MustConfigOption("modes", OptionMultiSelect, WithChoices("a", "b", "c"))
	str := MustConfigOption("name", OptionString)

	tests := []struct {
		name    string
		option  ConfigOption
		raw     any
		want    any
		wantErr bool
	}{
		{name: "list from string", option: list, raw: "a\n\n b \nc", want: []string{"a", "b", "c"}},
		{name: "list from slice", option: list, raw: []string{" a", "", "b\nc"}, want: []string{"a", "b", "c"}},
		{name: "list from json slice", option: list, raw: []any{"x", "y"}, want: []string{"x", "y"}},
		{name: "empty list", option: list, raw: "", want: []string{}},
		{name: "list of non strings", option: list, raw: []any{1}, wantErr: true},
		{name: "select index", option: sel, raw: "2", want: 2},
		{name: "select json number", option: sel, raw: float64(1), want: 1},
		{name: "select not a number", option: sel, raw: "deep", wantErr: true},
		{name: "multi select strings", option: multi, raw: []string{"1", "3"}, want: []int{1, 3}},
		{name: "multi select json", option: multi, raw: []any{"2", float64(3)}, want: []int{2, 3}},
		{name: "multi select single", option: multi, raw: "2", want: []int{2}},
		{name: "string passes through", option: str, raw: "value", want: "value"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := tt.option.ParseValue(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConfigOption_FormatValue(t *testing.T) {
	t.Parallel()

	list := MustConfigOption("hosts", OptionList)
	sel := MustConfigOption("mode", OptionSelect, WithChoices("fast", "deep"))
	multi := MustConfigOption("modes", OptionMultiSelect, WithChoices("a", "b", "c"))

	got, err := list.FormatValue([]string{"a", "b"}, false)
	require.NoError(t, err)
	assert.Equal(t, "a\nb", got)

	got, err = sel.FormatValue(2, false)
	require.NoError(t, err)
	assert.Equal(t, 2, got)

	got, err = sel.FormatValue(2, true)
	require.NoError(t, err)
	assert.Equal(t, "deep", got)

	got, err = multi.FormatValue([]int{1, 3}, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, got)
}

func TestConfigOption_ReplaceValue(t *testing.T) {
	t.Parallel()

	sel := MustConfigOption("mode", OptionSelect, WithChoices("fast", "deep"))
	multi := MustConfigOption("modes", OptionMultiSelect, WithChoices("a", "b", "c"))

	got, err := sel.ReplaceValue(1)
	require.NoError(t, err)
	assert.Equal(t, "fast", got)

	got, err = multi.ReplaceValue([]int{3, 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a"}, got)

	for _, idx := range []int{0, 3, -1} {
		_, err := sel.ReplaceValue(idx)
		var cfgErr *ConfigError
		require.ErrorAs(t, err, &cfgErr)
		assert.Equal(t, "mode", cfgErr.Option)
	}

	_, err = multi.ReplaceValue([]int{1, 4})
	assert.Error(t, err)
}

func TestConfig_Clone(t *testing.T) {
	t.Parallel()

	cfg := Config{"a": 1}
	clone := cfg.Clone()
	clone["a"] = 2
	clone["b"] = 3

	assert.Equal(t, Config{"a": 1}, cfg)
}

func TestConfig_Accessors(t *testing.T) {
	t.Parallel()

	cfg := Config{
		"name":    "scanner",
		"enabled": "true",
		"flag":    true,
		"limit":   float64(32),
		"count":   "7",
		"hosts":   []any{"a", "b"},
		"lines":   "x\ny",
		"bad":     []any{1},
	}

	assert.Equal(t, "scanner", cfg.String("name"))
	assert.Equal(t, "", cfg.String("missing"))
	assert.True(t, cfg.Bool("enabled"))
	assert.True(t, cfg.Bool("flag"))
	assert.False(t, cfg.Bool("name"))

	n, ok := cfg.Int("limit")
	assert.True(t, ok)
	assert.Equal(t, 32, n)
	n, ok = cfg.Int("count")
	assert.True(t, ok)
	assert.Equal(t, 7, n)
	_, ok = cfg.Int("name")
	assert.False(t, ok)

	assert.Equal(t, []string{"a", "b"}, cfg.Strings("hosts"))
	assert.Equal(t, []string{"x", "y"}, cfg.Strings("lines"))
	assert.Nil(t, cfg.Strings("bad"))
}
