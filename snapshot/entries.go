package snapshot

import (
	"fmt"
	"strings"
)

// Option is one parsed "key=value" storage option.
type Option struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// String renders the option in its server form.
func (o Option) String() string {
	return o.Name + "=" + o.Value
}

// Binding exposes the option to templates.
func (o Option) Binding() map[string]interface{} {
	return map[string]interface{}{"name": o.Name, "value": o.Value}
}

// ParseOption splits "key=value" at the first '='.
func ParseOption(raw string) (Option, error) {
	name, value, ok := strings.Cut(raw, "=")
	if !ok || name == "" {
		return Option{}, fmt.Errorf("malformed option %q: expected key=value", raw)
	}
	return Option{Name: name, Value: value}, nil
}

// SecLabel is one parsed "provider=label" security label.
type SecLabel struct {
	Provider string `json:"provider"`
	Label    string `json:"label"`
}

// String renders the label in its server form.
func (l SecLabel) String() string {
	return l.Provider + "=" + l.Label
}

// Binding exposes the label to templates.
func (l SecLabel) Binding() map[string]interface{} {
	return map[string]interface{}{"provider": l.Provider, "label": l.Label}
}

// ParseSecLabel splits "provider=label" at the first '='.
func ParseSecLabel(raw string) (SecLabel, error) {
	provider, label, ok := strings.Cut(raw, "=")
	if !ok || provider == "" {
		return SecLabel{}, fmt.Errorf("malformed security label %q: expected provider=label", raw)
	}
	return SecLabel{Provider: provider, Label: label}, nil
}

// ParseOptions parses every entry of a text[] option column.
func ParseOptions(raw []string) ([]Option, error) {
	return parseAll(raw, ParseOption)
}

// FormatOptions is the inverse of ParseOptions.
func FormatOptions(opts []Option) []string {
	return formatAll(opts)
}

// ParseSecLabels parses every entry of a text[] security label column.
func ParseSecLabels(raw []string) ([]SecLabel, error) {
	return parseAll(raw, ParseSecLabel)
}

// FormatSecLabels is the inverse of ParseSecLabels.
func FormatSecLabels(labels []SecLabel) []string {
	return formatAll(labels)
}

func parseAll[T any](raw []string, parse func(string) (T, error)) ([]T, error) {
	if raw == nil {
		return nil, nil
	}
	out := make([]T, 0, len(raw))
	for _, item := range raw {
		v, err := parse(item)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func formatAll[T fmt.Stringer](items []T) []string {
	if items == nil {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, item.String())
	}
	return out
}

// OptionBindings converts options for template use.
func OptionBindings(opts []Option) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(opts))
	for _, o := range opts {
		out = append(out, o.Binding())
	}
	return out
}

// SecLabelBindings converts labels for template use.
func SecLabelBindings(labels []SecLabel) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(labels))
	for _, l := range labels {
		out = append(out, l.Binding())
	}
	return out
}
