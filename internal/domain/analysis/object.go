package analysis

import (
	"bytes"
	"context"
	"io"
	"reflect"
	"slices"
)

// Object is the contract a target must satisfy to be analyzed. Objects are
// owned by the surrounding threat-intel data layer; this package only reads them.
type Object interface {
	// ID uniquely identifies the object within its type.
	ID() string
	// Type returns the object's type tag, e.g. "Sample" or "Certificate".
	Type() string
	// Attr returns the named attribute, or nil when absent.
	Attr(name string) any
}

// PayloadObject is implemented by objects that carry a readable binary payload.
type PayloadObject interface {
	Object
	Payload(ctx context.Context) (io.ReadCloser, error)
}

// AttrLister is implemented by objects that can enumerate their attributes.
// SnapshotObject copies every listed attribute, not only the required ones.
type AttrLister interface {
	AttrNames() []string
}

// Target is a self-contained Object used by the CLI, the process worker
// protocol and tests.
type Target struct {
	ObjectID   string         `json:"id"`
	ObjectType string         `json:"type"`
	Attrs      map[string]any `json:"attrs,omitempty"`
	Data       []byte         `json:"data,omitempty"`
}

var (
	_ PayloadObject = (*Target)(nil)
	_ AttrLister    = (*Target)(nil)
)

func (t *Target) ID() string   { return t.ObjectID }
func (t *Target) Type() string { return t.ObjectType }

// Attr returns the named attribute, or nil when absent.
func (t *Target) Attr(name string) any {
	if t.Attrs == nil {
		return nil
	}
	return t.Attrs[name]
}

// AttrNames lists the target's attribute names.
func (t *Target) AttrNames() []string {
	names := make([]string, 0, len(t.Attrs))
	for name := range t.Attrs {
		names = append(names, name)
	}
	return names
}

// Payload returns a reader over the target's data.
func (t *Target) Payload(context.Context) (io.ReadCloser, error) {
	if t.Data == nil {
		return nil, ErrNoPayload
	}
	return io.NopCloser(bytes.NewReader(t.Data)), nil
}

// SnapshotObject copies an arbitrary Object into a Target so it can cross a
// process boundary. attrs names the attributes to copy at minimum; objects
// implementing AttrLister contribute every attribute they list. The payload is
// read eagerly when the object exposes one.
func SnapshotObject(ctx context.Context, obj Object, attrs []string) (*Target, error) {
	if t, ok := obj.(*Target); ok {
		return t, nil
	}

	if l, ok := obj.(AttrLister); ok {
		attrs = append(slices.Clone(attrs), l.AttrNames()...)
	}
	out := &Target{ObjectID: obj.ID(), ObjectType: obj.Type(), Attrs: make(map[string]any, len(attrs))}
	for _, name := range attrs {
		if _, seen := out.Attrs[name]; seen {
			continue
		}
		if v := obj.Attr(name); v != nil {
			out.Attrs[name] = v
		}
	}

	if p, ok := obj.(PayloadObject); ok {
		rc, err := p.Payload(ctx)
		if err != nil {
			return out, nil
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, err
		}
		out.Data = data
	}
	return out, nil
}

// truthy mirrors the notion of a "present and non-empty" attribute.
func truthy(v any) bool {
	if v == nil {
		return false
	}
	switch tv := v.(type) {
	case bool:
		return tv
	case string:
		return tv != ""
	case []byte:
		return len(tv) > 0
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array, reflect.Chan, reflect.String:
		return rv.Len() > 0
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() != 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return rv.Uint() != 0
	case reflect.Float32, reflect.Float64:
		return rv.Float() != 0
	case reflect.Pointer, reflect.Interface:
		return !rv.IsNil()
	default:
		return true
	}
}
