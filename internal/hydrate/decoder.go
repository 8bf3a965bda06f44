// Package hydrate turns JSON-shaped state (maps, slices, float64 numbers), as
// found after a server render payload is unmarshalled, back into typed values.
package hydrate

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Context identifies the state value being decoded.
type Context struct {
	Path string
}

// PreHook rewrites the raw value before decoding. Returning nil keeps it.
type PreHook func(Context, any) (any, error)

// PostHook adjusts or validates the decoded value.
type PostHook[T any] func(Context, *T) error

// CustomDecoder replaces the JSON conversion.
type CustomDecoder[T any] func(Context, any) (T, error)

// Option configures a Decoder.
type Option[T any] func(*Decoder[T])

// Decoder converts state values into T.
type Decoder[T any] struct {
	pre       []PreHook
	post      []PostHook[T]
	custom    CustomDecoder[T]
	useNumber bool
	strict    bool
}

func WithPreHook[T any](hook PreHook) Option[T] {
	return func(d *Decoder[T]) {
		if hook != nil {
			d.pre = append(d.pre, hook)
		}
	}
}

func WithPostHook[T any](hook PostHook[T]) Option[T] {
	return func(d *Decoder[T]) {
		if hook != nil {
			d.post = append(d.post, hook)
		}
	}
}

// WithUseNumber keeps numbers as json.Number when decoding into interfaces.
func WithUseNumber[T any]() Option[T] {
	return func(d *Decoder[T]) {
		d.useNumber = true
	}
}

// WithDisallowUnknownFields rejects object keys with no matching field.
func WithDisallowUnknownFields[T any]() Option[T] {
	return func(d *Decoder[T]) {
		d.strict = true
	}
}

func WithCustomDecoder[T any](decoder CustomDecoder[T]) Option[T] {
	return func(d *Decoder[T]) {
		d.custom = decoder
	}
}

func NewDecoder[T any](opts ...Option[T]) *Decoder[T] {
	d := &Decoder[T]{}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Decode converts value into T. Without options a value that already is a T
// is returned untouched.
func (d *Decoder[T]) Decode(ctx Context, value any) (T, error) {
	var out T
	if value == nil {
		return out, failure(ctx, "value is nil", nil)
	}
	if typed, ok := value.(T); ok && d.passthrough() {
		return typed, nil
	}

	for _, hook := range d.pre {
		next, err := hook(ctx, value)
		if err != nil {
			return out, failure(ctx, "pre-hook", err)
		}
		if next != nil {
			value = next
		}
	}

	out, err := d.convert(ctx, value)
	if err != nil {
		return out, err
	}

	for _, hook := range d.post {
		if err := hook(ctx, &out); err != nil {
			var zero T
			return zero, failure(ctx, "post-hook", err)
		}
	}
	return out, nil
}

func (d *Decoder[T]) convert(ctx Context, value any) (T, error) {
	if d.custom != nil {
		out, err := d.custom(ctx, value)
		if err != nil {
			return out, failure(ctx, "custom decoder", err)
		}
		return out, nil
	}

	var out T
	raw, err := json.Marshal(value)
	if err != nil {
		return out, failure(ctx, "marshal", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	if d.useNumber {
		dec.UseNumber()
	}
	if d.strict {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(&out); err != nil {
		return out, failure(ctx, "decode", err)
	}
	return out, nil
}

func (d *Decoder[T]) passthrough() bool {
	return len(d.pre) == 0 && len(d.post) == 0 && d.custom == nil && !d.useNumber && !d.strict
}

func failure(ctx Context, stage string, err error) error {
	if err == nil {
		return fmt.Errorf("hydrate: %s at path %q", stage, ctx.Path)
	}
	return fmt.Errorf("hydrate: %s at path %q: %w", stage, ctx.Path, err)
}
