/*
 *	Copyright 2023 Jan Pfeifer
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

// Package params holds the hyperparameters of generation: a mapping from a key to a value of
// any type, where the type of the default value defines how the value is parsed from text.
//
// Example:
//
//	p := params.New(map[string]any{
//		"max_tokens": 0,
//		"lambdas":    []float64{0.1, 0.3, 0.6},
//	})
//	_ = p.SetFromString("max_tokens", "200")
//	maxTokens := params.GetOr(p, "max_tokens", 0) // 200
package params

import (
	"encoding"
	"reflect"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// Params maps hyperparameter keys to values.
//
// Params is not safe for concurrent writes. It is typically configured once at start up and only
// read afterward.
type Params struct {
	values map[string]any
}

// New creates Params initialized with a copy of the given defaults (it may be nil).
func New(defaults map[string]any) *Params {
	p := &Params{values: make(map[string]any, len(defaults))}
	for key, value := range defaults {
		p.values[key] = value
	}
	return p
}

// Clone returns a copy of the Params. Slice values are shared.
func (p *Params) Clone() *Params {
	return New(p.values)
}

// Set sets the value for the given key.
func (p *Params) Set(key string, value any) {
	p.values[key] = value
}

// SetParams sets a collection of parameters. It's a shortcut to multiple calls to Set.
func (p *Params) SetParams(keyValues map[string]any) {
	for key, value := range keyValues {
		p.values[key] = value
	}
}

// Get returns the value for the given key and whether it was found.
func (p *Params) Get(key string) (value any, found bool) {
	value, found = p.values[key]
	return
}

// Has returns whether the key is set.
func (p *Params) Has(key string) bool {
	_, found := p.values[key]
	return found
}

// Enumerate calls fn for every parameter, in key order.
func (p *Params) Enumerate(fn func(key string, value any)) {
	keys := make([]string, 0, len(p.values))
	for key := range p.values {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	for _, key := range keys {
		fn(key, p.values[key])
	}
}

// String lists the parameters as "key=value" separated by ";", the same format accepted by the
// "-set" flag.
func (p *Params) String() string {
	var parts []string
	p.Enumerate(func(key string, value any) {
		parts = append(parts, key+"="+FormatValue(value))
	})
	return strings.Join(parts, ";")
}

var textUnmarshalerType = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()

// MustGet is like Params.Get, but panics if the parameter is not found or if it can't be converted
// to T.
//
// If the value is not of type T, it tries to convert it: an int is converted to a float64
// transparently, and strings are parsed by T's encoding.TextUnmarshaler, if it implements one.
func MustGet[T any](p *Params, key string) T {
	var t T
	valueAny, found := p.Get(key)
	if !found {
		exceptions.Panicf("parameter %q (of type %T) not found", key, t)
	}
	if value, ok := valueAny.(T); ok {
		return value
	}

	v := reflect.ValueOf(valueAny)
	typeOfT := reflect.TypeOf(t)
	valueT := reflect.New(typeOfT)
	if valueT.Type().Implements(textUnmarshalerType) && v.Kind() == reflect.String {
		if err := valueT.Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(v.String())); err != nil {
			exceptions.Panicf("can't UnmarshalText %q to %s for parameter %q: %v", v.String(), typeOfT, key, err)
		}
		return valueT.Elem().Interface().(T)
	}
	if !v.IsValid() || !v.CanConvert(typeOfT) {
		exceptions.Panicf("parameter %q=(%T) %#v cannot be converted to %T", key, valueAny, valueAny, t)
	}
	return v.Convert(typeOfT).Interface().(T)
}

// GetOr returns the value for the given key converted to T (see MustGet), or defaultValue if the
// key is not set or is set to nil.
func GetOr[T any](p *Params, key string, defaultValue T) T {
	valueAny, found := p.Get(key)
	if !found || valueAny == nil {
		return defaultValue
	}
	return MustGet[T](p, key)
}

// Get returns the value for the given key converted to T (see MustGet). It returns an error instead
// of panicking.
func Get[T any](p *Params, key string) (value T, err error) {
	err = exceptions.TryCatch[error](func() { value = MustGet[T](p, key) })
	if err != nil {
		err = errors.WithMessagef(err, "failed to get parameter %q", key)
	}
	return
}
