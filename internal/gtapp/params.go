// Package gtapp invokes the Fermi science tools. Tools are opaque executables
// that take key=value arguments and read their parameter files from the
// search path given in PFILES.
package gtapp

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Param is one key=value argument.
type Param struct {
	Key   string
	Value any
}

// Params is an ordered argument list.
type Params []Param

// Set appends or replaces key.
func (p Params) Set(key string, value any) Params {
	for i := range p {
		if p[i].Key == key {
			p[i].Value = value
			return p
		}
	}
	return append(p, Param{Key: key, Value: value})
}

// Get returns the value stored under key.
func (p Params) Get(key string) (any, bool) {
	for _, param := range p {
		if param.Key == key {
			return param.Value, true
		}
	}
	return nil, false
}

// Filtered drops unset entries (nil values and nil pointers).
func (p Params) Filtered() Params {
	out := make(Params, 0, len(p))
	for _, param := range p {
		if isUnset(param.Value) {
			continue
		}
		out = append(out, param)
	}
	return out
}

// Args renders the set entries as key=value command-line arguments.
func (p Params) Args() []string {
	filtered := p.Filtered()
	args := make([]string, 0, len(filtered))
	for _, param := range filtered {
		args = append(args, param.Key+"="+FormatValue(param.Value))
	}
	return args
}

// Fingerprint hashes the tool name and its rendered arguments.
func (p Params) Fingerprint(tool string) string {
	h := sha256.New()
	h.Write([]byte(tool))
	for _, arg := range p.Args() {
		h.Write([]byte{0})
		h.Write([]byte(arg))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// FormatValue renders a parameter value the way the tools parse it.
func FormatValue(value any) string {
	v := reflect.ValueOf(value)
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return ""
		}
		v = v.Elem()
	}
	switch v.Kind() {
	case reflect.Bool:
		if v.Bool() {
			return "yes"
		}
		return "no"
	case reflect.Float32, reflect.Float64:
		return strconv.FormatFloat(v.Float(), 'g', -1, 64)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(v.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(v.Uint(), 10)
	case reflect.String:
		return v.String()
	default:
		return fmt.Sprint(v.Interface())
	}
}

// String renders the list for log lines.
func (p Params) String() string {
	return strings.Join(p.Args(), " ")
}

func isUnset(value any) bool {
	if value == nil {
		return true
	}
	v := reflect.ValueOf(value)
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice:
		return v.IsNil()
	}
	return false
}
