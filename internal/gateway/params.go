package gateway

import (
	"errors"
	"net/url"
	"time"

	"github.com/spf13/cast"
)

type fieldKind int

const (
	kindString fieldKind = iota
	kindBytes
	kindInt
	kindDuration
)

// field declares one parameter of an operation schema. A field is filled
// from the query param matching its name, then its alias, then the
// positional "arg" value at index arg. Unknown params are ignored.
type field struct {
	name     string
	kind     fieldKind
	required bool
	alias    string
	arg      int // positional index, -1 for flag-only
	def      any
}

type schema struct {
	fields []field
	// exactArity pins the number of positional args to the number of
	// positional fields (put: exactly key and value).
	exactArity bool
}

const (
	opFindPeer  = "findpeer"
	opFindProvs = "findprovs"
	opGet       = "get"
	opPut       = "put"
	opProvide   = "provide"
	opQuery     = "query"
	opBootstrap = "bootstrap/reset"
)

var timeoutField = field{name: "timeout", kind: kindDuration, arg: -1}

var opSchemas = map[string]schema{
	opFindPeer: {fields: []field{
		{name: "peerId", kind: kindString, required: true, arg: 0},
		timeoutField,
	}},
	opFindProvs: {fields: []field{
		{name: "cid", kind: kindString, required: true, arg: 0},
		{name: "numProviders", kind: kindInt, alias: "num-providers", arg: -1, def: 20},
		timeoutField,
	}},
	opGet: {fields: []field{
		{name: "key", kind: kindBytes, required: true, arg: 0},
		timeoutField,
	}},
	opPut: {
		fields: []field{
			{name: "key", kind: kindBytes, required: true, arg: 0},
			{name: "value", kind: kindBytes, required: true, arg: 1},
			timeoutField,
		},
		exactArity: true,
	},
	opProvide: {fields: []field{
		{name: "cid", kind: kindString, required: true, arg: 0},
		timeoutField,
	}},
	opQuery: {fields: []field{
		{name: "peerId", kind: kindString, required: true, arg: 0},
		timeoutField,
	}},
	opBootstrap: {fields: []field{timeoutField}},
}

// Params is the normalized, typed parameter mapping produced by parseParams.
type Params map[string]any

func (p Params) String(name string) string {
	v, _ := p[name].(string)
	return v
}

func (p Params) Bytes(name string) []byte {
	v, _ := p[name].([]byte)
	return v
}

func (p Params) Int(name string) int {
	v, _ := p[name].(int)
	return v
}

func (p Params) Duration(name string) time.Duration {
	v, _ := p[name].(time.Duration)
	return v
}

// parseParams evaluates the operation schema against the raw query values.
// Positional values arrive as repeated "arg" params, in order.
func parseParams(op string, raw url.Values) (Params, error) {
	sc, ok := opSchemas[op]
	if !ok {
		return nil, validationErr("operation", "unknown operation %q", op)
	}

	args := raw["arg"]
	if sc.exactArity {
		want := 0
		for _, f := range sc.fields {
			if f.arg >= 0 {
				want++
			}
		}
		if len(args) != want {
			return nil, validationErr("arg", "expected exactly %d arguments, got %d", want, len(args))
		}
	}

	out := make(Params, len(sc.fields))
	for _, f := range sc.fields {
		rawVal, found := lookup(raw, args, f)
		if !found {
			if f.required {
				return nil, validationErr(f.name, "required")
			}
			if f.def != nil {
				out[f.name] = f.def
			}
			continue
		}
		v, err := coerce(f.kind, rawVal)
		if err != nil {
			return nil, validationErr(f.name, "%v", err)
		}
		out[f.name] = v
	}
	return out, nil
}

func lookup(raw url.Values, args []string, f field) (string, bool) {
	if vs, ok := raw[f.name]; ok && len(vs) > 0 {
		return vs[0], true
	}
	if f.alias != "" {
		if vs, ok := raw[f.alias]; ok && len(vs) > 0 {
			return vs[0], true
		}
	}
	if f.arg >= 0 && f.arg < len(args) {
		return args[f.arg], true
	}
	return "", false
}

func coerce(k fieldKind, raw string) (any, error) {
	switch k {
	case kindBytes:
		return []byte(raw), nil
	case kindInt:
		return cast.ToIntE(raw)
	case kindDuration:
		return cast.ToDurationE(raw)
	default:
		if raw == "" {
			return nil, errors.New("empty value")
		}
		return raw, nil
	}
}
