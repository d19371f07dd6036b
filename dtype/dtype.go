// Package dtype decodes compact type-name strings ("int8", "float16x4",
// "handle") into structured descriptors used when building packed call
// arguments. Parsing is best-effort: unrecognized input produces a
// diagnostic through the package logger, never an error.
package dtype

import "go.uber.org/zap"

// Code identifies the scalar family of a descriptor.
type Code uint8

const (
	Int Code = iota
	UInt
	Float
	Handle
)

func (c Code) String() string {
	switch c {
	case Int:
		return "int"
	case UInt:
		return "uint"
	case Float:
		return "float"
	case Handle:
		return "handle"
	default:
		return "unknown"
	}
}

// Descriptor is a parsed type descriptor: scalar family, bit width, and
// vector lane count.
type Descriptor struct {
	Code  Code
	Bits  uint8
	Lanes uint16
}

// None is the sentinel descriptor returned for the empty type name.
var None = Descriptor{Code: Handle, Bits: 0, Lanes: 0}

// Bool is the fixed descriptor for the "bool" alias.
var Bool = Descriptor{Code: UInt, Bits: 1, Lanes: 1}

// Parse decodes a type-name string into a Descriptor. It never fails: an
// unrecognized form emits a diagnostic and the best-effort descriptor is
// still returned.
//
// Grammar, applied in order: the empty string yields None; "bool" is an
// exact-match alias; otherwise one of the prefixes "int", "uint", "float",
// or "handle" selects the code ("handle" defaults to 64 bits, the rest to
// 32), and the remaining suffix is decimal bits optionally followed by
// 'x' and decimal lanes.
func Parse(name string) Descriptor {
	if name == "" {
		return None
	}
	if name == "bool" {
		return Bool
	}

	d := Descriptor{Bits: 32, Lanes: 1}
	rest := name
	switch {
	case hasPrefix(name, "int"):
		d.Code = Int
		rest = name[3:]
	case hasPrefix(name, "uint"):
		d.Code = UInt
		rest = name[4:]
	case hasPrefix(name, "float"):
		d.Code = Float
		rest = name[5:]
	case hasPrefix(name, "handle"):
		d.Code = Handle
		d.Bits = 64
		rest = name[6:]
	default:
		Logger().Warn("unknown type prefix", zap.String("name", name))
	}

	bits, rest := scanDigits(rest)
	switch {
	case bits > 0xFF:
		Logger().Warn("bit width out of range",
			zap.String("name", name), zap.Uint64("bits", bits))
	case bits != 0:
		d.Bits = uint8(bits)
	}
	if len(rest) > 0 && rest[0] == 'x' {
		var lanes uint64
		lanes, rest = scanDigits(rest[1:])
		if lanes > 0xFFFF {
			Logger().Warn("lane count out of range",
				zap.String("name", name), zap.Uint64("lanes", lanes))
		} else {
			d.Lanes = uint16(lanes)
		}
	}
	if rest != "" {
		Logger().Warn("trailing characters in type name",
			zap.String("name", name), zap.String("trailing", rest))
	}
	return d
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// scanDigits consumes a leading run of decimal digits and returns its
// value plus the unconsumed remainder. No digits yields zero, matching
// the "keep the default" convention used by Parse.
func scanDigits(s string) (uint64, string) {
	var v uint64
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		v = v*10 + uint64(s[i]-'0')
		i++
	}
	return v, s[i:]
}
