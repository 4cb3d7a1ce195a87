// Package registry holds the immutable code tables for the three independent
// code spaces the sensor has to tell apart: ICMP type/code pairs, IPv4 option
// numbers and TCP option kinds. Every lookup is total: a code missing from a
// table resolves to an "unrecognized(N)" entry instead of failing.
package registry

import "fmt"

// ExpectedLength is the on-wire length of an option, type and length octets
// included. Variable options carry their minimum in Len.
type ExpectedLength struct {
	Len      uint8
	Variable bool
}

// Fixed returns an exact expected length.
func Fixed(n uint8) ExpectedLength { return ExpectedLength{Len: n} }

// Variable returns a variable expected length with the given minimum.
func Variable(min uint8) ExpectedLength { return ExpectedLength{Len: min, Variable: true} }

// Accepts reports whether a declared option length is valid for this kind.
func (e ExpectedLength) Accepts(n int) bool {
	if e.Variable {
		return n >= int(e.Len)
	}
	return n == int(e.Len)
}

func (e ExpectedLength) String() string {
	if e.Variable {
		return fmt.Sprintf("variable(min %d)", e.Len)
	}
	return fmt.Sprintf("fixed(%d)", e.Len)
}

// OptionSpec is the resolved description of an IP option number or a TCP
// option kind.
type OptionSpec struct {
	Code       uint8
	Name       string
	Recognized bool
	Length     ExpectedLength
}

// SingleOctet reports whether the option has no length octet (EOL and NOP).
func (s OptionSpec) SingleOctet() bool {
	return !s.Length.Variable && s.Length.Len == 1
}

// Unrecognized formats the fallback semantic name for an unknown code.
func Unrecognized(code int) string {
	return fmt.Sprintf("unrecognized(%d)", code)
}

type optionEntry struct {
	name   string
	length ExpectedLength
}

func resolveOption(table map[uint8]optionEntry, code uint8) OptionSpec {
	entry, ok := table[code]
	if !ok {
		return OptionSpec{
			Code:   code,
			Name:   Unrecognized(int(code)),
			Length: Variable(2),
		}
	}
	return OptionSpec{
		Code:       code,
		Name:       entry.name,
		Recognized: true,
		Length:     entry.length,
	}
}
