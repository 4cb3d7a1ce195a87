// Package options walks the variable-length option lists of IPv4 and TCP
// headers. Scanning is lazy, bounds-checked and stops at the first malformed
// entry, keeping every option decoded before it.
package options

import (
	"encoding/hex"
	"fmt"

	"Go2NetSensor/internal/engine/registry"
)

// Truncation reasons.
const (
	ReasonMissingLength = "missing_length"
	ReasonZeroLength    = "zero_length"
	ReasonBelowMinimum  = "length_below_minimum"
	ReasonOverrun       = "length_exceeds_remaining"
	ReasonFixedMismatch = "fixed_length_mismatch"
)

// Option is one decoded option. Data aliases the scanned buffer.
type Option struct {
	Offset int
	Spec   registry.OptionSpec
	Length int
	Data   []byte
}

func (o Option) String() string {
	if len(o.Data) == 0 {
		return o.Spec.Name
	}
	return fmt.Sprintf("%s(%s)", o.Spec.Name, hex.EncodeToString(o.Data))
}

// Truncation marks where and why scanning stopped early.
type Truncation struct {
	Offset   int
	Code     uint8
	Declared int
	Reason   string
}

func (t *Truncation) Error() string {
	return fmt.Sprintf("option %d at offset %d: %s (declared length %d)", t.Code, t.Offset, t.Reason, t.Declared)
}

// Scanner yields options one at a time. It is finite and cannot be restarted;
// create a new scanner to walk the same bytes again.
type Scanner struct {
	buf     []byte
	pos     int
	resolve func(uint8) registry.OptionSpec
	cur     Option
	trunc   *Truncation
	padding []byte
	done    bool
}

// NewIPScanner returns a scanner over IPv4 option bytes.
func NewIPScanner(b []byte) *Scanner {
	return &Scanner{buf: b, resolve: registry.ResolveIPOption}
}

// NewTCPScanner returns a scanner over TCP option bytes.
func NewTCPScanner(b []byte) *Scanner {
	return &Scanner{buf: b, resolve: func(kind uint8) registry.OptionSpec {
		spec, _ := registry.ResolveTCPOption(kind)
		return spec
	}}
}

// Next advances to the next option and reports whether one is available.
func (s *Scanner) Next() bool {
	if s.done {
		return false
	}
	if s.pos >= len(s.buf) {
		s.done = true
		return false
	}

	code := s.buf[s.pos]
	spec := s.resolve(code)

	if spec.SingleOctet() {
		s.cur = Option{Offset: s.pos, Spec: spec, Length: 1}
		s.pos++
		// EOL is 0 in both code spaces.
		if code == 0 {
			s.padding = s.buf[s.pos:]
			s.done = true
		}
		return true
	}

	if s.pos+1 >= len(s.buf) {
		return s.stop(code, 0, ReasonMissingLength)
	}
	length := int(s.buf[s.pos+1])
	switch {
	case length == 0:
		return s.stop(code, length, ReasonZeroLength)
	case length < 2:
		return s.stop(code, length, ReasonBelowMinimum)
	case length > len(s.buf)-s.pos:
		return s.stop(code, length, ReasonOverrun)
	case !spec.Length.Accepts(length):
		if spec.Length.Variable {
			return s.stop(code, length, ReasonBelowMinimum)
		}
		return s.stop(code, length, ReasonFixedMismatch)
	}

	s.cur = Option{
		Offset: s.pos,
		Spec:   spec,
		Length: length,
		Data:   s.buf[s.pos+2 : s.pos+length],
	}
	s.pos += length
	return true
}

func (s *Scanner) stop(code uint8, declared int, reason string) bool {
	s.trunc = &Truncation{Offset: s.pos, Code: code, Declared: declared, Reason: reason}
	s.done = true
	return false
}

// Option returns the option produced by the last successful Next.
func (s *Scanner) Option() Option { return s.cur }

// Truncation returns the marker left by a malformed entry, or nil.
func (s *Scanner) Truncation() *Truncation { return s.trunc }

// Padding returns the bytes following an end-of-options-list marker.
func (s *Scanner) Padding() []byte { return s.padding }

// Remaining returns the bytes not consumed by the scan so far.
func (s *Scanner) Remaining() []byte { return s.buf[s.pos:] }

// Result is a fully collected option list.
type Result struct {
	Options    []Option
	Truncation *Truncation
	Padding    []byte
}

// Tainted reports whether the list could not be walked to its end.
func (r Result) Tainted() bool { return r.Truncation != nil }

// Names returns the semantic names of the collected options in order.
func (r Result) Names() []string {
	names := make([]string, 0, len(r.Options))
	for _, o := range r.Options {
		names = append(names, o.Spec.Name)
	}
	return names
}

// ParseIP collects every option in an IPv4 option list.
func ParseIP(b []byte) Result { return collect(NewIPScanner(b)) }

// ParseTCP collects every option in a TCP option list.
func ParseTCP(b []byte) Result { return collect(NewTCPScanner(b)) }

func collect(s *Scanner) Result {
	var res Result
	for s.Next() {
		res.Options = append(res.Options, s.Option())
	}
	res.Truncation = s.Truncation()
	res.Padding = s.Padding()
	return res
}
