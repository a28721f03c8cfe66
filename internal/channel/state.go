package channel

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Kind discriminates State values.
type Kind int

const (
	KindUndef Kind = iota
	KindDecimal
	KindDateTime
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindDecimal:
		return "decimal"
	case KindDateTime:
		return "datetime"
	case KindString:
		return "string"
	default:
		return "undef"
	}
}

// State is the value pushed for a channel. The zero value is Undef.
type State struct {
	kind Kind
	dec  decimal.Decimal
	at   time.Time
	str  string
}

// Undef is the state of a channel whose value is absent or unconvertible.
var Undef = State{}

func DecimalState(d decimal.Decimal) State { return State{kind: KindDecimal, dec: d} }
func DateTimeState(t time.Time) State      { return State{kind: KindDateTime, at: t} }
func StringState(s string) State           { return State{kind: KindString, str: s} }

// DecimalOrUndef maps an optional decimal to a state.
func DecimalOrUndef(d *decimal.Decimal) State {
	if d == nil {
		return Undef
	}
	return DecimalState(*d)
}

// DateTimeOrUndef maps an optional time to a state.
func DateTimeOrUndef(t *time.Time) State {
	if t == nil {
		return Undef
	}
	return DateTimeState(*t)
}

// StringOrUndef maps an optional string to a state.
func StringOrUndef(s *string) State {
	if s == nil {
		return Undef
	}
	return StringState(*s)
}

func (s State) Kind() Kind    { return s.kind }
func (s State) IsUndef() bool { return s.kind == KindUndef }

func (s State) Decimal() (decimal.Decimal, bool) { return s.dec, s.kind == KindDecimal }
func (s State) DateTime() (time.Time, bool)      { return s.at, s.kind == KindDateTime }
func (s State) Text() (string, bool)             { return s.str, s.kind == KindString }

// Equal compares kind and value; decimals compare numerically.
func (s State) Equal(o State) bool {
	if s.kind != o.kind {
		return false
	}
	switch s.kind {
	case KindDecimal:
		return s.dec.Equal(o.dec)
	case KindDateTime:
		return s.at.Equal(o.at)
	case KindString:
		return s.str == o.str
	default:
		return true
	}
}

func (s State) String() string {
	switch s.kind {
	case KindDecimal:
		return formatDecimal(s.dec)
	case KindDateTime:
		return s.at.Format(time.RFC3339)
	case KindString:
		return s.str
	default:
		return "UNDEF"
	}
}

type stateJSON struct {
	Type  string `json:"type"`
	Value any    `json:"value"`
}

// MarshalJSON encodes the state as {"type": ..., "value": ...}. Decimals are
// emitted as JSON numbers with their scale preserved.
func (s State) MarshalJSON() ([]byte, error) {
	out := stateJSON{Type: s.kind.String()}
	switch s.kind {
	case KindDecimal:
		out.Value = json.Number(formatDecimal(s.dec))
	case KindDateTime:
		out.Value = s.at.Format(time.RFC3339)
	case KindString:
		out.Value = s.str
	}
	return json.Marshal(out)
}

// formatDecimal keeps trailing zeros so 1016.00 stays 1016.00.
func formatDecimal(d decimal.Decimal) string {
	if exp := d.Exponent(); exp < 0 {
		return d.StringFixed(-exp)
	}
	return d.String()
}
