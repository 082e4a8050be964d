package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
)

// ErrMalformedNumber is returned when a ledger-native number cannot be decoded.
// It is never coerced to zero.
var ErrMalformedNumber = errors.New("malformed hex number")

// BigNumber is the ledger wire form of an arbitrary-precision integer.
type BigNumber struct {
	Type string `json:"type,omitempty"`
	Hex  string `json:"hex"`
}

// NewBigNumber encodes v the way the ledger does.
func NewBigNumber(v *big.Int) BigNumber {
	return BigNumber{Type: "BigNumber", Hex: hexutil.EncodeBig(v)}
}

// Int decodes the hex payload.
func (b BigNumber) Int() (*big.Int, error) {
	return DecodeBig(b.Hex)
}

// DecodeBig parses a 0x-prefixed hexadecimal string into a non-negative
// 256-bit integer. Leading zero digits are accepted.
func DecodeBig(s string) (*big.Int, error) {
	if len(s) < 3 || (s[:2] != "0x" && s[:2] != "0X") {
		return nil, fmt.Errorf("%w: %q", ErrMalformedNumber, s)
	}
	v, ok := math.ParseBig256(s)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("%w: %q", ErrMalformedNumber, s)
	}
	return v, nil
}

// ID is a record identifier. The realtime database stores identifiers both as
// strings and as numbers, so both decode into the same textual form.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("identifier must be a string or number: %w", err)
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string {
	return string(id)
}

// Int returns the identifier as an integer when it is a decimal number.
func (id ID) Int() (*big.Int, bool) {
	if id == "" {
		return nil, false
	}
	return new(big.Int).SetString(string(id), 10)
}

// Compare orders decimal integer identifiers numerically and before every
// other identifier. The rest compare lexicographically.
func (id ID) Compare(other ID) int {
	a, okA := id.Int()
	b, okB := other.Int()
	switch {
	case okA && okB:
		if c := a.Cmp(b); c != 0 {
			return c
		}
	case okA:
		return -1
	case okB:
		return 1
	}
	return strings.Compare(string(id), string(other))
}

// Matches reports whether a ledger-decoded number denotes this identifier.
func (id ID) Matches(v *big.Int) bool {
	if v == nil {
		return false
	}
	n, ok := id.Int()
	if !ok {
		return false
	}
	return n.Cmp(v) == 0
}

// Memberships is the list of elections a voter or candidate belongs to.
// It decodes from a JSON array or from a comma separated string.
type Memberships []ID

func (m *Memberships) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*m = nil
		return nil
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		out := Memberships{}
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, ID(part))
			}
		}
		*m = out
		return nil
	case len(data) > 0 && data[0] == '{':
		// sparse arrays come back from the realtime database as objects
		var obj map[string]ID
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		out := make(Memberships, 0, len(obj))
		for _, v := range obj {
			out = append(out, v)
		}
		*m = out
		return nil
	}
	var ids []ID
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	*m = ids
	return nil
}

// Contains reports exact membership of id.
func (m Memberships) Contains(id ID) bool {
	for _, v := range m {
		if v == id {
			return true
		}
	}
	return false
}
