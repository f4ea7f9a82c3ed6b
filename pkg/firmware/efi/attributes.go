package efi

import (
	"fmt"
	"strconv"
	"strings"
)

// Attributes is the variable attribute bitmask. Bits other than the seven
// defined below are reserved and carried through unchanged.
type Attributes uint64

const (
	NonVolatile                       Attributes = 0x0000000000000001
	BootserviceAccess                 Attributes = 0x0000000000000002
	RuntimeAccess                     Attributes = 0x0000000000000004
	HardwareErrorRecord               Attributes = 0x0000000000000008
	AuthenticatedWriteAccess          Attributes = 0x0000000000000010
	TimeBasedAuthenticatedWriteAccess Attributes = 0x0000000000000020
	AppendWrite                       Attributes = 0x0000000000000040

	knownAttributes = NonVolatile | BootserviceAccess | RuntimeAccess |
		HardwareErrorRecord | AuthenticatedWriteAccess |
		TimeBasedAuthenticatedWriteAccess | AppendWrite
)

// DefaultAttributes is NV|BS|RT, what most writable variables use.
const DefaultAttributes = NonVolatile | BootserviceAccess | RuntimeAccess

type attrName struct {
	flag  Attributes
	short string
	long  string
}

var attrNames = []attrName{
	{NonVolatile, "NV", "Non-Volatile"},
	{BootserviceAccess, "BS", "Boot Service Access"},
	{RuntimeAccess, "RT", "Runtime Service Access"},
	{HardwareErrorRecord, "HER", "Hardware Error Record"},
	{AuthenticatedWriteAccess, "AT", "Authenticated Write Access"},
	{TimeBasedAuthenticatedWriteAccess, "TBAT", "Time-Based Authenticated Write Access"},
	{AppendWrite, "AW", "Append Write"},
}

// Has reports whether every bit of flag is set.
func (a Attributes) Has(flag Attributes) bool {
	return a&flag == flag
}

// Unknown returns the bits that have no defined meaning.
func (a Attributes) Unknown() Attributes {
	return a &^ knownAttributes
}

// String renders the short flag names joined with '|', with any reserved
// bits appended in hex, e.g. "NV|BS|RT|0x100".
func (a Attributes) String() string {
	if a == 0 {
		return "0"
	}
	parts := make([]string, 0, len(attrNames)+1)
	for _, n := range attrNames {
		if a.Has(n.flag) {
			parts = append(parts, n.short)
		}
	}
	if u := a.Unknown(); u != 0 {
		parts = append(parts, fmt.Sprintf("%#x", uint64(u)))
	}
	return strings.Join(parts, "|")
}

// Names returns the long names of the set flags in bit order.
func (a Attributes) Names() []string {
	var names []string
	for _, n := range attrNames {
		if a.Has(n.flag) {
			names = append(names, n.long)
		}
	}
	return names
}

// ParseAttributes parses the output of String, or a plain number in any
// base accepted by strconv.ParseUint with base 0 (0x.., 0o.., decimal).
func ParseAttributes(s string) (Attributes, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, Errorf(KindInvalidArgument, "parse attributes", "empty attribute string")
	}
	var a Attributes
	for _, part := range strings.Split(s, "|") {
		part = strings.TrimSpace(part)
		found := false
		for _, n := range attrNames {
			if strings.EqualFold(part, n.short) {
				a |= n.flag
				found = true
				break
			}
		}
		if found {
			continue
		}
		v, err := strconv.ParseUint(part, 0, 64)
		if err != nil {
			return 0, Errorf(KindInvalidArgument, "parse attributes", "unknown attribute %q", part)
		}
		a |= Attributes(v)
	}
	return a, nil
}
