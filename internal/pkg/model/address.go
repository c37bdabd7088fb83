package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrInvalidAddress = errors.New("invalid bluetooth address")

// DeviceAddress is a 6 octet bluetooth MAC. The zero value is 00:00:00:00:00:00.
type DeviceAddress [6]byte

// ParseAddress accepts "AA:BB:CC:DD:EE:FF" (any case, single digit octets allowed)
// or the undelimited "AABBCCDDEEFF" form.
func ParseAddress(s string) (DeviceAddress, error) {
	var addr DeviceAddress
	s = strings.TrimSpace(s)

	if !strings.Contains(s, ":") {
		if len(s) != 12 {
			return addr, fmt.Errorf("%w: %q is not 6 octets", ErrInvalidAddress, s)
		}
		v, err := strconv.ParseUint(s, 16, 64)
		if err != nil {
			return addr, fmt.Errorf("%w: %q: %v", ErrInvalidAddress, s, err)
		}
		for i := 5; i >= 0; i-- {
			addr[i] = byte(v)
			v >>= 8
		}
		return addr, nil
	}

	parts := strings.Split(s, ":")
	if len(parts) != 6 {
		return addr, fmt.Errorf("%w: %q is not 6 octets", ErrInvalidAddress, s)
	}
	for i, p := range parts {
		if len(p) == 0 || len(p) > 2 {
			return addr, fmt.Errorf("%w: %q has a bad octet %q", ErrInvalidAddress, s, p)
		}
		v, err := strconv.ParseUint(p, 16, 8)
		if err != nil {
			return addr, fmt.Errorf("%w: %q has a bad octet %q", ErrInvalidAddress, s, p)
		}
		addr[i] = byte(v)
	}
	return addr, nil
}

func MustParseAddress(s string) DeviceAddress {
	addr, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return addr
}

// String returns the canonical upper case, colon delimited form.
func (a DeviceAddress) String() string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", a[0], a[1], a[2], a[3], a[4], a[5])
}

func (a DeviceAddress) IsZero() bool {
	return a == DeviceAddress{}
}

func (a DeviceAddress) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *DeviceAddress) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
