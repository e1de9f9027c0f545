package sqlvalue

import (
	"bytes"
	"strings"
)

// Collation names one of the three built-in TEXT comparison sequences.
type Collation uint8

const (
	CollBinary Collation = iota // memcmp, the default
	CollNoCase                  // case-insensitive, ASCII only
	CollRTrim                   // binary after stripping trailing spaces
)

func (c Collation) String() string {
	switch c {
	case CollBinary:
		return "BINARY"
	case CollNoCase:
		return "NOCASE"
	case CollRTrim:
		return "RTRIM"
	default:
		return "BINARY"
	}
}

// CollationByName resolves a COLLATE clause's identifier, defaulting to
// BINARY for anything unrecognized.
func CollationByName(name string) Collation {
	switch strings.ToUpper(name) {
	case "NOCASE":
		return CollNoCase
	case "RTRIM":
		return CollRTrim
	default:
		return CollBinary
	}
}

// CollateBytes orders a against b under c, returning <0, 0, >0.
func CollateBytes(a, b []byte, c Collation) int {
	switch c {
	case CollNoCase:
		return bytes.Compare(asciiUpper(a), asciiUpper(b))
	case CollRTrim:
		return bytes.Compare(rtrim(a), rtrim(b))
	default:
		return bytes.Compare(a, b)
	}
}

// asciiUpper uppercases only the ASCII range. NOCASE deliberately does
// not do Unicode case folding, matching SQLite's built-in collation.
func asciiUpper(b []byte) []byte {
	out := make([]byte, len(b))
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		out[i] = c
	}
	return out
}

func rtrim(b []byte) []byte {
	end := len(b)
	for end > 0 && b[end-1] == ' ' {
		end--
	}
	return b[:end]
}
