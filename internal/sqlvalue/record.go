package sqlvalue

import (
	"encoding/binary"
	"math"

	"github.com/kjmoran/ferrodb/internal/ferrors"
)

// Serial types: 0=NULL, 1..6=signed int widths {1,2,3,4,6,8} bytes,
// 7=IEEE-754 double, 8/9=literal 0/1, even N>=12 is blob of (N-12)/2
// bytes, odd N>=13 is text of (N-13)/2 bytes.
const (
	serialNull    = 0
	serialInt8    = 1
	serialInt16   = 2
	serialInt24   = 3
	serialInt32   = 4
	serialInt48   = 5
	serialInt64   = 6
	serialFloat64 = 7
	serialZero    = 8
	serialOne     = 9
)

func serialTypeFor(v Value) (uint64, int) {
	switch v.typ {
	case TypeNull:
		return serialNull, 0
	case TypeInteger:
		return intSerialType(v.i)
	case TypeReal:
		return serialFloat64, 8
	case TypeBlob:
		return uint64(len(v.s)*2 + 12), len(v.s)
	case TypeText:
		return uint64(len(v.s)*2 + 13), len(v.s)
	default:
		return serialNull, 0
	}
}

func intSerialType(i int64) (uint64, int) {
	switch {
	case i == 0:
		return serialZero, 0
	case i == 1:
		return serialOne, 0
	case i >= -1<<7 && i < 1<<7:
		return serialInt8, 1
	case i >= -1<<15 && i < 1<<15:
		return serialInt16, 2
	case i >= -1<<23 && i < 1<<23:
		return serialInt24, 3
	case i >= -1<<31 && i < 1<<31:
		return serialInt32, 4
	case i >= -1<<47 && i < 1<<47:
		return serialInt48, 6
	default:
		return serialInt64, 8
	}
}

// EncodeRecord serializes vals into the record format: a varint
// header length, one varint serial type per column, then the packed
// payload bytes in column order.
func EncodeRecord(vals []Value) []byte {
	serials := make([]uint64, len(vals))
	bodies := make([][]byte, len(vals))
	headerBody := make([]byte, 0, len(vals)*2)
	for i, v := range vals {
		st, width := serialTypeFor(v)
		serials[i] = st
		headerBody = putVarint(headerBody, st)
		bodies[i] = packValue(v, width)
	}

	// The header length itself is a varint whose own size feeds its value,
	// so grow hdrLenFieldSize until it's self-consistent (at most one retry:
	// header lengths big enough to need more varint bytes than assumed
	// are vanishingly rare, but handled correctly by looping anyway).
	hdrLenFieldSize := 1
	for {
		total := hdrLenFieldSize + len(headerBody)
		if varintLen(uint64(total)) == hdrLenFieldSize {
			var out []byte
			out = putVarint(out, uint64(total))
			out = append(out, headerBody...)
			for _, b := range bodies {
				out = append(out, b...)
			}
			return out
		}
		hdrLenFieldSize++
	}
}

func packValue(v Value, width int) []byte {
	switch v.typ {
	case TypeNull:
		return nil
	case TypeInteger:
		if width == 0 {
			return nil // literal 0 or 1
		}
		buf := make([]byte, width)
		u := uint64(v.i)
		for i := width - 1; i >= 0; i-- {
			buf[i] = byte(u)
			u >>= 8
		}
		return buf
	case TypeReal:
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, math.Float64bits(v.f))
		return buf
	case TypeText, TypeBlob:
		return v.s
	default:
		return nil
	}
}

// DecodeRecord parses buf produced by EncodeRecord back into Values.
func DecodeRecord(buf []byte) ([]Value, error) {
	if len(buf) == 0 {
		return nil, nil
	}
	hdrLen, n := getVarint(buf)
	if n == 0 || int(hdrLen) > len(buf) {
		return nil, ferrors.Wrap(ferrors.ErrCorrupt, "record header length out of range", "")
	}
	header := buf[n:hdrLen]
	body := buf[hdrLen:]

	var serials []uint64
	for len(header) > 0 {
		st, sn := getVarint(header)
		if sn == 0 {
			return nil, ferrors.Wrap(ferrors.ErrCorrupt, "truncated record header", "")
		}
		serials = append(serials, st)
		header = header[sn:]
	}

	vals := make([]Value, len(serials))
	off := 0
	for i, st := range serials {
		v, width, err := unpackValue(st, body[off:])
		if err != nil {
			return nil, err
		}
		vals[i] = v
		off += width
	}
	return vals, nil
}

func unpackValue(serial uint64, body []byte) (Value, int, error) {
	switch {
	case serial == serialNull:
		return Null(), 0, nil
	case serial == serialZero:
		return Integer(0), 0, nil
	case serial == serialOne:
		return Integer(1), 0, nil
	case serial >= serialInt8 && serial <= serialInt64:
		width := intWidthForSerial(serial)
		if len(body) < width {
			return Value{}, 0, ferrors.Wrap(ferrors.ErrCorrupt, "truncated integer column", "")
		}
		var u uint64
		for i := 0; i < width; i++ {
			u = (u << 8) | uint64(body[i])
		}
		// sign-extend from width bytes to int64
		shift := uint(64 - width*8)
		iv := int64(u<<shift) >> shift
		return Integer(iv), width, nil
	case serial == serialFloat64:
		if len(body) < 8 {
			return Value{}, 0, ferrors.Wrap(ferrors.ErrCorrupt, "truncated real column", "")
		}
		bits := binary.BigEndian.Uint64(body[:8])
		return Real(math.Float64frombits(bits)), 8, nil
	case serial >= 12 && serial%2 == 0:
		width := int((serial - 12) / 2)
		if len(body) < width {
			return Value{}, 0, ferrors.Wrap(ferrors.ErrCorrupt, "truncated blob column", "")
		}
		return Blob(append([]byte{}, body[:width]...)), width, nil
	case serial >= 13 && serial%2 == 1:
		width := int((serial - 13) / 2)
		if len(body) < width {
			return Value{}, 0, ferrors.Wrap(ferrors.ErrCorrupt, "truncated text column", "")
		}
		return TextBytes(append([]byte{}, body[:width]...)), width, nil
	default:
		return Value{}, 0, ferrors.Wrapf(ferrors.ErrCorrupt, "", "unknown serial type %d", serial)
	}
}

func intWidthForSerial(serial uint64) int {
	switch serial {
	case serialInt8:
		return 1
	case serialInt16:
		return 2
	case serialInt24:
		return 3
	case serialInt32:
		return 4
	case serialInt48:
		return 6
	case serialInt64:
		return 8
	default:
		return 0
	}
}
