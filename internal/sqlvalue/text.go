package sqlvalue

import (
	"golang.org/x/text/encoding/unicode"

	"github.com/kjmoran/ferrodb/internal/ferrors"
	"github.com/kjmoran/ferrodb/internal/pager"
)

// EncodeText transcodes a TEXT value's UTF-8 bytes to the database's
// on-disk text encoding (file header byte 56: 1=UTF-8, 2=UTF16LE,
// 3=UTF16BE) for storage in a record cell. UTF-8 databases are a no-op.
func EncodeText(s []byte, enc pager.TextEncoding) ([]byte, error) {
	switch enc {
	case pager.EncodingUTF8, 0:
		return s, nil
	case pager.EncodingUTF16LE:
		return unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder().Bytes(s)
	case pager.EncodingUTF16BE:
		return unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM).NewEncoder().Bytes(s)
	default:
		return nil, ferrors.Wrapf(ferrors.ErrFormat, "", "unknown text encoding %d", enc)
	}
}

// DecodeText transcodes on-disk text bytes in enc back to UTF-8 for an
// in-memory Value.
func DecodeText(s []byte, enc pager.TextEncoding) ([]byte, error) {
	switch enc {
	case pager.EncodingUTF8, 0:
		return s, nil
	case pager.EncodingUTF16LE:
		return unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder().Bytes(s)
	case pager.EncodingUTF16BE:
		return unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM).NewDecoder().Bytes(s)
	default:
		return nil, ferrors.Wrapf(ferrors.ErrFormat, "", "unknown text encoding %d", enc)
	}
}
