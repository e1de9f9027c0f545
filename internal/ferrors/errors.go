// Package ferrors implements the error taxonomy: a fixed set of result
// kinds (mirroring SQLite's public result-code surface) plus helpers to
// wrap, classify and extend-code an error as it propagates up through
// pager → btree → vm → the prepared-statement API.
//
// Built on github.com/cockroachdb/errors: stdlib errors.Is/As has no
// notion of a stable numeric code riding along with a wrapped error, so
// every <Kind> below is a sentinel that Wrap wraps with errors.Wrap (so
// errors.Is finds it through the chain), and extended codes are attached
// with errors.WithDetail.
package ferrors

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Kind is the top-level result code.
type Kind int

const (
	KindOk Kind = iota
	KindRow
	KindDone
	KindError
	KindInternal
	KindPerm
	KindAbort
	KindBusy
	KindLocked
	KindNoMem
	KindReadOnly
	KindInterrupt
	KindIoError
	KindCorrupt
	KindNotFound
	KindFull
	KindCantOpen
	KindProtocol
	KindSchema
	KindTooBig
	KindConstraint
	KindMismatch
	KindMisuse
	KindNoLFS
	KindAuth
	KindFormat
	KindRange
	KindNotADB
)

func (k Kind) String() string {
	switch k {
	case KindOk:
		return "OK"
	case KindRow:
		return "ROW"
	case KindDone:
		return "DONE"
	case KindError:
		return "ERROR"
	case KindInternal:
		return "INTERNAL"
	case KindPerm:
		return "PERM"
	case KindAbort:
		return "ABORT"
	case KindBusy:
		return "BUSY"
	case KindLocked:
		return "LOCKED"
	case KindNoMem:
		return "NOMEM"
	case KindReadOnly:
		return "READONLY"
	case KindInterrupt:
		return "INTERRUPT"
	case KindIoError:
		return "IOERR"
	case KindCorrupt:
		return "CORRUPT"
	case KindNotFound:
		return "NOTFOUND"
	case KindFull:
		return "FULL"
	case KindCantOpen:
		return "CANTOPEN"
	case KindProtocol:
		return "PROTOCOL"
	case KindSchema:
		return "SCHEMA"
	case KindTooBig:
		return "TOOBIG"
	case KindConstraint:
		return "CONSTRAINT"
	case KindMismatch:
		return "MISMATCH"
	case KindMisuse:
		return "MISUSE"
	case KindNoLFS:
		return "NOLFS"
	case KindAuth:
		return "AUTH"
	case KindFormat:
		return "FORMAT"
	case KindRange:
		return "RANGE"
	case KindNotADB:
		return "NOTADB"
	default:
		return "UNKNOWN"
	}
}

// kindError is the sentinel marked onto every error of a given kind so
// errors.Is(err, ferrors.ErrBusy) works across wraps.
type kindError struct{ k Kind }

func (e *kindError) Error() string { return e.k.String() }

var (
	ErrInternal   error = &kindError{KindInternal}
	ErrPerm       error = &kindError{KindPerm}
	ErrAbort      error = &kindError{KindAbort}
	ErrBusy       error = &kindError{KindBusy}
	ErrLocked     error = &kindError{KindLocked}
	ErrNoMem      error = &kindError{KindNoMem}
	ErrReadOnly   error = &kindError{KindReadOnly}
	ErrInterrupt  error = &kindError{KindInterrupt}
	ErrIoError    error = &kindError{KindIoError}
	ErrCorrupt    error = &kindError{KindCorrupt}
	ErrNotFound   error = &kindError{KindNotFound}
	ErrFull       error = &kindError{KindFull}
	ErrCantOpen   error = &kindError{KindCantOpen}
	ErrProtocol   error = &kindError{KindProtocol}
	ErrSchema     error = &kindError{KindSchema}
	ErrTooBig     error = &kindError{KindTooBig}
	ErrConstraint error = &kindError{KindConstraint}
	ErrMismatch   error = &kindError{KindMismatch}
	ErrMisuse     error = &kindError{KindMisuse}
	ErrFormat     error = &kindError{KindFormat}
	ErrRange      error = &kindError{KindRange}
	ErrNotADB     error = &kindError{KindNotADB}
	ErrGeneric    error = &kindError{KindError}
)

// ExtendedCode is a subtype of a Kind (e.g. IOERR_SHORT_READ), stored as
// detail text on the wrapped error rather than a second numeric axis —
// callers that care fetch it with Extended.
type ExtendedCode string

// Wrap marks err with kind and attaches msg plus an optional extended code,
// pairing a base kind with a specific subtype the way SQLite's
// sqlite3_extended_errcode does.
func Wrap(kind error, msg string, ext ExtendedCode) error {
	e := errors.Wrap(kind, msg)
	if ext != "" {
		e = errors.WithDetail(e, string(ext))
	}
	return e
}

// Wrapf is Wrap with fmt-style formatting of msg.
func Wrapf(kind error, ext ExtendedCode, format string, args ...any) error {
	return Wrap(kind, fmt.Sprintf(format, args...), ext)
}

// KindOf classifies err by walking its wrap chain for a known sentinel,
// defaulting to KindError for anything unrecognized (e.g. a bare I/O error
// that was never routed through Wrap).
func KindOf(err error) Kind {
	if err == nil {
		return KindOk
	}
	for _, k := range allKinds {
		if errors.Is(err, k.sentinel) {
			return k.kind
		}
	}
	return KindError
}

// Extended returns the extended-code detail attached by Wrap, if any.
func Extended(err error) ExtendedCode {
	for _, d := range errors.GetAllDetails(err) {
		return ExtendedCode(d)
	}
	return ""
}

var allKinds = []struct {
	kind     Kind
	sentinel error
}{
	{KindInternal, ErrInternal}, {KindPerm, ErrPerm}, {KindAbort, ErrAbort},
	{KindBusy, ErrBusy}, {KindLocked, ErrLocked}, {KindNoMem, ErrNoMem},
	{KindReadOnly, ErrReadOnly}, {KindInterrupt, ErrInterrupt},
	{KindIoError, ErrIoError}, {KindCorrupt, ErrCorrupt},
	{KindNotFound, ErrNotFound}, {KindFull, ErrFull},
	{KindCantOpen, ErrCantOpen}, {KindProtocol, ErrProtocol},
	{KindSchema, ErrSchema}, {KindTooBig, ErrTooBig},
	{KindConstraint, ErrConstraint}, {KindMismatch, ErrMismatch},
	{KindMisuse, ErrMisuse}, {KindFormat, ErrFormat},
	{KindRange, ErrRange}, {KindNotADB, ErrNotADB},
}
