package ferrodb

import (
	"github.com/kjmoran/ferrodb/internal/sqlvalue"
	"github.com/kjmoran/ferrodb/internal/vm"
)

// StepResult is what Stmt.Step returns: StepRow when a result row is ready
// to read with Column*, StepDone when the statement has nothing left to
// produce. Re-exported from internal/vm so callers outside this module
// never need to name an internal package to use Step's result.
type StepResult = vm.StepResult

const (
	StepDone = vm.StepDone
	StepRow  = vm.StepRow
)

// ColumnType is the dynamic type of a result column, as reported by
// Stmt.ColumnType. Re-exported from internal/sqlvalue for the same reason
// as StepResult above.
type ColumnType = sqlvalue.Type

const (
	TypeNull    = sqlvalue.TypeNull
	TypeInteger = sqlvalue.TypeInteger
	TypeReal    = sqlvalue.TypeReal
	TypeText    = sqlvalue.TypeText
	TypeBlob    = sqlvalue.TypeBlob
)
