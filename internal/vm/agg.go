package vm

import (
	"strings"

	"github.com/kjmoran/ferrodb/internal/sqlvalue"
)

// aggStep folds one input row's value into the accumulator keyed by
// ins.P1. ins.P4 names the aggregate function; ins.P2 is the input
// value's register (ignored for COUNT(*), where P2 is -1).
func (m *VM) aggStep(ins Instruction) {
	fn := strings.ToUpper(ins.P4.(string))
	st, ok := m.aggs[ins.P1]
	if !ok {
		st = &aggState{fn: fn}
		m.aggs[ins.P1] = st
	}
	var v sqlvalue.Value
	if ins.P2 >= 0 {
		v = m.reg(ins.P2)
	}
	if fn == "COUNT" && ins.P2 < 0 {
		st.count++
		return
	}
	if v.IsNull() {
		return
	}
	st.count++
	if !st.first {
		st.sum, st.min, st.max = v, v, v
		st.first = true
		return
	}
	st.sum = sqlvalue.Add(st.sum, v)
	if sqlvalue.Compare(v, st.min, m.collate) < 0 {
		st.min = v
	}
	if sqlvalue.Compare(v, st.max, m.collate) > 0 {
		st.max = v
	}
}

// aggFinal writes the accumulator's finished value into ins.P2, following
// SQL's aggregate-of-empty-set rules: COUNT is 0, every other aggregate
// is NULL.
func (m *VM) aggFinal(ins Instruction) {
	st, ok := m.aggs[ins.P1]
	if !ok {
		st = &aggState{fn: strings.ToUpper(ins.P4.(string))}
	}
	var result sqlvalue.Value
	switch st.fn {
	case "COUNT":
		result = sqlvalue.Integer(st.count)
	case "SUM":
		if st.count == 0 {
			result = sqlvalue.Null()
		} else {
			result = st.sum
		}
	case "AVG":
		if st.count == 0 {
			result = sqlvalue.Null()
		} else {
			result = sqlvalue.Divide(st.sum, sqlvalue.Integer(st.count))
		}
	case "MIN":
		if !st.first {
			result = sqlvalue.Null()
		} else {
			result = st.min
		}
	case "MAX":
		if !st.first {
			result = sqlvalue.Null()
		} else {
			result = st.max
		}
	default:
		result = sqlvalue.Null()
	}
	m.setReg(ins.P2, result)
	delete(m.aggs, ins.P1)
}
