package sqlvalue

import "testing"

func TestRecordRoundTrip(t *testing.T) {
	vals := []Value{
		Null(),
		Integer(0),
		Integer(1),
		Integer(-1),
		Integer(127),
		Integer(128),
		Integer(1 << 40),
		Integer(-(1 << 40)),
		Real(3.5),
		Text("hello"),
		Blob([]byte{0x01, 0x02, 0x03}),
		Text(""),
	}
	buf := EncodeRecord(vals)
	got, err := DecodeRecord(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != len(vals) {
		t.Fatalf("len: got %d want %d", len(got), len(vals))
	}
	for i := range vals {
		if !Equal(vals[i], got[i], CollBinary) || vals[i].Type() != got[i].Type() {
			t.Fatalf("col %d: got %v (%v) want %v (%v)", i, got[i], got[i].Type(), vals[i], vals[i].Type())
		}
	}
}

func TestVarintRoundTrip(t *testing.T) {
	cases := []uint64{0, 1, 127, 128, 16383, 16384, 1 << 32, 1<<56 - 1, 1 << 56, ^uint64(0)}
	for _, v := range cases {
		buf := putVarint(nil, v)
		got, n := getVarint(buf)
		if n != len(buf) {
			t.Fatalf("consumed %d, want %d for v=%d", n, len(buf), v)
		}
		if got != v {
			t.Fatalf("roundtrip %d -> %v -> %d", v, buf, got)
		}
		if len(buf) != varintLen(v) {
			t.Fatalf("varintLen(%d)=%d, encoded length %d", v, varintLen(v), len(buf))
		}
	}
}

func TestCompareOrdering(t *testing.T) {
	vals := []Value{Null(), Integer(1), Real(1.5), Text("a"), Blob([]byte("a"))}
	for i := 0; i < len(vals)-1; i++ {
		if Compare(vals[i], vals[i+1], CollBinary) >= 0 {
			t.Fatalf("expected %v < %v", vals[i], vals[i+1])
		}
	}
}

func TestCompareNumericCrossType(t *testing.T) {
	if Compare(Integer(2), Real(2.0), CollBinary) != 0 {
		t.Fatal("2 should equal 2.0 across int/real")
	}
	if Compare(Integer(1), Real(2.0), CollBinary) >= 0 {
		t.Fatal("1 should be less than 2.0")
	}
}

func TestCollateNoCase(t *testing.T) {
	if CollateBytes([]byte("ABC"), []byte("abc"), CollNoCase) != 0 {
		t.Fatal("NOCASE should fold ASCII case")
	}
	if CollateBytes([]byte("ABC"), []byte("abc"), CollBinary) == 0 {
		t.Fatal("BINARY should not fold case")
	}
}

func TestCollateRTrim(t *testing.T) {
	if CollateBytes([]byte("abc  "), []byte("abc"), CollRTrim) != 0 {
		t.Fatal("RTRIM should ignore trailing spaces")
	}
}

func TestAffinityInteger(t *testing.T) {
	v := Apply(Text("42"), AffInteger)
	if v.Type() != TypeInteger || v.Int() != 42 {
		t.Fatalf("got %v (%v)", v, v.Type())
	}
	v2 := Apply(Text("42abc"), AffInteger)
	if v2.Type() != TypeText {
		t.Fatalf("non-numeric text must keep TEXT storage class, got %v", v2.Type())
	}
}

func TestAffinityForTypeName(t *testing.T) {
	cases := map[string]Affinity{
		"INTEGER":         AffInteger,
		"VARCHAR(10)":     AffText,
		"BLOB":            AffBlob,
		"":                AffBlob,
		"REAL":            AffReal,
		"NUMERIC(10,2)":   AffNumeric,
	}
	for decl, want := range cases {
		if got := AffinityForTypeName(decl); got != want {
			t.Fatalf("%q: got %v want %v", decl, got, want)
		}
	}
}

func TestArithmeticTextBestEffort(t *testing.T) {
	if Add(Text("3"), Text("4")).Int() != 7 {
		t.Fatal("text arithmetic should parse numbers")
	}
	if !Add(Text("abc"), Integer(1)).IsNull() {
		t.Fatal("unparseable text operand should yield NULL")
	}
	if !Divide(Integer(1), Integer(0)).IsNull() {
		t.Fatal("division by zero should yield NULL")
	}
}
