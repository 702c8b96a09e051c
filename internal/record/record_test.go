package record

import "testing"

func TestRecord_RoundTrip(t *testing.T) {
	rows := [][]Value{
		{Null(), Integer(0), Integer(1), Integer(-1)},
		{Integer(127), Integer(128), Integer(-128), Integer(-129)},
		{Integer(1 << 40), Integer(-(1 << 40)), Real(3.5)},
		{Text("hello"), Blob([]byte{1, 2, 3}), Null()},
		{}, // zero fields
	}
	for _, row := range rows {
		buf := Encode(row)
		got, err := Decode(buf)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(got) != len(row) {
			t.Fatalf("field count mismatch: got %d want %d", len(got), len(row))
		}
		for i := range row {
			if got[i].Kind != row[i].Kind {
				t.Fatalf("field %d kind mismatch: got %v want %v", i, got[i].Kind, row[i].Kind)
			}
			switch row[i].Kind {
			case KindInteger:
				if got[i].I != row[i].I {
					t.Fatalf("field %d int mismatch: got %d want %d", i, got[i].I, row[i].I)
				}
			case KindReal:
				if got[i].R != row[i].R {
					t.Fatalf("field %d real mismatch: got %v want %v", i, got[i].R, row[i].R)
				}
			case KindText, KindBlob:
				if string(got[i].S) != string(row[i].S) {
					t.Fatalf("field %d bytes mismatch: got %q want %q", i, got[i].S, row[i].S)
				}
			}
		}
	}
}

func TestRecord_ManyColumns(t *testing.T) {
	row := make([]Value, 2500)
	for i := range row {
		row[i] = Integer(int64(i))
	}
	buf := Encode(row)
	got, err := Decode(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != len(row) {
		t.Fatalf("got %d fields, want %d", len(got), len(row))
	}
	for i := range row {
		if got[i].I != row[i].I {
			t.Fatalf("field %d mismatch", i)
		}
	}
}

func TestSerialType_IntegerBoundaries(t *testing.T) {
	cases := []struct {
		v    int64
		want SerialType
	}{
		{0, SerialZero},
		{1, SerialOne},
		{127, SerialInt8},
		{-128, SerialInt8},
		{128, SerialInt16},
		{-129, SerialInt16},
		{1 << 23, SerialInt32},
		{(1 << 23) - 1, SerialInt24},
		{1 << 47, SerialInt64},
		{(1 << 47) - 1, SerialInt48},
	}
	for _, c := range cases {
		st, _ := serialTypeForInt(c.v)
		if st != c.want {
			t.Errorf("serialTypeForInt(%d) = %d, want %d", c.v, st, c.want)
		}
	}
}

func TestCompareRecords_NullOrdering(t *testing.T) {
	ki := &KeyInfo{Columns: []ColumnKey{{}}}
	if CompareRecords([]Value{Null()}, []Value{Integer(1)}, ki) >= 0 {
		t.Fatal("NULL should sort before Integer by default")
	}
	kiFirst := &KeyInfo{Columns: []ColumnKey{{NullsFirst: true}}}
	if CompareRecords([]Value{Integer(1)}, []Value{Null()}, kiFirst) <= 0 {
		t.Fatal("NULL should sort first when NullsFirst is set")
	}
}

func TestCompareText_Collations(t *testing.T) {
	if CompareText([]byte("ABC"), []byte("abc"), CollationBinary, nil) == 0 {
		t.Fatal("binary collation should be case-sensitive")
	}
	if CompareText([]byte("ABC"), []byte("abc"), CollationNoCase, nil) != 0 {
		t.Fatal("NOCASE collation should fold case")
	}
	if CompareText([]byte("abc  "), []byte("abc"), CollationRTrim, nil) != 0 {
		t.Fatal("RTRIM collation should ignore trailing spaces")
	}
}
