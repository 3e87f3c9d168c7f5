package radar

import (
	"errors"
	"reflect"
	"testing"
)

func TestDecodeBytes_Groups(t *testing.T) {
	cases := []struct {
		in   string
		want []byte
	}{
		{"aBcD", []byte{1, 176, 157}},
		{"aBc", []byte{1, 176}},
		{"aB", []byte{1}},
		{"a", []byte{}},
		{"", []byte{}},
		{"ieysGjGO8papd/a", []byte{32, 70, 18, 128, 152, 40, 240, 240, 15, 15, 240}},
	}
	for _, tc := range cases {
		got, err := DecodeBytes(tc.in)
		if err != nil {
			t.Fatalf("DecodeBytes(%q): %v", tc.in, err)
		}
		if len(got) != len(tc.want) || (len(got) > 0 && !reflect.DeepEqual(got, tc.want)) {
			t.Fatalf("DecodeBytes(%q)=%v want=%v", tc.in, got, tc.want)
		}
	}
}

func TestDecodeBytes_InvalidCharacter(t *testing.T) {
	_, err := DecodeBytes("ab$d")
	if !errors.Is(err, ErrInvalidCharacter) {
		t.Fatalf("err=%v want ErrInvalidCharacter", err)
	}
	var de *DecodeError
	if !errors.As(err, &de) || de.Char != '$' || de.Pos != 2 {
		t.Fatalf("DecodeError=%+v", de)
	}
}

func TestDecode_TooShort(t *testing.T) {
	_, err := Decode("abcdabcd")
	if !errors.Is(err, ErrTooShort) {
		t.Fatalf("err=%v want ErrTooShort", err)
	}
}

func TestDecode_KnownRadar(t *testing.T) {
	v, err := Decode("ieysGjGO8papd/a")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if v.Horizontal != [4]uint32{4, 36, 24, 32} {
		t.Fatalf("Horizontal=%v", v.Horizontal)
	}
	if v.Vertical != [3]uint32{40, 152, 128} {
		t.Fatalf("Vertical=%v", v.Vertical)
	}
	u, o := Cell{Kind: CellUndefined}, Cell{Kind: CellOpen}
	want := [9]Cell{u, o, u, o, o, u, o, u, u}
	if v.Cells != want {
		t.Fatalf("Cells=%v want=%v", v.Cells, want)
	}
	if len(v.Cells) != 9 {
		t.Fatalf("len(Cells)=%d want=9", len(v.Cells))
	}

	again, err := Decode("ieysGjGO8papd/a")
	if err != nil {
		t.Fatalf("Decode again: %v", err)
	}
	if again != v {
		t.Fatalf("decode not deterministic: %v vs %v", again, v)
	}
}

func TestDecode_ExitAndUnknownCells(t *testing.T) {
	v, err := Decode("jiucAjGa//cpapa")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if v.Cells[CellSelf].Kind != CellExit {
		t.Fatalf("self cell=%v want Exit", v.Cells[CellSelf])
	}
	if got := v.Exits(); !reflect.DeepEqual(got, []int{CellSelf}) {
		t.Fatalf("Exits=%v", got)
	}

	v, err = Decode("aeeaabqa9Vad8pa")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if c := v.Cells[CellFront]; c.Kind != CellUnknown || c.Code != "0110" {
		t.Fatalf("front cell=%v want Unknown(0110)", c)
	}
	if c := v.Cells[CellRight]; c.String() != "Unknown(0011)" {
		t.Fatalf("right cell=%v want Unknown(0011)", c)
	}
}

func TestCellFromBits(t *testing.T) {
	cases := map[string]CellKind{
		"1111": CellUndefined,
		"0000": CellOpen,
		"1000": CellExit,
		"1001": CellExit,
		"0101": CellUnknown,
	}
	for bits, want := range cases {
		if got := CellFromBits(bits).Kind; got != want {
			t.Fatalf("CellFromBits(%s)=%v want=%v", bits, got, want)
		}
	}
}

func TestIsPassageOpen(t *testing.T) {
	if !IsPassageOpen(0b010000, 1) {
		t.Fatalf("0b010000 wall 1 should be open")
	}
	for wall := 0; wall < 4; wall++ {
		if IsPassageOpen(0, wall) {
			t.Fatalf("00 at wall %d should be closed", wall)
		}
		shift := uint((3 - wall) * 2)
		if IsPassageOpen(0b10<<shift, wall) {
			t.Fatalf("10 at wall %d should be closed", wall)
		}
		if IsPassageOpen(0b11<<shift, wall) {
			t.Fatalf("11 at wall %d should be closed", wall)
		}
		if !IsPassageOpen(0b01<<shift, wall) {
			t.Fatalf("01 at wall %d should be open", wall)
		}
	}
	if IsPassageOpen(0xFF, 4) {
		t.Fatalf("out of range wall should be closed")
	}
}

func TestView_String(t *testing.T) {
	v, err := Decode("aeaaaaaa+p8p//a")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got := v.String(); got != "#E#/#.#/###" {
		t.Fatalf("String=%q", got)
	}
}
