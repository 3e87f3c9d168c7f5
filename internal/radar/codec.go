package radar

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/op/go-logging"
)

var log = logging.MustGetLogger("radar")

var (
	ErrInvalidCharacter = errors.New("radar: invalid character")
	ErrTooShort         = errors.New("radar: input too short")
)

// MinBytes is the smallest decoded payload that carries a full view.
const MinBytes = 11

// DecodeError reports where decoding stopped. It unwraps to ErrInvalidCharacter or ErrTooShort.
type DecodeError struct {
	Err  error
	Char rune
	Pos  int
	Len  int
}

func (e *DecodeError) Error() string {
	switch e.Err {
	case ErrInvalidCharacter:
		return fmt.Sprintf("%v %q at %d", e.Err, e.Char, e.Pos)
	case ErrTooShort:
		return fmt.Sprintf("%v: %d bytes, need %d", e.Err, e.Len, MinBytes)
	}
	return e.Err.Error()
}

func (e *DecodeError) Unwrap() error { return e.Err }

func charValue(c rune) (uint32, bool) {
	switch {
	case c >= 'a' && c <= 'z':
		return uint32(c - 'a'), true
	case c >= 'A' && c <= 'Z':
		return uint32(c-'A') + 26, true
	case c >= '0' && c <= '9':
		return uint32(c-'0') + 52, true
	case c == '+':
		return 62, true
	case c == '/':
		return 63, true
	}
	return 0, false
}

// DecodeBytes unpacks the radar alphabet four characters at a time.
// A trailing group of 3 or 2 characters yields 2 or 1 bytes; a lone character yields nothing.
func DecodeBytes(s string) ([]byte, error) {
	chars := []rune(s)
	out := make([]byte, 0, len(chars)*3/4+2)
	for i := 0; i < len(chars); i += 4 {
		end := i + 4
		if end > len(chars) {
			end = len(chars)
		}
		var acc uint32
		for j := i; j < end; j++ {
			v, ok := charValue(chars[j])
			if !ok {
				return nil, &DecodeError{Err: ErrInvalidCharacter, Char: chars[j], Pos: j}
			}
			acc = acc<<6 | v
		}
		switch end - i {
		case 4:
			out = append(out, byte(acc>>16), byte(acc>>8), byte(acc))
		case 3:
			out = append(out, byte(acc>>10), byte(acc>>2))
		case 2:
			out = append(out, byte(acc>>4))
		}
	}
	return out, nil
}

// Format interprets a decoded payload. Bytes 0..2 and 3..5 are little-endian 24-bit words
// holding the horizontal and vertical passage fields; bytes 6.. are read MSB first as nine
// 4-bit cell codes.
func Format(b []byte) (View, error) {
	var v View
	if len(b) < MinBytes {
		return v, &DecodeError{Err: ErrTooShort, Len: len(b)}
	}
	h := binary.LittleEndian.Uint32([]byte{b[0], b[1], b[2], 0})
	vert := binary.LittleEndian.Uint32([]byte{b[3], b[4], b[5], 0})

	v.Horizontal = [4]uint32{
		(h >> 18) & 0x3F,
		(h >> 12) & 0x3F,
		(h >> 6) & 0x3F,
		h & 0x3F,
	}
	v.Vertical = [3]uint32{
		(vert >> 16) & 0xFF,
		(vert >> 8) & 0xFF,
		vert & 0xFF,
	}

	var bits strings.Builder
	bits.Grow((len(b) - 6) * 8)
	for _, x := range b[6:] {
		fmt.Fprintf(&bits, "%08b", x)
	}
	stream := bits.String()
	for i := 0; i < len(v.Cells); i++ {
		v.Cells[i] = CellFromBits(stream[i*4 : (i+1)*4])
	}
	return v, nil
}

// Decode turns an encoded radar string into a View.
func Decode(s string) (View, error) {
	b, err := DecodeBytes(s)
	if err != nil {
		return View{}, err
	}
	return Format(b)
}

// IsPassageOpen reads the 2-bit wall state at (3-wall)*2 in passage.
// 01 is open; 00 and 10 are closed; 11 is unexpected and treated as closed.
func IsPassageOpen(passage uint32, wall int) bool {
	if wall < 0 || wall > 3 {
		return false
	}
	shift := uint((3 - wall) * 2)
	bits := (passage >> shift) & 0b11
	switch bits {
	case 0b01:
		log.Debugf("passage %06b wall=%d bits=%02b open", passage, wall, bits)
		return true
	case 0b00, 0b10:
		log.Debugf("passage %06b wall=%d bits=%02b closed", passage, wall, bits)
		return false
	default:
		log.Warningf("passage %06b wall=%d unexpected bits=%02b, treating as closed", passage, wall, bits)
		return false
	}
}
