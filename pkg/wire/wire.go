// Package wire implements the line grammar of the Kenwood CAT protocol.
//
// Every message is `<code><fields>;`. Fields are fixed width and either
// decimal, signed decimal, hexadecimal, left-justified text or the rest of the
// line. A field consisting only of spaces is reported as unknown, never as zero.
package wire

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const Terminator = ';'

// Single character error replies sent by the transceiver.
const (
	CodeProtocolError = "?"
	CodeCommError     = "E"
	CodeIncomplete    = "O"
)

var (
	ErrShortLine = errors.New("line too short")
	ErrBadCode   = errors.New("invalid reply code")
	ErrWidth     = errors.New("field width mismatch")
)

// IsError reports whether code is one of the device error replies.
func IsError(code string) bool {
	switch code {
	case CodeProtocolError, CodeCommError, CodeIncomplete:
		return true
	}
	return false
}

// Split separates a line (without terminator) into its code and field text.
func Split(line string) (code, fields string, err error) {
	line = strings.TrimSuffix(line, string(Terminator))
	if len(line) == 1 && IsError(line) {
		return line, "", nil
	}
	if len(line) < 2 {
		return "", "", fmt.Errorf("%w: %q", ErrShortLine, line)
	}
	for i := 0; i < 2; i++ {
		if line[i] < 'A' || line[i] > 'Z' {
			return "", "", fmt.Errorf("%w: %q", ErrBadCode, line)
		}
	}
	return line[:2], line[2:], nil
}

// Command joins a code and already formatted fields into a wire command.
func Command(code string, fields ...string) string {
	var b strings.Builder
	b.WriteString(code)
	for _, f := range fields {
		b.WriteString(f)
	}
	b.WriteByte(Terminator)
	return b.String()
}

type Kind int

const (
	KindDec Kind = iota
	KindSigned
	KindHex
	KindText
	KindRest
)

func (k Kind) String() string {
	switch k {
	case KindDec:
		return "dec"
	case KindSigned:
		return "signed"
	case KindHex:
		return "hex"
	case KindText:
		return "text"
	case KindRest:
		return "rest"
	default:
		return "unknown"
	}
}

// Field describes one fixed-width field. Width is ignored for KindRest.
type Field struct {
	Kind  Kind
	Width int
}

func Dec(width int) Field    { return Field{KindDec, width} }
func Signed(width int) Field { return Field{KindSigned, width} }
func Hex(width int) Field    { return Field{KindHex, width} }
func Text(width int) Field   { return Field{KindText, width} }
func Rest() Field            { return Field{Kind: KindRest} }

// Decode parses s. Numeric kinds yield int, text kinds yield string.
// ok is false when the field is blank.
func (f Field) Decode(s string) (v any, ok bool, err error) {
	if f.Kind != KindRest && len(s) != f.Width {
		return nil, false, fmt.Errorf("%w: %s%d got %q", ErrWidth, f.Kind, f.Width, s)
	}
	if strings.TrimSpace(s) == "" {
		return nil, false, nil
	}
	switch f.Kind {
	case KindDec:
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return nil, false, fmt.Errorf("decode %q: %w", s, err)
		}
		return n, true, nil
	case KindSigned:
		n, err := strconv.Atoi(strings.ReplaceAll(s, " ", "0"))
		if err != nil {
			return nil, false, fmt.Errorf("decode %q: %w", s, err)
		}
		return n, true, nil
	case KindHex:
		n, err := strconv.ParseUint(strings.TrimSpace(s), 16, 32)
		if err != nil {
			return nil, false, fmt.Errorf("decode %q: %w", s, err)
		}
		return int(n), true, nil
	case KindText:
		return strings.TrimRight(s, " "), true, nil
	default:
		return s, true, nil
	}
}

// Encode formats v to exactly Width characters. A nil v is encoded as blanks.
func (f Field) Encode(v any) (string, error) {
	if v == nil {
		return strings.Repeat(" ", f.Width), nil
	}
	switch f.Kind {
	case KindText:
		s := fmt.Sprint(v)
		if len(s) > f.Width {
			return "", fmt.Errorf("%w: %q longer than %d", ErrWidth, s, f.Width)
		}
		return s + strings.Repeat(" ", f.Width-len(s)), nil
	case KindRest:
		return fmt.Sprint(v), nil
	}
	n, err := toInt(v)
	if err != nil {
		return "", err
	}
	var out string
	switch f.Kind {
	case KindDec:
		if n < 0 {
			return "", fmt.Errorf("negative value %d for dec field", n)
		}
		out = fmt.Sprintf("%0*d", f.Width, n)
	case KindSigned:
		sign := "+"
		if n < 0 {
			sign, n = "-", -n
		}
		out = sign + fmt.Sprintf("%0*d", f.Width-1, n)
	case KindHex:
		out = fmt.Sprintf("%0*X", f.Width, n)
	}
	if len(out) != f.Width {
		return "", fmt.Errorf("%w: %d does not fit %s%d", ErrWidth, n, f.Kind, f.Width)
	}
	return out, nil
}

func toInt(v any) (int, error) {
	switch t := v.(type) {
	case int:
		return t, nil
	case int64:
		return int(t), nil
	case uint32:
		return int(t), nil
	case bool:
		if t {
			return 1, nil
		}
		return 0, nil
	case interface{ Int() int }:
		return t.Int(), nil
	default:
		return 0, fmt.Errorf("cannot encode %T as number", v)
	}
}

// Layout is the ordered field list of one reply code.
type Layout []Field

// Width returns the total field width, or -1 when the layout ends in Rest.
func (l Layout) Width() int {
	w := 0
	for _, f := range l {
		if f.Kind == KindRest {
			return -1
		}
		w += f.Width
	}
	return w
}

// Decode splits s into len(l) values; blank fields decode to nil.
func (l Layout) Decode(s string) ([]any, error) {
	if w := l.Width(); w >= 0 && len(s) != w {
		return nil, fmt.Errorf("%w: want %d chars, got %d (%q)", ErrShortLine, w, len(s), s)
	}
	out := make([]any, len(l))
	pos := 0
	for i, f := range l {
		var part string
		if f.Kind == KindRest {
			part = s[pos:]
		} else {
			if pos+f.Width > len(s) {
				return nil, fmt.Errorf("%w: %q", ErrShortLine, s)
			}
			part = s[pos : pos+f.Width]
		}
		v, ok, err := f.Decode(part)
		if err != nil {
			return nil, fmt.Errorf("field %d: %w", i, err)
		}
		if ok {
			out[i] = v
		}
		pos += len(part)
	}
	return out, nil
}

// Encode formats one value per field.
func (l Layout) Encode(vals ...any) (string, error) {
	if len(vals) != len(l) {
		return "", fmt.Errorf("%w: %d values for %d fields", ErrWidth, len(vals), len(l))
	}
	var b strings.Builder
	for i, f := range l {
		s, err := f.Encode(vals[i])
		if err != nil {
			return "", fmt.Errorf("field %d: %w", i, err)
		}
		b.WriteString(s)
	}
	return b.String(), nil
}
