package kenwood

import (
	"context"
	"fmt"

	"github.com/roffe/gorig/pkg/property"
	"github.com/roffe/gorig/pkg/wire"
)

const (
	MemoryChannels = 300
	memoryBase     = "memory"
)

// MemoryChannel is one memory record as read by MR and written by MW.
type MemoryChannel struct {
	Frequency   int    `json:"frequency" yaml:"frequency"`
	Mode        int    `json:"mode" yaml:"mode"`
	Lockout     bool   `json:"lockout" yaml:"lockout"`
	ToneType    int    `json:"tone_type" yaml:"tone_type"`
	ToneNumber  int    `json:"tone_number" yaml:"tone_number"`
	CTCSSNumber int    `json:"ctcss_number" yaml:"ctcss_number"`
	DCSCode     int    `json:"dcs_code" yaml:"dcs_code"`
	Reverse     bool   `json:"reverse" yaml:"reverse"`
	OffsetType  int    `json:"offset_type" yaml:"offset_type"`
	Offset      int    `json:"offset" yaml:"offset"`
	Step        int    `json:"step" yaml:"step"`
	Group       int    `json:"group" yaml:"group"`
	Name        string `json:"name" yaml:"name"`
}

// Empty reports whether the channel holds no frequency.
func (m MemoryChannel) Empty() bool { return m.Frequency == 0 }

func (m MemoryChannel) String() string {
	if m.Empty() {
		return "empty"
	}
	return fmt.Sprintf("%d Hz mode %d %q", m.Frequency, m.Mode, m.Name)
}

var memoryLayout = wire.Layout{
	wire.Dec(1),  // 0 simplex or receive, 1 split transmit
	wire.Dec(3),  // channel
	wire.Dec(11), // frequency
	wire.Dec(1),  // mode
	wire.Dec(1),  // lockout
	wire.Dec(1),  // tone type
	wire.Dec(2),  // tone number
	wire.Dec(2),  // CTCSS number
	wire.Dec(3),  // DCS code
	wire.Dec(1),  // reverse
	wire.Dec(1),  // offset type
	wire.Dec(9),  // offset
	wire.Dec(1),  // step
	wire.Dec(1),  // group
	wire.Rest(),  // name
}

func memoryName(ch int) string {
	return fmt.Sprintf("%s[%03d]", memoryBase, ch)
}

// memories registers the lazily read memory cells and the MR handler.
func memories(t *table) {
	d := t.d
	for ch := 0; ch < MemoryChannels; ch++ {
		ch := ch
		t.custom(memoryName(ch),
			property.Query(fmt.Sprintf("MR0%03d;", ch)),
			property.Format(func(v any) (string, error) { return formatMemory(ch, v) }),
			property.Range(isMemory),
			property.Lazy(),
		)
		d.codes[memoryName(ch)] = "MW"
	}
	t.on("MR", func(_ context.Context, fields string) {
		vals, err := memoryLayout.Decode(fields)
		if err != nil {
			d.desync("MR", fields, err)
			return
		}
		if tx, _ := vals[0].(int); tx != 0 {
			return
		}
		ch, ok := vals[1].(int)
		if !ok || ch >= MemoryChannels {
			d.desync("MR", fields, fmt.Errorf("bad channel %v", vals[1]))
			return
		}
		d.set(memoryName(ch), memoryFromFields(vals))
	})
}

func isMemory(v any) bool {
	switch m := v.(type) {
	case MemoryChannel:
		return m.Empty() || (m.Frequency >= 30000 && m.Frequency <= 1300000000 && len(m.Name) <= 8)
	case *MemoryChannel:
		return m != nil && isMemory(*m)
	}
	return false
}

func intOr0(v any) int {
	n, _ := v.(int)
	return n
}

func memoryFromFields(vals []any) MemoryChannel {
	name, _ := vals[14].(string)
	return MemoryChannel{
		Frequency:   intOr0(vals[2]),
		Mode:        intOr0(vals[3]),
		Lockout:     intOr0(vals[4]) != 0,
		ToneType:    intOr0(vals[5]),
		ToneNumber:  intOr0(vals[6]),
		CTCSSNumber: intOr0(vals[7]),
		DCSCode:     intOr0(vals[8]),
		Reverse:     intOr0(vals[9]) != 0,
		OffsetType:  intOr0(vals[10]),
		Offset:      intOr0(vals[11]),
		Step:        intOr0(vals[12]),
		Group:       intOr0(vals[13]),
		Name:        trimName(name),
	}
}

func trimName(s string) string {
	for len(s) > 0 && s[len(s)-1] == ' ' {
		s = s[:len(s)-1]
	}
	return s
}

func formatMemory(ch int, v any) (string, error) {
	var m MemoryChannel
	switch t := v.(type) {
	case MemoryChannel:
		m = t
	case *MemoryChannel:
		m = *t
	default:
		return "", fmt.Errorf("memory %03d: cannot store %T", ch, v)
	}
	s, err := memoryLayout.Encode(0, ch, m.Frequency, m.Mode, m.Lockout, m.ToneType, m.ToneNumber,
		m.CTCSSNumber, m.DCSCode, m.Reverse, m.OffsetType, m.Offset, m.Step, m.Group, m.Name)
	if err != nil {
		return "", err
	}
	return "MW" + s + ";", nil
}
