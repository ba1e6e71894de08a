package rigctld

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/roffe/gorig"
)

type command struct {
	args int
	set  bool
	quit bool
	fn   func(ctx context.Context, r gorig.Rig, b *strings.Builder, args []string) error
}

var commands = map[string]command{
	"f": {fn: getFreq},
	"F": {args: 1, set: true, fn: setFreq},
	"m": {fn: getMode},
	"M": {args: 2, set: true, fn: setMode},
	"v": {fn: getVFO},
	"V": {args: 1, set: true, fn: setVFO},
	"t": {fn: getPTT},
	"T": {args: 1, set: true, fn: setPTT},
	"s": {fn: getSplit},
	"S": {args: 2, set: true, fn: setSplit},
	"q": {quit: true},

	`\dump_state`:    {fn: dumpState},
	`\get_powerstat`: {fn: getPower},
	`\chk_vfo`:       {fn: chkVFO},
}

var longNames = map[string]string{
	`\get_freq`:      "f",
	`\set_freq`:      "F",
	`\get_mode`:      "m",
	`\set_mode`:      "M",
	`\get_vfo`:       "v",
	`\set_vfo`:       "V",
	`\get_ptt`:       "t",
	`\set_ptt`:       "T",
	`\get_split_vfo`: "s",
	`\set_split_vfo`: "S",
	`\quit`:          "q",
	"Q":              "q",
}

func lookup(name string) (command, bool) {
	if short, ok := longNames[name]; ok {
		name = short
	}
	c, ok := commands[name]
	return c, ok
}

// hamlib mode names in Kenwood MD order
var modes = map[int]string{
	1: "LSB",
	2: "USB",
	3: "CW",
	4: "FM",
	5: "AM",
	6: "RTTY",
	7: "CWR",
	9: "RTTYR",
}

// tuning mode to hamlib VFO name
var vfos = []string{"VFOA", "VFOB", "MEM", "MEM"}

func readInt(ctx context.Context, r gorig.Rig, name string) (int, error) {
	n, ok, err := gorig.ReadInt(ctx, r, name)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%s: %w", name, errUnknown)
	}
	return n, nil
}

func readBool(ctx context.Context, r gorig.Rig, name string) (bool, error) {
	v, ok, err := gorig.ReadBool(ctx, r, name)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, fmt.Errorf("%s: %w", name, errUnknown)
	}
	return v, nil
}

func parseBool(s string) (bool, error) {
	switch s {
	case "0":
		return false, nil
	case "1":
		return true, nil
	}
	return false, fmt.Errorf("%q: %w", s, errInvalid)
}

func getFreq(ctx context.Context, r gorig.Rig, b *strings.Builder, _ []string) error {
	f, err := readInt(ctx, r, gorig.RxFrequency)
	if err != nil {
		return err
	}
	fmt.Fprintf(b, "%d\n", f)
	return nil
}

func setFreq(_ context.Context, r gorig.Rig, _ *strings.Builder, args []string) error {
	f, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return fmt.Errorf("%q: %w", args[0], errInvalid)
	}
	return r.Write(gorig.RxFrequency, int(f))
}

func getMode(ctx context.Context, r gorig.Rig, b *strings.Builder, _ []string) error {
	m, err := readInt(ctx, r, gorig.RxMode)
	if err != nil {
		return err
	}
	name, ok := modes[m]
	if !ok {
		return fmt.Errorf("mode %d: %w", m, errUnknown)
	}
	fmt.Fprintf(b, "%s\n0\n", name)
	return nil
}

func setMode(_ context.Context, r gorig.Rig, _ *strings.Builder, args []string) error {
	for n, name := range modes {
		if strings.EqualFold(name, args[0]) {
			return r.Write(gorig.RxMode, n)
		}
	}
	return fmt.Errorf("mode %q: %w", args[0], errInvalid)
}

func vfoName(tm int) string {
	if tm < 0 || tm >= len(vfos) {
		return "None"
	}
	return vfos[tm]
}

func getVFO(ctx context.Context, r gorig.Rig, b *strings.Builder, _ []string) error {
	tm, err := readInt(ctx, r, "rx_tuning_mode")
	if err != nil {
		return err
	}
	fmt.Fprintf(b, "%s\n", vfoName(tm))
	return nil
}

func setVFO(_ context.Context, r gorig.Rig, _ *strings.Builder, args []string) error {
	switch strings.ToUpper(args[0]) {
	case "VFOA", "MAIN", "CURRVFO":
		return r.Write("control_rx_tuning_mode", 0)
	case "VFOB":
		return r.Write("control_rx_tuning_mode", 1)
	case "MEM":
		return r.Write("control_rx_tuning_mode", 2)
	}
	return fmt.Errorf("vfo %q: %w", args[0], errInvalid)
}

func getPTT(ctx context.Context, r gorig.Rig, b *strings.Builder, _ []string) error {
	on, err := readBool(ctx, r, gorig.TX)
	if err != nil {
		return err
	}
	fmt.Fprintf(b, "%d\n", boolInt(on))
	return nil
}

func setPTT(_ context.Context, r gorig.Rig, _ *strings.Builder, args []string) error {
	// hamlib sends 1 to 3 for the different PTT sources
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 0 || n > 3 {
		return fmt.Errorf("ptt %q: %w", args[0], errInvalid)
	}
	return r.Write(gorig.TX, n != 0)
}

func getSplit(ctx context.Context, r gorig.Rig, b *strings.Builder, _ []string) error {
	split, err := readBool(ctx, r, gorig.Split)
	if err != nil {
		return err
	}
	tm, err := readInt(ctx, r, "tx_tuning_mode")
	if err != nil {
		return err
	}
	fmt.Fprintf(b, "%d\n%s\n", boolInt(split), vfoName(tm))
	return nil
}

func setSplit(_ context.Context, r gorig.Rig, _ *strings.Builder, args []string) error {
	on, err := parseBool(args[0])
	if err != nil {
		return err
	}
	return r.Write(gorig.Split, on)
}

func getPower(ctx context.Context, r gorig.Rig, b *strings.Builder, _ []string) error {
	on, err := readBool(ctx, r, "power")
	if err != nil {
		return err
	}
	fmt.Fprintf(b, "%d\n", boolInt(on))
	return nil
}

func chkVFO(_ context.Context, _ gorig.Rig, b *strings.Builder, _ []string) error {
	b.WriteString("0\n")
	return nil
}

// dumpState writes the protocol 0 capability block clients parse on connect.
func dumpState(_ context.Context, _ gorig.Rig, b *strings.Builder, _ []string) error {
	lines := []string{
		"0", // protocol version
		"2", // rig model, dummy
		"2", // ITU region
		"30000.000000 60000000.000000 0x1ff -1 -1 0x10000003 0x3",
		"144000000.000000 146000000.000000 0x1ff -1 -1 0x10000003 0x3",
		"430000000.000000 440000000.000000 0x1ff -1 -1 0x10000003 0x3",
		"1240000000.000000 1300000000.000000 0x1ff -1 -1 0x10000003 0x3",
		"0 0 0 0 0 0 0",
		"1800000.000000 60000000.000000 0x1ff 5000 100000 0x10000003 0x3",
		"144000000.000000 146000000.000000 0x1ff 5000 100000 0x10000003 0x3",
		"430000000.000000 440000000.000000 0x1ff 5000 50000 0x10000003 0x3",
		"1240000000.000000 1300000000.000000 0x1ff 5000 10000 0x10000003 0x3",
		"0 0 0 0 0 0 0",
		"0x1ff 1",
		"0 0",
		"0x1ff 0",
		"0 0",
		"9999", // max RIT
		"9999", // max XIT
		"0",    // max IF shift
		"0",    // announces
		"0",    // preamp
		"0",    // attenuator
		"0x0",  // get func
		"0x0",  // set func
		"0x0",  // get level
		"0x0",  // set level
		"0x0",  // get parm
		"0x0",  // set parm
	}
	for _, l := range lines {
		b.WriteString(l)
		b.WriteByte('\n')
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
