// Package kenwoodsim is an in-memory transceiver speaking the Kenwood CAT
// protocol. It satisfies the serial port interface of the transport so
// drivers can be exercised without hardware.
package kenwoodsim

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

var ErrClosed = errors.New("simulator closed")

// per receiver settings, stored under code plus receiver digit
var perReceiver = map[string]bool{"FR": true, "FT": true, "MD": true}

// codes whose leading fields select what is addressed: main (0) or sub (1)
// for most, the menu item for EX
var prefixed = map[string]int{"AG": 1, "SQ": 1, "SM": 1, "AR": 1, "EX": 7}

// answered while powered off
var alwaysOn = map[string]bool{"PS": true, "ID": true, "AI": true}

func defaults() map[string]string {
	m := map[string]string{
		"FA": "00014074000", "FB": "00007074000", "FC": "00145500000",
		"DC": "00", "FR0": "0", "FT0": "0", "MD0": "2", "FR1": "0", "FT1": "0", "MD1": "4",
		"OS": "0", "OF": "000600000", "RT": "0", "XT": "0", "MC": "000", "FS": "0", "SC": "0",
		"AC": "000", "BY": "00", "LK": "00", "PL": "050050", "RM": "10000",
		"AG0": "100", "AG1": "100", "SQ0": "000", "SQ1": "000", "SM0": "0005", "SM1": "0000",
		"RG": "255", "MG": "050", "CG": "050", "PC": "100", "ML": "005", "GT": "010",
		"SH": "11", "SL": "00", "FW": "0500", "IS": " 0000",
		"NB": "0", "NL": "005", "NR": "0", "RL": "05", "NT": "0", "BC": "0", "BP": "000",
		"KS": "020", "SD": "0300", "CA": "0", "VX": "0", "VG": "004", "VD": "0750",
		"TO": "0", "TN": "08", "CT": "0", "CN": "08", "DQ": "0", "QC": "000",
		"AN": "1", "RA": "0000", "PA": "10", "PR": "0", "MF": "0", "TY": "000", "AI": "0",
		"AM": "0", "AL": "000", "AR0": "10", "AR1": "00", "CM": "0", "LT": "0", "PM": "0",
		"ST": "00", "TS": "0", "SB": "1", "UL": "0", "KY": "0", "MU": "1111111111", "QR": "00",
		"TI": "000",
	}
	for n := 1; n <= 62; n++ {
		m[fmt.Sprintf("EX%03d0000", n)] = "0"
	}
	return m
}

type Option func(*Sim)

func WithLogger(l *zap.Logger) Option {
	return func(s *Sim) { s.log = l.Named("sim") }
}

// WithModel sets the identity code answered to ID.
func WithModel(code string) Option {
	return func(s *Sim) { s.model = code }
}

// WithState presets a setting, keyed like the wire code ("FA", "MD0", "AG1").
func WithState(key, fields string) Option {
	return func(s *Sim) { s.state[key] = fields }
}

func WithPowerOff() Option {
	return func(s *Sim) { s.power = false }
}

// WithShift presets the RIT/XIT shift register.
func WithShift(hz int) Option {
	return func(s *Sim) { s.shift = hz }
}

type Sim struct {
	mu       sync.Mutex
	log      *zap.Logger
	model    string
	state    map[string]string
	memories map[int]string
	power    bool
	shift    int
	tx       bool

	in       []byte
	out      bytes.Buffer
	wake     chan struct{}
	closed   bool
	timeout  time.Duration
	commands []string

	failNext int
	failCode string
	silent   map[string]bool
}

func New(opts ...Option) *Sim {
	s := &Sim{
		log:   zap.NewNop(),
		model: "019",
		state: defaults(),
		memories: map[int]string{
			0: memoryRecord(7074000, 2, "FT8 40"),
			1: memoryRecord(14074000, 2, "FT8 20"),
			2: memoryRecord(145500000, 4, "S20"),
		},
		power:   true,
		wake:    make(chan struct{}, 1),
		timeout: 10 * time.Millisecond,
		silent:  make(map[string]bool),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func memoryRecord(freq, mode int, name string) string {
	return fmt.Sprintf("%011d%d0000000000000000000000%s", freq, mode, name)
}

// Read returns pending reply bytes, or 0 bytes after the read timeout.
func (s *Sim) Read(p []byte) (int, error) {
	deadline := time.NewTimer(s.readTimeout())
	defer deadline.Stop()
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return 0, ErrClosed
		}
		if s.out.Len() > 0 {
			n, _ := s.out.Read(p)
			s.mu.Unlock()
			return n, nil
		}
		s.mu.Unlock()
		select {
		case <-s.wake:
		case <-deadline.C:
			return 0, nil
		}
	}
}

func (s *Sim) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	s.in = append(s.in, p...)
	for {
		i := bytes.IndexByte(s.in, ';')
		if i < 0 {
			break
		}
		cmd := string(s.in[:i])
		s.in = s.in[i+1:]
		s.handle(cmd)
	}
	return len(p), nil
}

func (s *Sim) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.signal()
	return nil
}

func (s *Sim) SetRTS(bool) error { return nil }

func (s *Sim) ResetInputBuffer() error {
	s.mu.Lock()
	s.out.Reset()
	s.mu.Unlock()
	return nil
}

func (s *Sim) SetReadTimeout(t time.Duration) error {
	s.mu.Lock()
	s.timeout = t
	s.mu.Unlock()
	return nil
}

func (s *Sim) readTimeout() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeout
}

func (s *Sim) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// reply queues one line. Must hold s.mu.
func (s *Sim) reply(line string) {
	s.out.WriteString(line + ";")
	s.signal()
}

// handle executes one command. Must hold s.mu.
func (s *Sim) handle(cmd string) {
	s.commands = append(s.commands, cmd+";")
	if cmd == "" {
		return
	}
	if len(cmd) < 2 {
		s.reply("?")
		return
	}
	code, args := cmd[:2], cmd[2:]
	if !s.power && !alwaysOn[code] {
		return
	}
	if s.silent[code] {
		return
	}
	if s.failNext > 0 {
		s.failNext--
		s.reply(s.failCode)
		return
	}
	s.log.Debug("command", zap.String("cmd", cmd))

	switch code {
	case "PS":
		if args == "" {
			s.reply("PS" + boolField(s.power))
			return
		}
		s.power = args == "1"
	case "ID":
		s.reply("ID" + s.model)
	case "IF":
		s.reply("IF" + s.ifFields())
	case "TX":
		s.tx = true
		s.reply("TX0")
	case "RX":
		s.tx = false
		s.reply("RX0")
	case "RC":
		s.shift = 0
	case "RU", "RD":
		step := 10
		if args != "" {
			n, err := strconv.Atoi(args)
			if err != nil {
				s.reply("?")
				return
			}
			step = n
		}
		if code == "RD" {
			step = -step
		}
		s.shift += step
	case "MR":
		if len(args) != 4 {
			s.reply("?")
			return
		}
		ch, err := strconv.Atoi(args[1:])
		if err != nil || ch >= 300 {
			s.reply("?")
			return
		}
		rec, ok := s.memories[ch]
		if !ok {
			rec = memoryRecord(0, 0, "")
		}
		s.reply(fmt.Sprintf("MR0%03d%s", ch, rec))
	case "MW":
		if len(args) < 4 {
			s.reply("?")
			return
		}
		ch, err := strconv.Atoi(args[1:4])
		if err != nil || ch >= 300 {
			s.reply("?")
			return
		}
		s.memories[ch] = args[4:]
	default:
		s.generic(code, args)
	}
}

// generic answers or stores a plain setting.
func (s *Sim) generic(code, args string) {
	key := code
	switch {
	case perReceiver[code]:
		key = code + s.control()
	case prefixed[code] > 0:
		n := prefixed[code]
		if len(args) < n {
			s.reply("?")
			return
		}
		key, args = code+args[:n], args[n:]
	}
	cur, ok := s.state[key]
	if !ok {
		s.reply("?")
		return
	}
	if args == "" {
		s.reply(wireKey(key, code) + cur)
		return
	}
	// RA, PA and AR answer with a trailing status field the set omits
	if len(args) != len(cur) && code != "RA" && code != "PA" && code != "AR" {
		s.reply("?")
		return
	}
	s.state[key] = args
}

// wireKey turns a storage key back into the reply prefix.
func wireKey(key, code string) string {
	if perReceiver[code] {
		return code
	}
	return key
}

// control is "0" or "1" for the receiver selected by DC.
func (s *Sim) control() string {
	return s.state["DC"][1:2]
}

func (s *Sim) ifFields() string {
	ctrl := s.control()
	freq := s.state["FC"]
	if ctrl == "0" {
		switch s.state["FR0"] {
		case "0":
			freq = s.state["FA"]
		case "1":
			freq = s.state["FB"]
		default:
			freq = s.memoryFrequency()
		}
	}
	split := "0"
	if s.state["FR"+ctrl] != s.state["FT"+ctrl] {
		split = "1"
	}
	shift := fmt.Sprintf("%+05d", s.shift)
	mc, _ := strconv.Atoi(s.state["MC"])
	return freq + "     " + shift + s.state["RT"] + s.state["XT"] +
		fmt.Sprintf("%d%02d", mc/100, mc%100) + boolField(s.tx) + s.state["MD"+ctrl] +
		s.state["FR"+ctrl] + s.state["SC"] + split + s.state["TO"] + s.state["TN"] + s.state["OS"]
}

func (s *Sim) memoryFrequency() string {
	mc, _ := strconv.Atoi(s.state["MC"])
	if rec, ok := s.memories[mc]; ok {
		return rec[:11]
	}
	return strings.Repeat("0", 11)
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// Turn changes a setting as if the front panel was used and reports it
// when auto-information is on.
func (s *Sim) Turn(key, fields string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state[key] = fields
	if s.state["AI"] != "0" && s.power {
		code := key[:2]
		s.reply(wireKey(key, code) + fields)
	}
}

// Get returns the stored fields of a setting.
func (s *Sim) Get(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state[key]
}

func (s *Sim) Shift() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shift
}

// Memory returns the stored record of channel ch, without the MR prefix.
func (s *Sim) Memory(ch int) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.memories[ch]
	return rec, ok
}

// SetPower switches the transceiver as if its power button was pressed.
func (s *Sim) SetPower(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.power = on
	if on && s.state["AI"] != "0" {
		s.reply("PS1")
	}
}

func (s *Sim) Powered() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.power
}

// FailNext answers the next n commands with an error code ("?", "E" or "O").
func (s *Sim) FailNext(n int, code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext, s.failCode = n, code
}

// Silence makes the simulator ignore every command with the given code.
func (s *Sim) Silence(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.silent[code] = true
}

// Commands returns every command received so far, terminator included.
func (s *Sim) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// Queries returns the distinct query commands received so far, sorted.
func (s *Sim) Queries() []string {
	seen := make(map[string]bool)
	for _, c := range s.Commands() {
		if isQuery(c) {
			seen[c] = true
		}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func isQuery(cmd string) bool {
	args := strings.TrimSuffix(cmd, ";")
	if len(args) < 2 {
		return false
	}
	code, args := args[:2], args[2:]
	switch {
	case code == "MR":
		return true
	case prefixed[code] > 0:
		return len(args) == prefixed[code]
	}
	return args == ""
}
