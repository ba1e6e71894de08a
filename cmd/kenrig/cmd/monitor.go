package cmd

import (
	"fmt"
	"sync"
	"time"

	"github.com/jroimartin/gocui"
	"github.com/roffe/gorig"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(monitorCmd)
}

var monitorNames = []string{
	gorig.RxFrequency, gorig.TxFrequency, gorig.RxMode, gorig.TxMode, gorig.Split, gorig.TX,
	"rx_tuning_mode", "tx_tuning_mode", "power", "s_meter", "sub_s_meter",
	"output_power", "af_gain", "rit", "xit", "shift",
}

type monitor struct {
	mu     sync.Mutex
	values map[string]any
	seen   map[string]time.Time
}

var monitorCmd = &cobra.Command{
	Use:   "monitor [name]...",
	Short: "live view of the rig state",
	Args:  cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		names := monitorNames
		if len(args) > 0 {
			names = args
		}
		rig, log, err := openRig(ctx)
		if err != nil {
			return err
		}
		defer closeRig(rig, log)

		g, err := gocui.NewGui(gocui.OutputNormal)
		if err != nil {
			return err
		}
		defer g.Close()

		m := &monitor{values: make(map[string]any), seen: make(map[string]time.Time)}
		g.SetManagerFunc(m.layout(names))
		if err := g.SetKeybinding("", gocui.KeyCtrlC, gocui.ModNone, quitKey); err != nil {
			return err
		}
		if err := g.SetKeybinding("", 'q', gocui.ModNone, quitKey); err != nil {
			return err
		}

		for _, name := range names {
			name := name
			v, err := rig.Read(ctx, name)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			m.set(name, v)
			id, err := rig.AddModifyCallback(name, func(v any) {
				m.set(name, v)
				g.Update(func(*gocui.Gui) error { return nil })
			})
			if err != nil {
				return err
			}
			defer rig.RemoveModifyCallback(name, id)
		}

		go func() {
			<-ctx.Done()
			g.Update(quit)
		}()
		if err := g.MainLoop(); err != nil && err != gocui.ErrQuit {
			return err
		}
		return nil
	},
}

func quit(*gocui.Gui) error { return gocui.ErrQuit }

func quitKey(g *gocui.Gui, _ *gocui.View) error { return quit(g) }

func (m *monitor) set(name string, v any) {
	m.mu.Lock()
	m.values[name] = v
	m.seen[name] = time.Now()
	m.mu.Unlock()
}

func (m *monitor) layout(names []string) func(*gocui.Gui) error {
	return func(g *gocui.Gui) error {
		maxX, _ := g.Size()
		v, err := g.SetView("state", 0, 0, maxX-1, len(names)+1)
		if err != nil && err != gocui.ErrUnknownView {
			return err
		}
		v.Title = "rig state (q to quit)"
		v.Clear()
		m.mu.Lock()
		defer m.mu.Unlock()
		for _, name := range names {
			val := "unknown"
			if x := m.values[name]; x != nil {
				val = fmt.Sprint(x)
			}
			age := ""
			if t, ok := m.seen[name]; ok {
				age = time.Since(t).Truncate(time.Second).String()
			}
			fmt.Fprintf(v, " %-22s %-20s %s\n", name, val, age)
		}
		return nil
	}
}
