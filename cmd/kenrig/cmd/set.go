package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/roffe/gorig"
	"github.com/roffe/gorig/adapter/kenwood"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func init() {
	setCmd.Flags().BoolP("yes", "y", false, "do not ask before transmitting")
	rootCmd.AddCommand(setCmd)
}

var setCmd = &cobra.Command{
	Use:   "set <name> <value>",
	Short: "write a property",
	Long: `Values are parsed as YAML: 14074000, true, [1, 0].
Memory channels take a mapping, e.g. '{frequency: 145500000, mode: 4, name: S20}'`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		v, err := parseValue(name, args[1])
		if err != nil {
			return err
		}
		yes, _ := cmd.Flags().GetBool("yes")
		if name == gorig.TX && v == true && !yes && !yesNo("Key the transmitter?") {
			return nil
		}

		ctx := cmd.Context()
		rig, log, err := openRig(ctx)
		if err != nil {
			return err
		}
		defer closeRig(rig, log)

		done := make(chan any, 1)
		id, err := rig.AddModifyCallback(name, func(v any) {
			select {
			case done <- v:
			default:
			}
		})
		if err != nil {
			return err
		}
		defer rig.RemoveModifyCallback(name, id)
		if err := rig.Write(name, v); err != nil {
			return err
		}
		select {
		case nv := <-done:
			fmt.Printf("%s: %s\n", nameColor(name), formatValue(nv, nil))
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cfg.ReadTimeout):
			fmt.Printf("%s: %s\n", nameColor(name), unknownColor("unchanged"))
		}
		return nil
	},
}

func parseValue(name, s string) (any, error) {
	if strings.HasPrefix(name, "memory[") {
		var m kenwood.MemoryChannel
		if err := yaml.Unmarshal([]byte(s), &m); err != nil {
			return nil, fmt.Errorf("memory channel: %w", err)
		}
		return m, nil
	}
	var v any
	if err := yaml.Unmarshal([]byte(s), &v); err != nil {
		return nil, err
	}
	return v, nil
}
