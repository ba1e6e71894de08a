package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/roffe/gorig"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func init() {
	dumpCmd.Flags().Bool("yaml", false, "print a yaml snapshot")
	rootCmd.AddCommand(dumpCmd)
}

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "print every cached property",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rig, log, err := openRig(ctx)
		if err != nil {
			return err
		}
		defer closeRig(rig, log)

		l, ok := rig.(gorig.Lister)
		if !ok {
			return errors.New("rig cannot list its properties")
		}
		snapshot := make(map[string]any)
		var names []string
		for _, name := range l.Names() {
			// views and memory channels are covered by their composite and the memory command
			if strings.Contains(name, "[") {
				continue
			}
			v, err := rig.Read(ctx, name)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			snapshot[name] = v
			names = append(names, name)
		}

		if asYAML, _ := cmd.Flags().GetBool("yaml"); asYAML {
			enc := yaml.NewEncoder(os.Stdout)
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(snapshot)
		}
		for _, name := range names {
			fmt.Printf("%-28s %s\n", nameColor(name), formatValue(snapshot[name], nil))
		}
		return nil
	},
}
