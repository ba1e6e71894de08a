package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(getCmd)
}

var (
	nameColor    = color.New(color.FgCyan).SprintFunc()
	valueColor   = color.New(color.FgGreen).SprintFunc()
	unknownColor = color.New(color.FgYellow).SprintFunc()
	errorColor   = color.New(color.FgRed).SprintFunc()
)

var getCmd = &cobra.Command{
	Use:   "get <name>...",
	Short: "read properties",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rig, log, err := openRig(ctx)
		if err != nil {
			return err
		}
		defer closeRig(rig, log)
		for _, name := range args {
			v, err := rig.Read(ctx, name)
			fmt.Printf("%s: %s\n", nameColor(name), formatValue(v, err))
		}
		return nil
	},
}

func formatValue(v any, err error) string {
	switch {
	case err != nil:
		return errorColor(err.Error())
	case v == nil:
		return unknownColor("unknown")
	}
	return valueColor(fmt.Sprint(v))
}
