package cmd

import (
	"fmt"

	"github.com/roffe/gorig"
	"github.com/roffe/gorig/pkg/transport"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(portsCmd)
	rootCmd.AddCommand(rigsCmd)
}

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "list available serial ports",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ports, err := transport.ListPorts()
		if err != nil {
			return err
		}
		for _, p := range ports {
			fmt.Println(transport.PortInfo(p))
		}
		return nil
	},
}

var rigsCmd = &cobra.Command{
	Use:   "rigs",
	Short: "list supported rigs",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		for _, r := range gorig.ListRigs() {
			fmt.Println(r.String())
		}
	},
}
