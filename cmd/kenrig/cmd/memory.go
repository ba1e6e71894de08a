package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/roffe/gorig/adapter/kenwood"
	"github.com/roffe/gorig/pkg/bar"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func init() {
	memoryCmd.Flags().Bool("yaml", false, "print yaml")
	memoryCmd.Flags().Bool("empty", false, "include empty channels")
	rootCmd.AddCommand(memoryCmd)
}

var memoryCmd = &cobra.Command{
	Use:   "memory [first] [last]",
	Short: "read memory channels",
	Args:  cobra.RangeArgs(0, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		first, last := 0, kenwood.MemoryChannels-1
		if len(args) > 0 {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return err
			}
			first, last = n, n
		}
		if len(args) > 1 {
			n, err := strconv.Atoi(args[1])
			if err != nil {
				return err
			}
			last = n
		}
		if first < 0 || last >= kenwood.MemoryChannels || first > last {
			return fmt.Errorf("channel range %d-%d outside 0-%d", first, last, kenwood.MemoryChannels-1)
		}
		showEmpty, _ := cmd.Flags().GetBool("empty")

		ctx := cmd.Context()
		rig, log, err := openRig(ctx)
		if err != nil {
			return err
		}
		defer closeRig(rig, log)

		out := make(map[int]kenwood.MemoryChannel)
		var order []int
		pb := bar.New(last-first+1, "reading memories")
		for ch := first; ch <= last; ch++ {
			v, err := rig.Read(ctx, fmt.Sprintf("memory[%d]", ch))
			if err != nil {
				return err
			}
			pb.Add(1)
			m, ok := v.(kenwood.MemoryChannel)
			if !ok || (m.Empty() && !showEmpty) {
				continue
			}
			out[ch] = m
			order = append(order, ch)
		}
		pb.Finish()

		if asYAML, _ := cmd.Flags().GetBool("yaml"); asYAML {
			return yaml.NewEncoder(os.Stdout).Encode(out)
		}
		for _, ch := range order {
			fmt.Printf("%s %s\n", nameColor(fmt.Sprintf("%03d", ch)), valueColor(out[ch].String()))
		}
		return nil
	},
}
