package run

import (
	"fmt"

	"github.com/carina-io/blockmgr/pkg/devicemanager/types"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all block devices",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		devices, err := dm.DiskManager.ListAllDevices(cmd.Context())
		if err != nil {
			return err
		}
		if config.json {
			return printJSON(cmd.OutOrStdout(), devices)
		}
		return printDevices(cmd.OutOrStdout(), devices)
	},
}

var describeCmd = &cobra.Command{
	Use:   "describe <device>",
	Short: "Show a device and everything below it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := dm.DiskManager.DescribeDevice(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if config.json {
			return printJSON(cmd.OutOrStdout(), d)
		}
		return printDevices(cmd.OutOrStdout(), []*types.BlockDevice{d})
	},
}

var parentCmd = &cobra.Command{
	Use:   "parent <device>",
	Short: "Show the topmost ancestor of a device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		top, err := dm.DiskManager.ParentChain(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if config.json {
			return printJSON(cmd.OutOrStdout(), top)
		}
		fmt.Fprintln(cmd.OutOrStdout(), top.Path)
		return nil
	},
}

var partitionsCmd = &cobra.Command{
	Use:   "partitions <device>",
	Short: "Count the partitions of a device and show the largest one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		count, err := dm.DiskManager.PartitionCount(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		largest, err := dm.DiskManager.LargestPartition(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if config.json {
			return printJSON(cmd.OutOrStdout(), struct {
				Count   int                `json:"count"`
				Largest *types.BlockDevice `json:"largest"`
			}{count, largest})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "partitions: %d\n", count)
		if largest != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "largest: %s (%s)\n", largest.Path, humanize.IBytes(largest.Size))
		}
		return nil
	},
}

var probeCmd = &cobra.Command{
	Use:   "probe <device>",
	Short: "Show filesystem signature, ancestry and slaves of a device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ok, err := dm.DiskManager.IsBlockDevice(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if !ok {
			return &types.ResolutionError{Device: args[0], Reason: "not a block device"}
		}
		report, err := dm.Probe(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if config.json {
			return printJSON(cmd.OutOrStdout(), report)
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "device: %s (%s, %s)\n", report.Device.Path, report.Device.Type, humanize.IBytes(report.Device.Size))
		fmt.Fprintf(w, "root: %s transport=%s\n", report.Root.Path, dash(report.Root.Transport))
		fmt.Fprintf(w, "filesystem: %s\n", dash(report.Filesystem["type"]))
		if uuid := report.Filesystem["uuid"]; uuid != "" {
			fmt.Fprintf(w, "uuid: %s\n", uuid)
		}
		if report.LargestPartition != nil {
			fmt.Fprintf(w, "largest partition: %s\n", report.LargestPartition.Path)
		}
		if len(report.Slaves) > 0 {
			fmt.Fprintln(w, "slaves:")
			printLines(w, report.Slaves)
		}
		return nil
	},
}

var rescanCmd = &cobra.Command{
	Use:   "rescan <device>",
	Short: "Make the kernel re-read the size of a device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return dm.DiskManager.Rescan(cmd.Context(), args[0])
	},
}
