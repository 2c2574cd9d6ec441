package run

import (
	"fmt"

	"github.com/carina-io/blockmgr"
	"github.com/carina-io/blockmgr/pkg/devicemanager/filesystem"
	"github.com/carina-io/blockmgr/pkg/devicemanager/partition"
	"github.com/carina-io/blockmgr/utils/exec"
	"github.com/spf13/cobra"
)

var fsConfig struct {
	fsType    string
	options   []string
	fsOptions []string
	safe      bool
	label     string
	typeGUID  string
	wipe      bool
	wait      bool
}

var formatCmd = &cobra.Command{
	Use:   "format <device>",
	Short: "Create a filesystem on a device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			result *exec.Result
			err    error
		)
		if fsConfig.safe {
			result, err = dm.FsManager.SafeFormat(cmd.Context(), args[0], fsConfig.fsType, fsConfig.options...)
		} else {
			result, err = dm.FsManager.Format(cmd.Context(), args[0], fsConfig.fsType, fsConfig.options...)
		}
		return printResult(cmd, result, err)
	},
}

var checkCmd = &cobra.Command{
	Use:   "check <device>",
	Short: "Check and repair the filesystem of a device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := dm.FsManager.Check(cmd.Context(), args[0], fsConfig.fsType, fsConfig.options, fsConfig.fsOptions)
		return printResult(cmd, result, err)
	},
}

var expandCmd = &cobra.Command{
	Use:   "expand <device|mountpoint>",
	Short: "Grow a filesystem to the size of its device",
	Long: `expand grows the filesystem to fill its device. btrfs and xfs need the
mount point, the other filesystems the device.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := dm.FsManager.Expand(cmd.Context(), args[0], fsConfig.fsType, fsConfig.options...)
		return printResult(cmd, result, err)
	},
}

var partitionCmd = &cobra.Command{
	Use:   "partition <device>",
	Short: "Write a partition table with a single partition spanning the device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if fsConfig.wipe {
			if err := dm.Partition.Wipe(ctx, args[0]); err != nil {
				return err
			}
		}
		if err := dm.Partition.PartitionDevice(ctx, args[0], fsConfig.label, fsConfig.typeGUID); err != nil {
			return err
		}
		if !fsConfig.wait {
			return nil
		}
		part, err := dm.Partition.WaitForPartition(ctx, args[0])
		if err != nil {
			return err
		}
		if config.json {
			return printJSON(cmd.OutOrStdout(), part)
		}
		fmt.Fprintln(cmd.OutOrStdout(), part.Path)
		return nil
	},
}

// printResult shows the command output, on failure the output of the failed
// command is part of the error.
func printResult(cmd *cobra.Command, result *exec.Result, err error) error {
	if err != nil {
		return err
	}
	if result == nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "nothing to do")
		return nil
	}
	if config.json {
		return printJSON(cmd.OutOrStdout(), result)
	}
	fmt.Fprint(cmd.OutOrStdout(), result.Stdout)
	return nil
}

func init() {
	for _, c := range []*cobra.Command{formatCmd, checkCmd, expandCmd} {
		c.Flags().StringVarP(&fsConfig.fsType, "type", "t", blockmgr.DefaultFilesystem, fmt.Sprintf("filesystem type, one of %v", filesystem.SupportedTypes()))
		c.Flags().StringSliceVarP(&fsConfig.options, "option", "o", nil, "extra option passed to the filesystem tool")
	}
	formatCmd.Flags().BoolVar(&fsConfig.safe, "safe", false, "refuse to format a device that carries a filesystem")
	checkCmd.Flags().StringSliceVar(&fsConfig.fsOptions, "fs-option", nil, "option passed after -- to the fsck helper")

	partitionCmd.Flags().StringVar(&fsConfig.label, "label", blockmgr.DefaultPartitionLabel, "partition table type")
	partitionCmd.Flags().StringVar(&fsConfig.typeGUID, "part-type", partition.LinuxFilesystemGUID, "partition type GUID")
	partitionCmd.Flags().BoolVar(&fsConfig.wipe, "wipe", false, "wipe existing signatures first")
	partitionCmd.Flags().BoolVar(&fsConfig.wait, "wait", true, "wait for the partition to show up and print it")
}
