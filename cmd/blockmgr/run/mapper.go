package run

import (
	"fmt"

	"github.com/spf13/cobra"
)

var mapperCmd = &cobra.Command{
	Use:   "mapper",
	Short: "List device mapper devices with their slaves",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		mappings, err := dm.Mapper.Mappings(cmd.Context())
		if err != nil {
			return err
		}
		if config.json {
			return printJSON(cmd.OutOrStdout(), mappings)
		}
		return printMappings(cmd.OutOrStdout(), mappings)
	},
}

var slavesCmd = &cobra.Command{
	Use:   "slaves [device]",
	Short: "List the slaves of a device mapper device, or of all of them",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			slaves []string
			err    error
		)
		if len(args) == 0 {
			slaves, err = dm.Mapper.AllSlaveDevices(cmd.Context())
		} else {
			slaves, err = dm.Mapper.SlavesOf(cmd.Context(), args[0])
		}
		if err != nil {
			return err
		}
		if config.json {
			return printJSON(cmd.OutOrStdout(), slaves)
		}
		printLines(cmd.OutOrStdout(), slaves)
		return nil
	},
}

var findMapperCmd = &cobra.Command{
	Use:   "find-mapper <slave>...",
	Short: "Find the device mapper device built on the given slaves",
	Long: `find-mapper prints the device mapper device built on exactly the given
slaves. With --all=false any overlap is enough and the first match wins.
Nothing is printed when no device matches.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		device, err := dm.Mapper.FindMapperDeviceForSlaves(cmd.Context(), args, all)
		if err != nil {
			return err
		}
		if config.json {
			return printJSON(cmd.OutOrStdout(), map[string]string{"device": device})
		}
		if device != "" {
			fmt.Fprintln(cmd.OutOrStdout(), device)
		}
		return nil
	},
}

func init() {
	findMapperCmd.Flags().Bool("all", true, "require the exact slave set")
}
