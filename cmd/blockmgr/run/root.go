/*
   Copyright @ 2021 bocloud <fushaosong@beyondcent.com>.

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/
package run

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/carina-io/blockmgr"
	"github.com/carina-io/blockmgr/pkg/configuration"
	deviceManager "github.com/carina-io/blockmgr/pkg/devicemanager"
	"github.com/carina-io/blockmgr/utils/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

var config struct {
	configFile string
	json       bool
}

var (
	loader   *configuration.Loader
	dm       *deviceManager.DeviceManager
	registry = prometheus.NewRegistry()
)

var rootCmd = &cobra.Command{
	Use:     "blockmgr",
	Version: blockmgr.Version,
	Short:   "Block device and filesystem management",
	Long: `blockmgr discovers block devices and their device mapper relations,
partitions, formats, checks and grows filesystems on the local host.

Mutating commands need root, or escalate=true in the configuration.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setup()
	},
}

func setup() error {
	var err error
	loader, err = configuration.Load(config.configFile)
	if err != nil {
		return err
	}
	cfg := loader.Current()
	if !log.SetLevel(cfg.LogLevel) {
		log.Warnf("unknown log level %s", cfg.LogLevel)
	}
	dm = deviceManager.NewDeviceManager(cfg, registry)
	return nil
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer func() { _ = log.Sync() }()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	fs := rootCmd.PersistentFlags()
	fs.StringVar(&config.configFile, "config", "", "config file (default is /etc/blockmgr/config.{json,yaml})")
	fs.BoolVar(&config.json, "json", false, "Output as JSON")

	rootCmd.AddCommand(listCmd, describeCmd, parentCmd, partitionsCmd, probeCmd, rescanCmd)
	rootCmd.AddCommand(mapperCmd, slavesCmd, findMapperCmd)
	rootCmd.AddCommand(formatCmd, checkCmd, expandCmd, partitionCmd)
	rootCmd.AddCommand(serveCmd)
}
