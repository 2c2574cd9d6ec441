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
	"errors"
	"net/http"
	"time"

	deviceManager "github.com/carina-io/blockmgr/pkg/devicemanager"
	"github.com/carina-io/blockmgr/pkg/devicemanager/types"
	"github.com/carina-io/blockmgr/utils/log"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the device topology and metrics over HTTP",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		if addr == "" {
			addr = loader.Current().HttpAddr
		}
		registry.MustRegister(
			dm.Collector(),
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)

		configModifyNotice := make(chan struct{}, 1)
		loader.RegisterListenerChan(configModifyNotice)
		loader.WatchConfig()
		go reloadLogLevel(cmd.Context(), configModifyNotice)

		h := newHttpServer(dm, registry)
		return h.start(cmd.Context(), addr)
	},
}

// reloadLogLevel applies a changed log level, the other settings need a restart.
func reloadLogLevel(ctx context.Context, notice <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-notice:
			cfg := loader.Current()
			if log.SetLevel(cfg.LogLevel) {
				log.Infof("log level is now %s", cfg.LogLevel)
			}
		}
	}
}

type eHttpServer struct {
	e  *echo.Echo
	dm *deviceManager.DeviceManager
}

func newHttpServer(dm *deviceManager.DeviceManager, gatherer prometheus.Gatherer) *eHttpServer {
	h := &eHttpServer{e: echo.New(), dm: dm}
	h.e.HideBanner = true
	h.e.HidePort = true
	h.e.GET("/devices", h.deviceList)
	h.e.GET("/devices/describe", h.deviceDescribe)
	h.e.GET("/mapper", h.mapperList)
	h.e.GET("/mapper/slaves", h.mapperSlaves)
	h.e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	return h
}

func (h *eHttpServer) start(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		log.Infof("listening on %s", addr)
		errCh <- h.e.Start(addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := h.e.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (h *eHttpServer) deviceList(c echo.Context) error {
	devices, err := h.dm.DiskManager.ListAllDevices(c.Request().Context())
	if err != nil {
		return c.JSON(statusFor(err), err.Error())
	}
	return c.JSON(http.StatusOK, devices)
}

func (h *eHttpServer) deviceDescribe(c echo.Context) error {
	path := c.QueryParam("path")
	if path == "" {
		return c.JSON(http.StatusBadRequest, "path is required")
	}
	report, err := h.dm.Probe(c.Request().Context(), path)
	if err != nil {
		return c.JSON(statusFor(err), err.Error())
	}
	return c.JSON(http.StatusOK, report)
}

func (h *eHttpServer) mapperList(c echo.Context) error {
	mappings, err := h.dm.Mapper.Mappings(c.Request().Context())
	if err != nil {
		return c.JSON(statusFor(err), err.Error())
	}
	return c.JSON(http.StatusOK, mappings)
}

func (h *eHttpServer) mapperSlaves(c echo.Context) error {
	device := c.QueryParam("device")
	if device == "" {
		return c.JSON(http.StatusBadRequest, "device is required")
	}
	slaves, err := h.dm.Mapper.SlavesOf(c.Request().Context(), device)
	if err != nil {
		return c.JSON(statusFor(err), err.Error())
	}
	return c.JSON(http.StatusOK, slaves)
}

// statusFor maps resolution failures to 404, everything else is a server error.
func statusFor(err error) int {
	if types.IsResolutionError(err) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address, overrides httpAddr of the configuration")
}
