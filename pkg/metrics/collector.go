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

package metrics

import (
	"errors"
	"os"
	"sync"
	"time"

	"github.com/carina-io/blockmgr"
	"github.com/carina-io/blockmgr/pkg/devicemanager/device"
	"github.com/carina-io/blockmgr/pkg/devicemanager/mapper"
	"github.com/carina-io/blockmgr/utils/log"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace       string = "blockmgr"
	scrapeSubSystem string = "scrape"
	// scrapeTimeout bounds the commands a single scrape may run
	scrapeTimeout = 30 * time.Second
)

var (
	// ErrNoData indicates the collector found no data to collect, but had no other error.
	ErrNoData   = errors.New("collector returned no data")
	nodeName    = nodeNameFromEnv()
	constLabels = prometheus.Labels{"nodename": nodeName}

	scrapeDurationDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, scrapeSubSystem, "collector_duration_seconds"),
		"blockmgr_exporter: Duration of a collector scrape.",
		[]string{"collector"},
		nil,
	)
	scrapeSuccessDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, scrapeSubSystem, "collector_success"),
		"blockmgr_exporter: Whether a collector succeeded.",
		[]string{"collector"},
		nil,
	)
)

func nodeNameFromEnv() string {
	if name := os.Getenv(blockmgr.NodeNameEnv); name != "" {
		return name
	}
	name, _ := os.Hostname()
	return name
}

type typedFactorDesc struct {
	desc      *prometheus.Desc
	valueType prometheus.ValueType
}

func (d *typedFactorDesc) mustNewConstMetric(value float64, labels ...string) prometheus.Metric {
	return prometheus.MustNewConstMetric(d.desc, d.valueType, value, labels...)
}

// Collector is the interface a collector has to implement.
type Collector interface {
	Update(ch chan<- prometheus.Metric) error
	Name() string
}

// BlockmgrCollector implements the prometheus.Collector interface.
type BlockmgrCollector struct {
	collectors map[string]Collector
}

// NewBlockmgrCollector exports device topology and, when procfsRoot is
// readable, the kernel io counters of every block device.
func NewBlockmgrCollector(resolver device.LocalDevice, matcher mapper.DeviceMapper, procfsRoot string) *BlockmgrCollector {
	collectors := make(map[string]Collector)

	deviceStats := newDeviceStatsCollector(resolver)
	collectors[deviceStats.Name()] = deviceStats
	mapperStats := newMapperStatsCollector(matcher)
	collectors[mapperStats.Name()] = mapperStats

	diskStats, err := newDiskStatsCollector(procfsRoot)
	if err != nil {
		log.Warnf("disable disk_stats collector: %s", err.Error())
	} else {
		collectors[diskStats.Name()] = diskStats
	}

	return &BlockmgrCollector{collectors: collectors}
}

// Describe implements the prometheus.Collector interface.
func (c BlockmgrCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- scrapeDurationDesc
	ch <- scrapeSuccessDesc
}

// Collect implements the prometheus.Collector interface.
func (c BlockmgrCollector) Collect(ch chan<- prometheus.Metric) {
	wg := sync.WaitGroup{}
	wg.Add(len(c.collectors))
	for name, c := range c.collectors {
		go func(name string, c Collector) {
			execute(name, c, ch)
			wg.Done()
		}(name, c)
	}
	wg.Wait()
}

func execute(name string, c Collector, ch chan<- prometheus.Metric) {
	begin := time.Now()
	err := c.Update(ch)
	duration := time.Since(begin)
	var success float64

	if err != nil {
		if IsNoDataError(err) {
			log.Debug("msg ", "collector returned no data ", "name ", name, "duration_seconds ", duration.Seconds(), "err ", err)
		} else {
			log.Debug("msg ", "collector failed ", "name ", name, "duration_seconds ", duration.Seconds(), "err ", err)
		}
		success = 0
	} else {
		log.Debug("msg ", "collector succeeded ", "name ", name, "duration_seconds ", duration.Seconds())
		success = 1
	}
	ch <- prometheus.MustNewConstMetric(scrapeDurationDesc, prometheus.GaugeValue, duration.Seconds(), name)
	ch <- prometheus.MustNewConstMetric(scrapeSuccessDesc, prometheus.GaugeValue, success, name)
}

func IsNoDataError(err error) bool {
	return err == ErrNoData
}
