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
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/procfs/blockdevice"
)

const (
	diskSubSystem  string = "disk_stats"
	secondsPerTick        = 1.0 / 1000.0
	// Read sectors and write sectors are the "standard UNIX 512-byte sectors, not any device- or filesystem-specific block size."
	// See also https://www.kernel.org/doc/Documentation/block/stat.txt
	unixSectorSize = 512.0
)

var (
	diskStatLabels = []string{"device", "major", "minor"}

	readsCompletedDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, diskSubSystem, "reads_completed_total"),
		"The total number of reads completed successfully.",
		diskStatLabels,
		constLabels,
	)
	readBytesDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, diskSubSystem, "read_bytes_total"),
		"The total number of bytes read successfully.",
		diskStatLabels,
		constLabels,
	)
	readTimeSecondsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, diskSubSystem, "read_time_seconds_total"),
		"The total number of seconds spent by all reads.",
		diskStatLabels,
		constLabels,
	)
	writesCompletedDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, diskSubSystem, "writes_completed_total"),
		"The total number of writes completed successfully.",
		diskStatLabels,
		constLabels,
	)
	writeBytesDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, diskSubSystem, "write_bytes_total"),
		"The total number of bytes write successfully.",
		diskStatLabels,
		constLabels,
	)
	writeTimeSecondsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, diskSubSystem, "write_time_seconds_total"),
		"This is the total number of seconds spent by all writes.",
		diskStatLabels,
		constLabels,
	)
	iONowDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, diskSubSystem, "io_now"),
		"The number of I/Os currently in progress.",
		diskStatLabels,
		constLabels,
	)
	iOTimeSecondsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, diskSubSystem, "io_time_seconds_total"),
		"Total seconds spent doing I/Os.",
		diskStatLabels,
		constLabels,
	)
)

type diskStatsCollector struct {
	descs []typedFactorDesc
	fs    blockdevice.FS
}

// newDiskStatsCollector reads <procfsRoot>/diskstats, deploy with the host
// proc mounted when running in a container.
func newDiskStatsCollector(procfsRoot string) (Collector, error) {
	fs, err := blockdevice.NewFS(procfsRoot, "")
	if err != nil {
		return nil, errors.New("failed to open procfs:" + err.Error())
	}

	return &diskStatsCollector{
		descs: []typedFactorDesc{
			{desc: readsCompletedDesc, valueType: prometheus.CounterValue},
			{desc: readBytesDesc, valueType: prometheus.CounterValue},
			{desc: readTimeSecondsDesc, valueType: prometheus.CounterValue},
			{desc: writesCompletedDesc, valueType: prometheus.CounterValue},
			{desc: writeBytesDesc, valueType: prometheus.CounterValue},
			{desc: writeTimeSecondsDesc, valueType: prometheus.CounterValue},
			{desc: iONowDesc, valueType: prometheus.GaugeValue},
			{desc: iOTimeSecondsDesc, valueType: prometheus.CounterValue},
		},
		fs: fs,
	}, nil
}

func (v *diskStatsCollector) Name() string {
	return "disk_stats"
}

func (v *diskStatsCollector) Update(ch chan<- prometheus.Metric) error {
	diskStats, err := v.fs.ProcDiskstats()
	if err != nil {
		return errors.New("couldn't get diskstats:" + err.Error())
	}
	if len(diskStats) == 0 {
		return ErrNoData
	}
	for _, stats := range diskStats {
		major := strconv.FormatUint(uint64(stats.MajorNumber), 10)
		minor := strconv.FormatUint(uint64(stats.MinorNumber), 10)
		for i, val := range []float64{
			// need keep order with desc
			float64(stats.ReadIOs),
			float64(stats.ReadSectors) * unixSectorSize,
			float64(stats.ReadTicks) * secondsPerTick,
			float64(stats.WriteIOs),
			float64(stats.WriteSectors) * unixSectorSize,
			float64(stats.WriteTicks) * secondsPerTick,
			float64(stats.IOsInProgress),
			float64(stats.IOsTotalTicks) * secondsPerTick,
		} {
			if i >= len(v.descs) {
				break
			}
			ch <- v.descs[i].mustNewConstMetric(val, stats.DeviceName, major, minor)
		}
	}
	return nil
}
