package metrics

import (
	"context"
	"errors"

	"github.com/carina-io/blockmgr/pkg/devicemanager/device"
	"github.com/prometheus/client_golang/prometheus"
	"k8s.io/apimachinery/pkg/util/sets"
)

const (
	deviceSubSystem string = "device"
)

var (
	deviceLabels = []string{"device", "kname", "type", "transport"}

	deviceSizeBytesDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, deviceSubSystem, "size_bytes"),
		"The capacity of the block device in bytes.",
		deviceLabels,
		constLabels,
	)
	devicePartitionsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, deviceSubSystem, "partitions"),
		"The number of partitions directly on the block device.",
		deviceLabels,
		constLabels,
	)
	deviceFormattedDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, deviceSubSystem, "formatted"),
		"Whether the block device carries a filesystem signature.",
		deviceLabels,
		constLabels,
	)
	deviceReadonlyDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, deviceSubSystem, "readonly"),
		"Whether the block device is read only.",
		deviceLabels,
		constLabels,
	)
)

type deviceStatsCollector struct {
	descs    []typedFactorDesc
	resolver device.LocalDevice
}

func newDeviceStatsCollector(resolver device.LocalDevice) Collector {
	return &deviceStatsCollector{
		descs: []typedFactorDesc{
			{desc: deviceSizeBytesDesc, valueType: prometheus.GaugeValue},
			{desc: devicePartitionsDesc, valueType: prometheus.GaugeValue},
			{desc: deviceFormattedDesc, valueType: prometheus.GaugeValue},
			{desc: deviceReadonlyDesc, valueType: prometheus.GaugeValue},
		},
		resolver: resolver,
	}
}

func (v *deviceStatsCollector) Name() string {
	return "device_stats"
}

func (v *deviceStatsCollector) Update(ch chan<- prometheus.Metric) error {
	ctx, cancel := context.WithTimeout(context.Background(), scrapeTimeout)
	defer cancel()

	devices, err := v.resolver.ListAllDevices(ctx)
	if err != nil {
		return errors.New("couldn't list block devices:" + err.Error())
	}
	all := device.Flatten(devices)
	if len(all) == 0 {
		return ErrNoData
	}
	// multipath maps are listed below each of their slaves
	seen := sets.NewString()
	for _, d := range all {
		if seen.Has(d.Path) {
			continue
		}
		seen.Insert(d.Path)
		// need keep order with desc
		for i, val := range []float64{
			float64(d.Size),
			float64(len(d.Partitions())),
			boolToFloat(d.Filesystem != ""),
			boolToFloat(d.Readonly),
		} {
			if i >= len(v.descs) {
				break
			}
			ch <- v.descs[i].mustNewConstMetric(val, d.Path, d.KernelName, d.Type, d.Transport)
		}
	}
	return nil
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
