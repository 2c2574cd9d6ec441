package metrics

import (
	"context"
	"errors"

	"github.com/carina-io/blockmgr/pkg/devicemanager/mapper"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	mapperSubSystem string = "device_mapper"
)

var (
	mapperSlavesDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, mapperSubSystem, "slaves"),
		"The number of real devices below a device mapper device.",
		[]string{"device"},
		constLabels,
	)
	mapperSlaveInfoDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, mapperSubSystem, "slave_info"),
		"Relation of a device mapper device with one of its slaves, always 1.",
		[]string{"device", "slave"},
		constLabels,
	)
)

type mapperStatsCollector struct {
	slaves    typedFactorDesc
	slaveInfo typedFactorDesc
	matcher   mapper.DeviceMapper
}

func newMapperStatsCollector(matcher mapper.DeviceMapper) Collector {
	return &mapperStatsCollector{
		slaves:    typedFactorDesc{desc: mapperSlavesDesc, valueType: prometheus.GaugeValue},
		slaveInfo: typedFactorDesc{desc: mapperSlaveInfoDesc, valueType: prometheus.GaugeValue},
		matcher:   matcher,
	}
}

func (v *mapperStatsCollector) Name() string {
	return "device_mapper_stats"
}

func (v *mapperStatsCollector) Update(ch chan<- prometheus.Metric) error {
	ctx, cancel := context.WithTimeout(context.Background(), scrapeTimeout)
	defer cancel()

	mappings, err := v.matcher.Mappings(ctx)
	if err != nil {
		return errors.New("couldn't get device mapper devices:" + err.Error())
	}
	if len(mappings) == 0 {
		return ErrNoData
	}
	for _, m := range mappings {
		ch <- v.slaves.mustNewConstMetric(float64(len(m.Slaves)), m.Device)
		for _, slave := range m.Slaves {
			ch <- v.slaveInfo.mustNewConstMetric(1, m.Device, slave)
		}
	}
	return nil
}
