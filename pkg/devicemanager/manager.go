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

package deviceManager

import (
	"context"
	"strings"

	"github.com/carina-io/blockmgr/pkg/configuration"
	"github.com/carina-io/blockmgr/pkg/devicemanager/device"
	"github.com/carina-io/blockmgr/pkg/devicemanager/filesystem"
	"github.com/carina-io/blockmgr/pkg/devicemanager/mapper"
	"github.com/carina-io/blockmgr/pkg/devicemanager/partition"
	"github.com/carina-io/blockmgr/pkg/devicemanager/types"
	"github.com/carina-io/blockmgr/pkg/metrics"
	"github.com/carina-io/blockmgr/utils/exec"
	"github.com/carina-io/blockmgr/utils/log"
	"github.com/carina-io/blockmgr/utils/mutx"
	"github.com/prometheus/client_golang/prometheus"
)

type DeviceManager struct {
	// The implementation of executing a console command
	Executor exec.Executor
	Config   *configuration.Config
	// 所有修改设备的操作均需获取锁
	Mutex *mutx.DeviceLocks
	// 磁盘拓扑查询
	DiskManager device.LocalDevice
	// device mapper 关系
	Mapper mapper.DeviceMapper
	// 文件系统操作
	FsManager filesystem.FilesystemManager
	// 分区操作
	Partition partition.LocalPartition
}

// NewDeviceManager wires every component on one instrumented executor. The
// executor metrics are registered on reg unless it is nil.
func NewDeviceManager(cfg *configuration.Config, reg prometheus.Registerer) *DeviceManager {
	executor := metrics.NewInstrumentedExecutor(exec.NewCommandExecutor(cfg.ExecutorConfig()), reg)
	return NewDeviceManagerWithExecutor(cfg, executor)
}

func NewDeviceManagerWithExecutor(cfg *configuration.Config, executor exec.Executor) *DeviceManager {
	mutex := mutx.NewDeviceLocks()
	resolver := device.NewResolver(executor, device.WithSysfsRoot(cfg.SysfsRoot), device.WithLocks(mutex))
	mode := mapper.DiscoverySysfs
	if cfg.MapperDiscovery == configuration.MapperDiscoveryCommand {
		mode = mapper.DiscoveryCommand
	}

	dm := DeviceManager{
		Executor:    executor,
		Config:      cfg,
		Mutex:       mutex,
		DiskManager: resolver,
		Mapper: mapper.NewMatcher(executor, resolver,
			mapper.WithSysfsRoot(cfg.SysfsRoot),
			mapper.WithProcfsRoot(cfg.ProcfsRoot),
			mapper.WithDiscoveryMode(mode),
		),
		FsManager: filesystem.NewManager(executor, resolver, mutex),
		Partition: partition.NewLocalPartitionImplement(executor, resolver, mutex),
	}
	log.Debugf("device manager ready, sysfs %s, mapper discovery %s", cfg.SysfsRoot, mode)
	return &dm
}

// Collector exposes the device topology of this manager to prometheus.
func (dm *DeviceManager) Collector() *metrics.BlockmgrCollector {
	return metrics.NewBlockmgrCollector(dm.DiskManager, dm.Mapper, dm.Config.ProcfsRoot)
}

// DeviceReport gathers what is known about a single device.
type DeviceReport struct {
	Device *types.BlockDevice `json:"device"`
	// Root is the topmost ancestor, the device itself for whole disks
	Root       *types.BlockDevice `json:"root"`
	Filesystem map[string]string  `json:"filesystem"`
	// Slaves is only set for device mapper devices
	Slaves           []string           `json:"slaves,omitempty"`
	LargestPartition *types.BlockDevice `json:"largestPartition,omitempty"`
}

func (dm *DeviceManager) Probe(ctx context.Context, path string) (*DeviceReport, error) {
	d, err := dm.DiskManager.DescribeDevice(ctx, path)
	if err != nil {
		return nil, err
	}
	root, err := dm.DiskManager.ParentChain(ctx, d.Path)
	if err != nil {
		return nil, err
	}
	info, err := dm.DiskManager.FilesystemInfo(ctx, d.Path)
	if err != nil {
		return nil, err
	}

	report := &DeviceReport{Device: d, Root: root, Filesystem: info, LargestPartition: d.LargestPartition()}
	if strings.HasPrefix(d.KernelName, types.DeviceMapperPrefix) {
		slaves, err := dm.Mapper.SlavesOf(ctx, d.Path)
		if err != nil {
			return nil, err
		}
		report.Slaves = slaves
	}
	return report, nil
}
