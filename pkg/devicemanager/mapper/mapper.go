package mapper

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/carina-io/blockmgr/pkg/devicemanager/device"
	"github.com/carina-io/blockmgr/pkg/devicemanager/types"
	"github.com/carina-io/blockmgr/utils"
	"github.com/carina-io/blockmgr/utils/exec"
	"github.com/carina-io/blockmgr/utils/log"
	"github.com/prometheus/procfs/blockdevice"
	"k8s.io/apimachinery/pkg/util/sets"
)

type DiscoveryMode string

const (
	// DiscoverySysfs enumerates dm-N directly below <sysfs>/block
	DiscoverySysfs DiscoveryMode = "sysfs"
	// DiscoveryCommand lists the /dev/mapper symlinks with a shell loop run
	// through the executor, for hosts where sysfs is only readable escalated
	DiscoveryCommand DiscoveryMode = "command"

	DefaultProcfsRoot = "/proc"
)

// listMapperScript prints one "<kname>:<slave knames>" line per /dev/mapper entry.
const listMapperScript = `for dm in /dev/mapper/*; do [ -L "$dm" ] || continue; F=$(basename "$(readlink -f "$dm")"); echo "$F:"$(ls %s/block/$F/slaves/); done`

type DeviceMapper interface {
	Mappings(ctx context.Context) ([]types.Mapping, error)
	AllMapperDevices(ctx context.Context) ([]string, error)
	AllSlaveDevices(ctx context.Context) ([]string, error)
	SlavesOf(ctx context.Context, path string) ([]string, error)
	FindMapperDeviceForSlaves(ctx context.Context, slaves []string, matchAll bool) (string, error)
	IsDeviceMapperDevice(ctx context.Context, path string) (bool, error)
	IsSlaveDevice(ctx context.Context, path string) (bool, error)
}

// Matcher relates device-mapper composites (multipath maps, crypt and lvm
// targets) with the real devices below them.
type Matcher struct {
	Executor   exec.Executor
	Resolver   device.LocalDevice
	SysfsRoot  string
	ProcfsRoot string
	Mode       DiscoveryMode
}

var _ DeviceMapper = &Matcher{}

type Option func(*Matcher)

func WithSysfsRoot(root string) Option {
	return func(m *Matcher) {
		if root != "" {
			m.SysfsRoot = root
		}
	}
}

func WithProcfsRoot(root string) Option {
	return func(m *Matcher) {
		if root != "" {
			m.ProcfsRoot = root
		}
	}
}

func WithDiscoveryMode(mode DiscoveryMode) Option {
	return func(m *Matcher) {
		if mode != "" {
			m.Mode = mode
		}
	}
}

func NewMatcher(executor exec.Executor, resolver device.LocalDevice, opts ...Option) *Matcher {
	m := &Matcher{
		Executor:   executor,
		Resolver:   resolver,
		SysfsRoot:  device.DefaultSysfsRoot,
		ProcfsRoot: DefaultProcfsRoot,
		Mode:       DiscoverySysfs,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Mappings returns every composite with its slaves, sorted by device path.
// Composites without slaves are left out.
func (m *Matcher) Mappings(ctx context.Context) ([]types.Mapping, error) {
	if m.Mode == DiscoveryCommand {
		return m.commandMappings(ctx)
	}
	mappings, err := m.sysfsMappings()
	if err != nil {
		log.Warnf("discover device mapper from sysfs failed, fall back to /dev/mapper: %s", err.Error())
		return m.commandMappings(ctx)
	}
	return mappings, nil
}

func (m *Matcher) sysfsMappings() ([]types.Mapping, error) {
	fs, err := blockdevice.NewFS(m.ProcfsRoot, m.SysfsRoot)
	if err != nil {
		return nil, err
	}
	names, err := fs.SysBlockDevices()
	if err != nil {
		return nil, err
	}

	var mappings []types.Mapping
	for _, name := range names {
		if !strings.HasPrefix(name, types.DeviceMapperPrefix) {
			continue
		}
		slaves, err := m.readSlaves(name)
		if err != nil {
			return nil, err
		}
		if len(slaves) == 0 {
			log.Warnf("device mapper %s has no slaves, skip", name)
			continue
		}
		mappings = append(mappings, types.Mapping{Device: filepath.Join(types.DevRoot, name), Slaves: slaves})
	}
	sortMappings(mappings)
	return mappings, nil
}

func (m *Matcher) commandMappings(ctx context.Context) ([]types.Mapping, error) {
	result, err := m.Executor.ExecuteCommand(ctx, "sh", "-c", m.script())
	if err != nil {
		return nil, &types.TopologyError{Op: "list device mapper", Err: err}
	}
	mappings, err := parseMappings(result.Stdout)
	if err != nil {
		return nil, &types.TopologyError{Op: "list device mapper", Err: err}
	}
	return mappings, nil
}

func (m *Matcher) script() string {
	return fmt.Sprintf(listMapperScript, m.SysfsRoot)
}

/*
# output of listMapperScript
dm-0:sdb sdc
dm-1:sda2
dm-2:
*/
func parseMappings(output string) ([]types.Mapping, error) {
	var mappings []types.Mapping
	for _, line := range utils.SplitLines(output) {
		kv := strings.SplitN(line, ":", 2)
		if len(kv) != 2 || strings.TrimSpace(kv[0]) == "" {
			return nil, &types.ParseError{Source: "device mapper listing", Err: fmt.Errorf("unexpected line %q", line)}
		}
		name := strings.TrimSpace(kv[0])
		slaves := sets.NewString()
		for _, slave := range strings.Fields(kv[1]) {
			slaves.Insert(filepath.Join(types.DevRoot, slave))
		}
		if slaves.Len() == 0 {
			log.Warnf("device mapper %s has no slaves, skip", name)
			continue
		}
		mappings = append(mappings, types.Mapping{Device: filepath.Join(types.DevRoot, name), Slaves: slaves.List()})
	}
	sortMappings(mappings)
	return mappings, nil
}

// sortMappings orders by dm minor, /dev/dm-2 before /dev/dm-10.
func sortMappings(mappings []types.Mapping) {
	sort.Slice(mappings, func(i, j int) bool {
		a, aok := dmMinor(mappings[i].Device)
		b, bok := dmMinor(mappings[j].Device)
		if aok && bok && a != b {
			return a < b
		}
		if aok != bok {
			return aok
		}
		return mappings[i].Device < mappings[j].Device
	})
}

func dmMinor(devicePath string) (int, bool) {
	name := filepath.Base(devicePath)
	if !strings.HasPrefix(name, types.DeviceMapperPrefix) {
		return 0, false
	}
	minor, err := strconv.Atoi(strings.TrimPrefix(name, types.DeviceMapperPrefix))
	if err != nil {
		return 0, false
	}
	return minor, true
}

func (m *Matcher) readSlaves(kname string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(m.SysfsRoot, "block", kname, "slaves"))
	if err != nil {
		return nil, err
	}
	slaves := sets.NewString()
	for _, entry := range entries {
		slaves.Insert(filepath.Join(types.DevRoot, entry.Name()))
	}
	return slaves.List(), nil
}

func (m *Matcher) AllMapperDevices(ctx context.Context) ([]string, error) {
	mappings, err := m.Mappings(ctx)
	if err != nil {
		return nil, err
	}
	devices := make([]string, 0, len(mappings))
	for _, mapping := range mappings {
		devices = append(devices, mapping.Device)
	}
	return devices, nil
}

// AllSlaveDevices is the union of all slave sets, sorted.
func (m *Matcher) AllSlaveDevices(ctx context.Context) ([]string, error) {
	mappings, err := m.Mappings(ctx)
	if err != nil {
		return nil, err
	}
	slaves := sets.NewString()
	for _, mapping := range mappings {
		slaves.Insert(mapping.Slaves...)
	}
	return slaves.List(), nil
}

// SlavesOf lists the real devices below a composite. A composite without
// slaves is an error here.
func (m *Matcher) SlavesOf(ctx context.Context, path string) ([]string, error) {
	info, err := m.Resolver.DescribeDevice(ctx, path)
	if err != nil {
		return nil, err
	}

	var slaves []string
	if m.Mode == DiscoveryCommand {
		slaves, err = m.listSlaves(ctx, info.KernelName)
	} else {
		slaves, err = m.readSlaves(info.KernelName)
		if errors.Is(err, os.ErrNotExist) {
			return nil, &types.ResolutionError{Device: path, Reason: "not a device mapper device"}
		}
	}
	if err != nil {
		return nil, &types.TopologyError{Op: "list slaves", Device: path, Err: err}
	}
	if len(slaves) == 0 {
		return nil, &types.ResolutionError{Device: path, Reason: "device mapper has no slaves"}
	}
	return slaves, nil
}

func (m *Matcher) listSlaves(ctx context.Context, kname string) ([]string, error) {
	result, err := m.Executor.ExecuteCommand(ctx, "ls", filepath.Join(m.SysfsRoot, "block", kname, "slaves")+"/")
	if err != nil {
		return nil, err
	}
	slaves := sets.NewString()
	for _, entry := range strings.Fields(result.Stdout) {
		slaves.Insert(filepath.Join(types.DevRoot, entry))
	}
	return slaves.List(), nil
}

// FindMapperDeviceForSlaves returns the composite built on slaves. With
// matchAll the composite must have exactly this slave set, otherwise the
// first composite sharing any slave wins, in dm minor order. An empty result
// is not an error. Paths that no longer exist cannot be held by any
// composite, they are skipped but still count against an exact match.
func (m *Matcher) FindMapperDeviceForSlaves(ctx context.Context, slaves []string, matchAll bool) (string, error) {
	candidates := sets.NewString()
	missing := sets.NewString()
	for _, slave := range slaves {
		p, err := m.Resolver.Canonicalize(slave)
		if errors.Is(err, os.ErrNotExist) {
			log.Debugf("skip candidate slave %s: %s", slave, err.Error())
			missing.Insert(slave)
			continue
		}
		if err != nil {
			return "", &types.TopologyError{Op: "canonicalize", Device: slave, Err: err}
		}
		candidates.Insert(p)
	}
	if matchAll && missing.Len() > 0 {
		return "", nil
	}

	mappings, err := m.Mappings(ctx)
	if err != nil {
		return "", err
	}
	for _, mapping := range mappings {
		held := sets.NewString(mapping.Slaves...)
		common := held.Intersection(candidates)
		if !matchAll && common.Len() > 0 {
			return mapping.Device, nil
		}
		if matchAll && common.Len() == held.Len() && held.Len() == candidates.Len() {
			return mapping.Device, nil
		}
	}
	return "", nil
}

func (m *Matcher) IsDeviceMapperDevice(ctx context.Context, path string) (bool, error) {
	return m.Resolver.IsDeviceMapperDevice(ctx, path)
}

// IsSlaveDevice reports whether path is held by any device mapper composite.
func (m *Matcher) IsSlaveDevice(ctx context.Context, path string) (bool, error) {
	devicePath, err := m.Resolver.Canonicalize(path)
	if err != nil {
		return false, &types.TopologyError{Op: "canonicalize", Device: path, Err: err}
	}
	slaves, err := m.AllSlaveDevices(ctx)
	if err != nil {
		return false, err
	}
	return utils.ContainsString(slaves, devicePath), nil
}
