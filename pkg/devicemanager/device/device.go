package device

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/carina-io/blockmgr/pkg/devicemanager/types"
	"github.com/carina-io/blockmgr/utils"
	"github.com/carina-io/blockmgr/utils/exec"
	"github.com/carina-io/blockmgr/utils/log"
	"github.com/carina-io/blockmgr/utils/mutx"
	"golang.org/x/sys/unix"
	"k8s.io/apimachinery/pkg/util/sets"
)

// MaxParentDepth bounds the walk to the topmost ancestor.
const MaxParentDepth = 16

const DefaultSysfsRoot = "/sys"

var lsblkArgs = []string{"-a", "-b", "-J", "-O"}

type LocalDevice interface {
	// ListAllDevices lists every block device of the host as trees of root devices
	ListAllDevices(ctx context.Context) ([]*types.BlockDevice, error)
	// DescribeDevice returns the tree rooted at the given device
	DescribeDevice(ctx context.Context, path string) (*types.BlockDevice, error)
	Canonicalize(path string) (string, error)
	IsBlockDevice(ctx context.Context, path string) (bool, error)
	IsDeviceMapperDevice(ctx context.Context, path string) (bool, error)
	// ParentChain returns the topmost ancestor, the device itself when it has no parent
	ParentChain(ctx context.Context, path string) (*types.BlockDevice, error)
	HasTransport(ctx context.Context, path string, transport string) (bool, error)
	IsISCSI(ctx context.Context, path string) (bool, error)
	LargestPartition(ctx context.Context, path string) (*types.BlockDevice, error)
	PartitionCount(ctx context.Context, path string) (int, error)
	IsFormatted(ctx context.Context, path string) (bool, error)
	FilesystemInfo(ctx context.Context, path string) (map[string]string, error)
	Rescan(ctx context.Context, path string) error
}

// Resolver answers topology questions from lsblk, blkid and sysfs. It keeps
// no state between calls, every query sees the host as it is now.
type Resolver struct {
	Executor  exec.Executor
	SysfsRoot string
	// Realpath resolves symlinks, filepath.EvalSymlinks unless replaced
	Realpath func(path string) (string, error)
	// Locks serializes Rescan with the other mutations of a device
	Locks *mutx.DeviceLocks
}

var _ LocalDevice = &Resolver{}

type Option func(*Resolver)

func WithSysfsRoot(root string) Option {
	return func(r *Resolver) {
		if root != "" {
			r.SysfsRoot = root
		}
	}
}

func WithRealpath(realpath func(path string) (string, error)) Option {
	return func(r *Resolver) {
		if realpath != nil {
			r.Realpath = realpath
		}
	}
}

// WithLocks shares the per-device locks of the filesystem and partition managers.
func WithLocks(locks *mutx.DeviceLocks) Option {
	return func(r *Resolver) {
		if locks != nil {
			r.Locks = locks
		}
	}
}

func NewResolver(executor exec.Executor, opts ...Option) *Resolver {
	r := &Resolver{
		Executor:  executor,
		SysfsRoot: DefaultSysfsRoot,
		Realpath:  filepath.EvalSymlinks,
		Locks:     mutx.NewDeviceLocks(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Resolver) ListAllDevices(ctx context.Context) ([]*types.BlockDevice, error) {
	result, err := r.Executor.ExecuteCommand(ctx, types.LsblkCmd, lsblkArgs...)
	if err != nil {
		return nil, &types.TopologyError{Op: "list devices", Err: err}
	}
	devices, err := parseLsblk(result.Stdout)
	if err != nil {
		return nil, &types.TopologyError{Op: "list devices", Err: err}
	}
	return devices, nil
}

func (r *Resolver) DescribeDevice(ctx context.Context, path string) (*types.BlockDevice, error) {
	devicePath, err := r.Canonicalize(path)
	if err != nil {
		return nil, &types.TopologyError{Op: "describe", Device: path, Err: err}
	}
	result, err := r.Executor.ExecuteCommand(ctx, types.LsblkCmd, append(lsblkArgs, devicePath)...)
	if err != nil {
		return nil, &types.TopologyError{Op: "describe", Device: devicePath, Err: err}
	}
	devices, err := parseLsblk(result.Stdout)
	if err != nil {
		return nil, &types.TopologyError{Op: "describe", Device: devicePath, Err: err}
	}
	if len(devices) == 0 {
		return nil, &types.ResolutionError{Device: devicePath, Reason: "lsblk reported no device"}
	}
	return devices[0], nil
}

// Canonicalize makes path absolute and resolves every symlink in it, so that
// /dev/disk/by-id/... and /dev/mapper/... aliases compare equal to the kernel node.
func (r *Resolver) Canonicalize(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return r.Realpath(abs)
}

// IsBlockDevice reports whether path names one of the block devices lsblk
// enumerates. Network filesystem sources (host:/export, //server/share) are
// rejected without running anything.
func (r *Resolver) IsBlockDevice(ctx context.Context, path string) (bool, error) {
	if !strings.HasPrefix(path, "/") || strings.HasPrefix(path, "//") {
		return false, nil
	}
	devicePath, err := r.Canonicalize(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, &types.TopologyError{Op: "canonicalize", Device: path, Err: err}
	}

	devices, err := r.ListAllDevices(ctx)
	if err != nil {
		return false, err
	}
	for _, d := range Flatten(devices) {
		p, err := r.Canonicalize(d.Path)
		if err != nil {
			log.Debugf("skip device %s: %s", d.Path, err.Error())
			continue
		}
		if p == devicePath {
			return true, nil
		}
	}
	return false, nil
}

func (r *Resolver) IsDeviceMapperDevice(ctx context.Context, path string) (bool, error) {
	ok, err := r.IsBlockDevice(ctx, path)
	if err != nil || !ok {
		return false, err
	}
	devicePath, err := r.Canonicalize(path)
	if err != nil {
		return false, &types.TopologyError{Op: "canonicalize", Device: path, Err: err}
	}
	return isDeviceMapperPath(devicePath), nil
}

func isDeviceMapperPath(devicePath string) bool {
	return strings.Contains(filepath.Base(devicePath), types.DeviceMapperPrefix)
}

func (r *Resolver) ParentChain(ctx context.Context, path string) (*types.BlockDevice, error) {
	device, err := r.DescribeDevice(ctx, path)
	if err != nil {
		return nil, err
	}

	visited := sets.NewString(device.KernelName)
	for depth := 0; device.ParentKernelName != ""; depth++ {
		if depth >= MaxParentDepth {
			return nil, &types.ResolutionError{Device: path, Reason: fmt.Sprintf("parent chain deeper than %d", MaxParentDepth)}
		}
		parent := device.ParentKernelName
		if visited.Has(parent) {
			return nil, &types.ResolutionError{Device: path, Reason: fmt.Sprintf("parent chain loops at %s", parent)}
		}
		device, err = r.DescribeDevice(ctx, filepath.Join(types.DevRoot, parent))
		if err != nil {
			return nil, err
		}
		visited.Insert(device.KernelName)
	}
	return device, nil
}

// HasTransport compares against the transport of the topmost ancestor, a
// partition of an iscsi disk reports no transport of its own.
func (r *Resolver) HasTransport(ctx context.Context, path string, transport string) (bool, error) {
	top, err := r.ParentChain(ctx, path)
	if err != nil {
		return false, err
	}
	return top.Transport == transport, nil
}

func (r *Resolver) IsISCSI(ctx context.Context, path string) (bool, error) {
	return r.HasTransport(ctx, path, types.TransportISCSI)
}

// LargestPartition returns nil when the device has no partitions. Equal
// sizes keep the first one listed.
func (r *Resolver) LargestPartition(ctx context.Context, path string) (*types.BlockDevice, error) {
	device, err := r.DescribeDevice(ctx, path)
	if err != nil {
		return nil, err
	}
	return device.LargestPartition(), nil
}

func (r *Resolver) PartitionCount(ctx context.Context, path string) (int, error) {
	device, err := r.DescribeDevice(ctx, path)
	if err != nil {
		return 0, err
	}
	return len(device.Partitions()), nil
}

func (r *Resolver) IsFormatted(ctx context.Context, path string) (bool, error) {
	device, err := r.DescribeDevice(ctx, path)
	if err != nil {
		return false, err
	}
	return device.Filesystem != "", nil
}

// FilesystemInfo probes the device with blkid, keys are lower cased
// (type, uuid, label, usage ...). A device without any signature yields an
// empty map.
func (r *Resolver) FilesystemInfo(ctx context.Context, path string) (map[string]string, error) {
	result, err := r.Executor.ExecuteCommand(ctx, types.BlkidCmd, "-p", "-o", "export", path)
	if err != nil {
		// blkid exits 2 when no signature was found
		if code, ok := exec.ExitStatus(err); ok && code == 2 {
			return map[string]string{}, nil
		}
		return nil, &types.TopologyError{Op: "probe filesystem", Device: path, Err: err}
	}
	return parseBlkidExport(result.Stdout), nil
}

// Rescan asks the kernel to re-read the device size. Multipath maps are
// reloaded through multipathd, scsi disks through their sysfs rescan file.
func (r *Resolver) Rescan(ctx context.Context, path string) error {
	ok, err := r.IsBlockDevice(ctx, path)
	if err != nil {
		return err
	}
	if !ok {
		return &types.ResolutionError{Device: path, Reason: "not a block device"}
	}
	devicePath, err := r.Canonicalize(path)
	if err != nil {
		return &types.TopologyError{Op: "canonicalize", Device: path, Err: err}
	}

	err = r.Locks.With(devicePath, func() error {
		return r.rescan(ctx, devicePath)
	})
	if errors.Is(err, mutx.ErrDeviceBusy) {
		log.Warnf("%s is busy, rescan not started", devicePath)
	}
	return err
}

func (r *Resolver) rescan(ctx context.Context, devicePath string) error {
	if isDeviceMapperPath(devicePath) {
		if _, err := r.Executor.ExecuteCommand(ctx, types.MultipathCmd, "-r", devicePath); err != nil {
			return &types.TopologyError{Op: "rescan", Device: devicePath, Err: err}
		}
		return nil
	}

	rescanFile := filepath.Join(r.SysfsRoot, "block", filepath.Base(devicePath), "device", "rescan")
	if !utils.FileExists(rescanFile) {
		log.Debugf("%s does not exist, skip rescan of %s", rescanFile, devicePath)
		return nil
	}
	log.Infof("executing filesystem command: echo 1 > %s", rescanFile)
	if err := os.WriteFile(rescanFile, []byte("1"), 0200); err != nil {
		return &types.TopologyError{Op: "rescan", Device: devicePath, Err: err}
	}
	return nil
}

// IsDeviceNode reports whether path exists and is a block special file.
func IsDeviceNode(path string) bool {
	var st unix.Stat_t
	for {
		err := unix.Stat(path, &st)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return false
		}
		break
	}
	return st.Mode&unix.S_IFMT == unix.S_IFBLK
}
