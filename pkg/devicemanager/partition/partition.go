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

package partition

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/anuvu/disko"
	"github.com/anuvu/disko/linux"
	"github.com/carina-io/blockmgr/pkg/devicemanager/device"
	"github.com/carina-io/blockmgr/pkg/devicemanager/types"
	"github.com/carina-io/blockmgr/utils/exec"
	"github.com/carina-io/blockmgr/utils/log"
	"github.com/carina-io/blockmgr/utils/mutx"
	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultLabel = "gpt"
	// LinuxFilesystemGUID is the GPT type of a plain linux data partition
	LinuxFilesystemGUID = "0FC63DAF-8483-4772-8E79-3D69D8477DE4"
)

var (
	errNoPartition = errors.New("no partition listed yet")
	isDeviceNode   = device.IsDeviceNode
)

type LocalPartition interface {
	PartitionDevice(ctx context.Context, device, label, typeGUID string) error
	WaitForPartition(ctx context.Context, device string) (*types.BlockDevice, error)
	Wipe(ctx context.Context, device string) error
	UdevSettle(ctx context.Context) error
}

type LocalPartitionImplement struct {
	Executor exec.Executor
	Resolver device.LocalDevice
	Mutex    *mutx.DeviceLocks
	// System scans and wipes partition tables, linux.System() unless replaced
	System disko.System
	// NewBackOff paces WaitForPartition
	NewBackOff func() backoff.BackOff
}

var _ LocalPartition = &LocalPartitionImplement{}

func NewLocalPartitionImplement(executor exec.Executor, resolver device.LocalDevice, mutex *mutx.DeviceLocks) *LocalPartitionImplement {
	if mutex == nil {
		mutex = mutx.NewDeviceLocks()
	}
	return &LocalPartitionImplement{
		Executor:   executor,
		Resolver:   resolver,
		Mutex:      mutex,
		System:     linux.System(),
		NewBackOff: defaultBackOff,
	}
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = 30 * time.Second
	return b
}

// PartitionDevice writes a fresh partition table and one partition spanning
// the whole device. Empty label and typeGUID mean gpt and a linux data partition.
func (ld *LocalPartitionImplement) PartitionDevice(ctx context.Context, device, label, typeGUID string) error {
	if label == "" {
		label = DefaultLabel
	}
	if typeGUID == "" {
		typeGUID = LinuxFilesystemGUID
	}
	devicePath, err := ld.Resolver.Canonicalize(device)
	if err != nil {
		return &types.TopologyError{Op: "canonicalize", Device: device, Err: err}
	}

	return ld.Mutex.With(devicePath, func() error {
		if _, err := ld.Executor.ExecuteCommandWithInput(ctx, fmt.Sprintf("label: %s\n", label), types.SfdiskCmd, devicePath); err != nil {
			log.Errorf("create %s partition table on %s failed: %s", label, devicePath, err.Error())
			return err
		}
		if _, err := ld.Executor.ExecuteCommandWithInput(ctx, fmt.Sprintf("type=%s\n", typeGUID), types.SfdiskCmd, devicePath); err != nil {
			log.Errorf("create partition on %s failed: %s", devicePath, err.Error())
			return err
		}
		log.Infof("partitioned %s with a %s label", devicePath, label)
		return nil
	})
}

// WaitForPartition settles udev and polls until lsblk lists a partition of
// device, returning the largest one.
func (ld *LocalPartitionImplement) WaitForPartition(ctx context.Context, device string) (*types.BlockDevice, error) {
	if err := ld.UdevSettle(ctx); err != nil {
		return nil, err
	}

	var part *types.BlockDevice
	operation := func() error {
		p, err := ld.Resolver.LargestPartition(ctx, device)
		if err != nil {
			if types.IsResolutionError(err) || types.IsParseError(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		if p == nil {
			log.Debugf("%s has no partition yet", device)
			return errNoPartition
		}
		part = p
		return nil
	}
	if err := backoff.Retry(operation, backoff.WithContext(ld.NewBackOff(), ctx)); err != nil {
		if errors.Is(err, errNoPartition) {
			return nil, &types.ResolutionError{Device: device, Reason: "partition did not appear"}
		}
		return nil, err
	}
	return part, nil
}

// Wipe clears every partition table signature on the disk.
func (ld *LocalPartitionImplement) Wipe(ctx context.Context, path string) error {
	devicePath, err := ld.Resolver.Canonicalize(path)
	if err != nil {
		return &types.TopologyError{Op: "canonicalize", Device: path, Err: err}
	}
	if !isDeviceNode(devicePath) {
		return &types.ResolutionError{Device: devicePath, Reason: "not a block device node"}
	}

	err = ld.Mutex.With(devicePath, func() error {
		disk, err := ld.System.ScanDisk(devicePath)
		if err != nil {
			log.Error("scanDisk path ", devicePath, " failed "+err.Error())
			return err
		}
		if err := ld.System.Wipe(disk); err != nil {
			log.Errorf("wipe %s failed: %s", devicePath, err.Error())
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}
	return ld.UdevSettle(ctx)
}

func (ld *LocalPartitionImplement) UdevSettle(ctx context.Context) error {
	_, err := ld.Executor.ExecuteCommand(ctx, types.UdevadmCmd, "settle")
	return err
}
