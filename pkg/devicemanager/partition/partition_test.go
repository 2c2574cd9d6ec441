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
	"testing"

	"github.com/anuvu/disko"
	"github.com/carina-io/blockmgr/pkg/devicemanager/device"
	"github.com/carina-io/blockmgr/pkg/devicemanager/types"
	testingexec "github.com/carina-io/blockmgr/utils/exec/testing"
	"github.com/carina-io/blockmgr/utils/mutx"
	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	unpartitioned = `{"blockdevices": [{"kname": "sdb", "path": "/dev/sdb", "size": 1073741824, "type": "disk"}]}`
	partitioned   = `{"blockdevices": [{"kname": "sdb", "path": "/dev/sdb", "size": 1073741824, "type": "disk",
		"children": [{"kname": "sdb1", "path": "/dev/sdb1", "size": 1072693248, "type": "part"}]}]}`
)

// fakeSystem overrides the disko calls Wipe uses, anything else panics.
type fakeSystem struct {
	disko.System
	scanned []string
	wiped   []string
	scanErr error
}

func (f *fakeSystem) ScanDisk(path string) (disko.Disk, error) {
	f.scanned = append(f.scanned, path)
	if f.scanErr != nil {
		return disko.Disk{}, f.scanErr
	}
	return disko.Disk{Name: "sdb", Path: path}, nil
}

func (f *fakeSystem) Wipe(d disko.Disk) error {
	f.wiped = append(f.wiped, d.Path)
	return nil
}

func identity(path string) (string, error) {
	return path, nil
}

func newTestPartitioner(fake *testingexec.FakeExecutor) *LocalPartitionImplement {
	resolver := device.NewResolver(fake, device.WithRealpath(identity))
	ld := NewLocalPartitionImplement(fake, resolver, nil)
	ld.System = &fakeSystem{}
	ld.NewBackOff = func() backoff.BackOff {
		return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 3)
	}
	return ld
}

func TestPartitionDevice(t *testing.T) {
	fake := testingexec.New().OnStdout("sfdisk /dev/sdb", "")
	ld := newTestPartitioner(fake)

	require.NoError(t, ld.PartitionDevice(context.Background(), "/dev/sdb", "", ""))

	calls := fake.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "sfdisk /dev/sdb", calls[0].Line())
	assert.Equal(t, "label: gpt\n", calls[0].Input)
	assert.Equal(t, "type=0FC63DAF-8483-4772-8E79-3D69D8477DE4\n", calls[1].Input)
}

func TestPartitionDeviceCustomLabel(t *testing.T) {
	fake := testingexec.New().OnStdout("sfdisk /dev/sdc", "")
	ld := newTestPartitioner(fake)

	require.NoError(t, ld.PartitionDevice(context.Background(), "/dev/sdc", "dos", "83"))

	calls := fake.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "label: dos\n", calls[0].Input)
	assert.Equal(t, "type=83\n", calls[1].Input)
}

func TestPartitionDeviceStopsOnFailure(t *testing.T) {
	fake := testingexec.New().On("sfdisk /dev/sdb", testingexec.FakeResponse{
		Code:   1,
		Stderr: "sfdisk: cannot open /dev/sdb: Permission denied",
	})
	ld := newTestPartitioner(fake)

	err := ld.PartitionDevice(context.Background(), "/dev/sdb", "", "")
	require.Error(t, err)
	assert.Len(t, fake.Calls(), 1)
	assert.Empty(t, ld.Mutex.Held())
}

func TestPartitionDeviceBusy(t *testing.T) {
	fake := testingexec.New()
	locks := mutx.NewDeviceLocks()
	ld := newTestPartitioner(fake)
	ld.Mutex = locks

	require.True(t, locks.TryAcquire("/dev/sdb"))
	err := ld.PartitionDevice(context.Background(), "/dev/sdb", "", "")
	assert.ErrorIs(t, err, mutx.ErrDeviceBusy)
	assert.Empty(t, fake.Calls())
}

func TestWaitForPartition(t *testing.T) {
	fake := testingexec.New().
		OnStdout("udevadm settle", "").
		OnStdout("lsblk -a -b -J -O /dev/sdb", unpartitioned).
		OnStdout("lsblk -a -b -J -O /dev/sdb", partitioned)
	ld := newTestPartitioner(fake)

	part, err := ld.WaitForPartition(context.Background(), "/dev/sdb")
	require.NoError(t, err)
	assert.Equal(t, "/dev/sdb1", part.Path)
	assert.Equal(t, []string{
		"udevadm settle",
		"lsblk -a -b -J -O /dev/sdb",
		"lsblk -a -b -J -O /dev/sdb",
	}, fake.CallLines())
}

func TestWaitForPartitionGivesUp(t *testing.T) {
	fake := testingexec.New().
		OnStdout("udevadm settle", "").
		OnStdout("lsblk -a -b -J -O /dev/sdb", unpartitioned)
	ld := newTestPartitioner(fake)

	_, err := ld.WaitForPartition(context.Background(), "/dev/sdb")
	assert.True(t, types.IsResolutionError(err), "got %v", err)
	assert.Len(t, fake.Calls(), 5)
}

func TestWaitForPartitionPermanentError(t *testing.T) {
	fake := testingexec.New().
		OnStdout("udevadm settle", "").
		OnStdout("lsblk -a -b -J -O /dev/sdb", "not json")
	ld := newTestPartitioner(fake)

	_, err := ld.WaitForPartition(context.Background(), "/dev/sdb")
	assert.True(t, types.IsParseError(err))
	assert.Len(t, fake.Calls(), 2)
}

func TestWipe(t *testing.T) {
	defer func(f func(string) bool) { isDeviceNode = f }(isDeviceNode)
	isDeviceNode = func(string) bool { return true }

	fake := testingexec.New().OnStdout("udevadm settle", "")
	ld := newTestPartitioner(fake)
	sys := ld.System.(*fakeSystem)

	require.NoError(t, ld.Wipe(context.Background(), "/dev/sdb"))
	assert.Equal(t, []string{"/dev/sdb"}, sys.wiped)
	assert.Equal(t, []string{"udevadm settle"}, fake.CallLines())
}

func TestWipeScanFailure(t *testing.T) {
	defer func(f func(string) bool) { isDeviceNode = f }(isDeviceNode)
	isDeviceNode = func(string) bool { return true }

	fake := testingexec.New()
	ld := newTestPartitioner(fake)
	sys := ld.System.(*fakeSystem)
	sys.scanErr = errors.New("no such disk")

	assert.EqualError(t, ld.Wipe(context.Background(), "/dev/sdb"), "no such disk")
	assert.Empty(t, sys.wiped)
	assert.Empty(t, fake.Calls())
}

func TestWipeRejectsNonDevice(t *testing.T) {
	fake := testingexec.New()
	ld := newTestPartitioner(fake)

	err := ld.Wipe(context.Background(), t.TempDir())
	assert.True(t, types.IsResolutionError(err))
	assert.Empty(t, ld.System.(*fakeSystem).scanned)
}
