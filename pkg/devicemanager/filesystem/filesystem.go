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

package filesystem

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/carina-io/blockmgr/pkg/devicemanager/device"
	"github.com/carina-io/blockmgr/utils/exec"
	"github.com/carina-io/blockmgr/utils/log"
	"github.com/carina-io/blockmgr/utils/mutx"
)

const (
	OpFormat = "format"
	OpCheck  = "check"
	OpExpand = "expand"

	cmdFsck = "fsck"
)

// ErrFilesystemExists is returned by SafeFormat when the device already carries a signature.
var ErrFilesystemExists = errors.New("filesystem exists")

// UnsupportedOperationError means no handler is known for the filesystem and operation.
type UnsupportedOperationError struct {
	Filesystem string
	Operation  string
}

func (e *UnsupportedOperationError) Error() string {
	return fmt.Sprintf("%s is not supported for filesystem %q", e.Operation, e.Filesystem)
}

func IsUnsupportedOperation(err error) bool {
	var unsupported *UnsupportedOperationError
	return errors.As(err, &unsupported)
}

// Filesystem builds the command lines of one filesystem family.
type Filesystem interface {
	Format(device string, options []string) (string, []string)
	Check(device string, options, fsOptions []string) (string, []string)
	// Expand returns an empty command when growing needs no command at all
	Expand(target string, options []string) (string, []string)
}

// fsTypeMap is filled by the init of every family, keyed by lower case type.
var fsTypeMap = map[string]func(fsType string) Filesystem{}

func lookup(fsType string) (Filesystem, bool) {
	fsType = strings.ToLower(fsType)
	newFs, ok := fsTypeMap[fsType]
	if !ok {
		return nil, false
	}
	return newFs(fsType), true
}

// SupportedTypes lists the filesystem types with known recipes.
func SupportedTypes() []string {
	types := make([]string, 0, len(fsTypeMap))
	for t := range fsTypeMap {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// genericCheck is fsck [options] <device> -- [fs-options]
func genericCheck(device string, options, fsOptions []string) (string, []string) {
	args := append([]string{}, options...)
	args = append(args, device, "--")
	args = append(args, fsOptions...)
	return cmdFsck, args
}

type FilesystemManager interface {
	Format(ctx context.Context, device, fsType string, options ...string) (*exec.Result, error)
	SafeFormat(ctx context.Context, device, fsType string, options ...string) (*exec.Result, error)
	Check(ctx context.Context, device, fsType string, options, fsOptions []string) (*exec.Result, error)
	Expand(ctx context.Context, target, fsType string, options ...string) (*exec.Result, error)
}

// Manager runs the filesystem recipes. Mutations of one device are
// serialized, a second caller gets mutx.ErrDeviceBusy instead of waiting.
type Manager struct {
	Executor exec.Executor
	Resolver device.LocalDevice
	Locks    *mutx.DeviceLocks
}

var _ FilesystemManager = &Manager{}

func NewManager(executor exec.Executor, resolver device.LocalDevice, locks *mutx.DeviceLocks) *Manager {
	if locks == nil {
		locks = mutx.NewDeviceLocks()
	}
	return &Manager{Executor: executor, Resolver: resolver, Locks: locks}
}

func (m *Manager) Format(ctx context.Context, device, fsType string, options ...string) (*exec.Result, error) {
	fs, ok := lookup(fsType)
	if !ok {
		return nil, &UnsupportedOperationError{Filesystem: fsType, Operation: OpFormat}
	}
	command, args := fs.Format(device, options)
	return m.run(ctx, device, command, args)
}

// SafeFormat formats only a device on which blkid finds no signature.
func (m *Manager) SafeFormat(ctx context.Context, device, fsType string, options ...string) (*exec.Result, error) {
	if _, ok := lookup(fsType); !ok {
		return nil, &UnsupportedOperationError{Filesystem: fsType, Operation: OpFormat}
	}
	info, err := m.Resolver.FilesystemInfo(ctx, device)
	if err != nil {
		return nil, err
	}
	if existing := info["type"]; existing != "" {
		log.Warnf("%s already has a %s filesystem, refuse to format as %s", device, existing, fsType)
		return nil, ErrFilesystemExists
	}
	return m.Format(ctx, device, fsType, options...)
}

// Check falls back to a plain fsck for types without a dedicated checker.
func (m *Manager) Check(ctx context.Context, device, fsType string, options, fsOptions []string) (*exec.Result, error) {
	var command string
	var args []string
	if fs, ok := lookup(fsType); ok {
		command, args = fs.Check(device, options, fsOptions)
	} else {
		command, args = genericCheck(device, options, fsOptions)
	}
	return m.run(ctx, device, command, args)
}

// Expand grows the filesystem to the size of its device. btrfs and xfs
// expect the mount path as target, the others the device. A nil result
// means there was nothing to run.
func (m *Manager) Expand(ctx context.Context, target, fsType string, options ...string) (*exec.Result, error) {
	fs, ok := lookup(fsType)
	if !ok {
		return nil, &UnsupportedOperationError{Filesystem: fsType, Operation: OpExpand}
	}
	command, args := fs.Expand(target, options)
	if command == "" {
		log.Infof("%s filesystem on %s cannot be expanded online, skip", fsType, target)
		return nil, nil
	}
	return m.run(ctx, target, command, args)
}

func (m *Manager) run(ctx context.Context, target, command string, args []string) (*exec.Result, error) {
	key := target
	if m.Resolver != nil {
		if p, err := m.Resolver.Canonicalize(target); err == nil {
			key = p
		}
	}

	var result *exec.Result
	err := m.Locks.With(key, func() error {
		var err error
		result, err = m.Executor.ExecuteCommand(ctx, command, args...)
		return err
	})
	if errors.Is(err, mutx.ErrDeviceBusy) {
		log.Warnf("%s is busy, %s not started", key, command)
	}
	return result, err
}
