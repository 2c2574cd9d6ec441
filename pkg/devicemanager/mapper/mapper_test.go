package mapper

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/carina-io/blockmgr/pkg/devicemanager/device"
	"github.com/carina-io/blockmgr/pkg/devicemanager/types"
	testingexec "github.com/carina-io/blockmgr/utils/exec/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSysfs lays out <root>/block/<dev>/slaves/<slave> and returns the root.
func fakeSysfs(t *testing.T, layout map[string][]string) string {
	root := t.TempDir()
	for dev, slaves := range layout {
		dir := filepath.Join(root, "block", dev, "slaves")
		require.NoError(t, os.MkdirAll(dir, 0755))
		for _, slave := range slaves {
			require.NoError(t, os.WriteFile(filepath.Join(dir, slave), nil, 0644))
		}
	}
	return root
}

var hostLayout = map[string][]string{
	"sda":  nil,
	"sdb":  nil,
	"sdc":  nil,
	"sdd":  nil,
	"dm-0": {"sdc", "sdb"},
	"dm-1": {"sdd"},
	"dm-2": nil,
}

// aliasRealpath resolves through aliases, an empty target is a dangling link.
func aliasRealpath(aliases map[string]string) func(string) (string, error) {
	return func(path string) (string, error) {
		if target, ok := aliases[path]; ok {
			if target == "" {
				return "", &os.PathError{Op: "lstat", Path: path, Err: os.ErrNotExist}
			}
			return target, nil
		}
		return path, nil
	}
}

func newTestMatcher(t *testing.T, fake *testingexec.FakeExecutor, opts ...Option) *Matcher {
	sysfs := fakeSysfs(t, hostLayout)
	resolver := device.NewResolver(fake, device.WithRealpath(aliasRealpath(map[string]string{
		"/dev/mapper/mpatha":          "/dev/dm-0",
		"/dev/disk/by-path/ip-lun-1":  "/dev/sdb",
		"/dev/disk/by-path/ip-lun-1b": "/dev/sdc",
		"/dev/disk/by-path/ip-lun-9":  "",
	})))
	opts = append([]Option{WithSysfsRoot(sysfs), WithProcfsRoot(t.TempDir())}, opts...)
	return NewMatcher(fake, resolver, opts...)
}

func TestMappingsFromSysfs(t *testing.T) {
	fake := testingexec.New()
	m := newTestMatcher(t, fake)

	mappings, err := m.Mappings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []types.Mapping{
		{Device: "/dev/dm-0", Slaves: []string{"/dev/sdb", "/dev/sdc"}},
		{Device: "/dev/dm-1", Slaves: []string{"/dev/sdd"}},
	}, mappings)
	assert.Empty(t, fake.Calls())

	devices, err := m.AllMapperDevices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"/dev/dm-0", "/dev/dm-1"}, devices)

	slaves, err := m.AllSlaveDevices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"/dev/sdb", "/dev/sdc", "/dev/sdd"}, slaves)
}

func TestMappingsFallsBackToCommand(t *testing.T) {
	fake := testingexec.New()
	m := NewMatcher(fake, device.NewResolver(fake), WithSysfsRoot("/nonexistent/sys"), WithProcfsRoot("/nonexistent/proc"))
	fake.OnStdout("sh -c "+scriptFor("/nonexistent/sys"), "dm-0:sdb sdc\n")

	mappings, err := m.Mappings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []types.Mapping{{Device: "/dev/dm-0", Slaves: []string{"/dev/sdb", "/dev/sdc"}}}, mappings)
	assert.Len(t, fake.Calls(), 1)
}

func scriptFor(sysfs string) string {
	m := &Matcher{SysfsRoot: sysfs}
	return m.script()
}

func TestParseMappings(t *testing.T) {
	tests := []struct {
		name    string
		output  string
		want    []types.Mapping
		wantErr bool
	}{
		{
			name:   "multipath and lvm",
			output: "dm-1:sda2\ndm-0:sdc sdb\n",
			want: []types.Mapping{
				{Device: "/dev/dm-0", Slaves: []string{"/dev/sdb", "/dev/sdc"}},
				{Device: "/dev/dm-1", Slaves: []string{"/dev/sda2"}},
			},
		},
		{
			name:   "empty slave set is skipped",
			output: "dm-2:\ndm-3:sde sde\n",
			want:   []types.Mapping{{Device: "/dev/dm-3", Slaves: []string{"/dev/sde"}}},
		},
		{name: "no output", output: "\n"},
		{name: "missing separator", output: "dm-0 sdb\n", wantErr: true},
		{name: "missing device", output: ":sdb\n", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseMappings(tt.output)
			if tt.wantErr {
				assert.True(t, types.IsParseError(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSlavesOf(t *testing.T) {
	fake := testingexec.New().
		OnStdout("lsblk -a -b -J -O /dev/dm-0", `{"blockdevices": [{"kname": "dm-0", "path": "/dev/dm-0", "type": "mpath"}]}`).
		OnStdout("lsblk -a -b -J -O /dev/dm-2", `{"blockdevices": [{"kname": "dm-2", "path": "/dev/dm-2", "type": "dm"}]}`).
		OnStdout("lsblk -a -b -J -O /dev/sda1", `{"blockdevices": [{"kname": "sda1", "path": "/dev/sda1", "type": "part"}]}`)
	m := newTestMatcher(t, fake)

	slaves, err := m.SlavesOf(context.Background(), "/dev/mapper/mpatha")
	require.NoError(t, err)
	assert.Equal(t, []string{"/dev/sdb", "/dev/sdc"}, slaves)

	_, err = m.SlavesOf(context.Background(), "/dev/dm-2")
	assert.True(t, types.IsResolutionError(err), "empty slave set")

	_, err = m.SlavesOf(context.Background(), "/dev/sda1")
	assert.True(t, types.IsResolutionError(err), "no sysfs entry")
}

func TestSlavesOfCommandMode(t *testing.T) {
	fake := testingexec.New().
		OnStdout("lsblk -a -b -J -O /dev/dm-0", `{"blockdevices": [{"kname": "dm-0", "path": "/dev/dm-0", "type": "mpath"}]}`)
	m := newTestMatcher(t, fake, WithDiscoveryMode(DiscoveryCommand))
	fake.OnStdout("ls "+filepath.Join(m.SysfsRoot, "block", "dm-0", "slaves")+"/", "sdc\nsdb\n")

	slaves, err := m.SlavesOf(context.Background(), "/dev/dm-0")
	require.NoError(t, err)
	assert.Equal(t, []string{"/dev/sdb", "/dev/sdc"}, slaves)
}

func TestFindMapperDeviceForSlaves(t *testing.T) {
	tests := []struct {
		name     string
		slaves   []string
		matchAll bool
		want     string
	}{
		{name: "exact set", slaves: []string{"/dev/sdb", "/dev/sdc"}, matchAll: true, want: "/dev/dm-0"},
		{name: "exact set any order", slaves: []string{"/dev/sdc", "/dev/sdb"}, matchAll: true, want: "/dev/dm-0"},
		{name: "aliases are canonicalized", slaves: []string{"/dev/disk/by-path/ip-lun-1", "/dev/disk/by-path/ip-lun-1b"}, matchAll: true, want: "/dev/dm-0"},
		{name: "duplicates collapse", slaves: []string{"/dev/sdb", "/dev/sdc", "/dev/sdb"}, matchAll: true, want: "/dev/dm-0"},
		{name: "subset strict", slaves: []string{"/dev/sdb"}, matchAll: true, want: ""},
		{name: "superset strict", slaves: []string{"/dev/sdb", "/dev/sdc", "/dev/sdd"}, matchAll: true, want: ""},
		{name: "subset permissive", slaves: []string{"/dev/sdb"}, matchAll: false, want: "/dev/dm-0"},
		{name: "single slave", slaves: []string{"/dev/sdd"}, matchAll: true, want: "/dev/dm-1"},
		{name: "no overlap", slaves: []string{"/dev/sda"}, matchAll: false, want: ""},
		{name: "empty", slaves: nil, matchAll: true, want: ""},
		{name: "stale alias permissive", slaves: []string{"/dev/disk/by-path/ip-lun-9", "/dev/sdb"}, matchAll: false, want: "/dev/dm-0"},
		{name: "only stale alias permissive", slaves: []string{"/dev/disk/by-path/ip-lun-9"}, matchAll: false, want: ""},
		{name: "stale alias strict", slaves: []string{"/dev/sdb", "/dev/sdc", "/dev/disk/by-path/ip-lun-9"}, matchAll: true, want: ""},
		{name: "stale alias strict smaller composite", slaves: []string{"/dev/sdd", "/dev/disk/by-path/ip-lun-9"}, matchAll: true, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestMatcher(t, testingexec.New())
			got, err := m.FindMapperDeviceForSlaves(context.Background(), tt.slaves, tt.matchAll)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFindMapperDeviceForSlavesCanonicalizeFailure(t *testing.T) {
	fake := testingexec.New()
	resolver := device.NewResolver(fake, device.WithRealpath(func(path string) (string, error) {
		return "", &os.PathError{Op: "lstat", Path: path, Err: os.ErrPermission}
	}))
	m := NewMatcher(fake, resolver, WithSysfsRoot(fakeSysfs(t, hostLayout)), WithProcfsRoot(t.TempDir()))

	_, err := m.FindMapperDeviceForSlaves(context.Background(), []string{"/dev/sdb"}, false)
	var topologyErr *types.TopologyError
	assert.ErrorAs(t, err, &topologyErr)
}

func TestSortMappingsByMinor(t *testing.T) {
	mappings := []types.Mapping{
		{Device: "/dev/dm-10"},
		{Device: "/dev/mapper/odd"},
		{Device: "/dev/dm-2"},
		{Device: "/dev/dm-1"},
	}
	sortMappings(mappings)
	var got []string
	for _, m := range mappings {
		got = append(got, m.Device)
	}
	assert.Equal(t, []string{"/dev/dm-1", "/dev/dm-2", "/dev/dm-10", "/dev/mapper/odd"}, got)
}

func TestFindMapperDeviceForSlavesPermissiveOrder(t *testing.T) {
	fake := testingexec.New()
	sysfs := fakeSysfs(t, map[string][]string{
		"sde":   nil,
		"sdf":   nil,
		"dm-10": {"sde"},
		"dm-2":  {"sde", "sdf"},
	})
	resolver := device.NewResolver(fake, device.WithRealpath(aliasRealpath(nil)))
	m := NewMatcher(fake, resolver, WithSysfsRoot(sysfs), WithProcfsRoot(t.TempDir()))

	got, err := m.FindMapperDeviceForSlaves(context.Background(), []string{"/dev/sde"}, false)
	require.NoError(t, err)
	assert.Equal(t, "/dev/dm-2", got)

	got, err = m.FindMapperDeviceForSlaves(context.Background(), []string{"/dev/sde"}, true)
	require.NoError(t, err)
	assert.Equal(t, "/dev/dm-10", got)
}

func TestIsSlaveDevice(t *testing.T) {
	m := newTestMatcher(t, testingexec.New())

	ok, err := m.IsSlaveDevice(context.Background(), "/dev/disk/by-path/ip-lun-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.IsSlaveDevice(context.Background(), "/dev/sda")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIsDeviceMapperDevice(t *testing.T) {
	fake := testingexec.New().OnStdout("lsblk -a -b -J -O", `{"blockdevices": [
		{"kname": "sdb", "path": "/dev/sdb", "type": "disk", "children": [
			{"kname": "dm-0", "path": "/dev/mapper/mpatha", "type": "mpath"}
		]}
	]}`)
	m := newTestMatcher(t, fake)

	ok, err := m.IsDeviceMapperDevice(context.Background(), "/dev/dm-0")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.IsDeviceMapperDevice(context.Background(), "/dev/sdb")
	require.NoError(t, err)
	assert.False(t, ok)
}
