package run

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/carina-io/blockmgr/pkg/configuration"
	deviceManager "github.com/carina-io/blockmgr/pkg/devicemanager"
	"github.com/carina-io/blockmgr/pkg/devicemanager/device"
	"github.com/carina-io/blockmgr/pkg/devicemanager/types"
	"github.com/carina-io/blockmgr/pkg/metrics"
	testingexec "github.com/carina-io/blockmgr/utils/exec/testing"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const devices = `{"blockdevices": [
   {"name": "sdb", "kname": "sdb", "path": "/dev/sdb", "size": 4096, "type": "disk", "tran": "iscsi"},
   {"name": "sdc", "kname": "sdc", "path": "/dev/sdc", "size": 4096, "type": "disk", "tran": "iscsi"}
]}`

const sdb = `{"blockdevices": [
   {"name": "sdb", "kname": "sdb", "path": "/dev/sdb", "size": 4096, "type": "disk", "tran": "iscsi"}
]}`

func identity(path string) (string, error) {
	return path, nil
}

func newTestServer(t *testing.T, fake *testingexec.FakeExecutor) (*eHttpServer, *deviceManager.DeviceManager) {
	cfg := configuration.Default()
	cfg.SysfsRoot = t.TempDir()
	dir := filepath.Join(cfg.SysfsRoot, "block", "dm-0", "slaves")
	require.NoError(t, os.MkdirAll(dir, 0755))
	for _, slave := range []string{"sdb", "sdc"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, slave), nil, 0644))
	}

	reg := prometheus.NewRegistry()
	dm := deviceManager.NewDeviceManagerWithExecutor(cfg, metrics.NewInstrumentedExecutor(fake, reg))
	dm.DiskManager.(*device.Resolver).Realpath = identity
	return newHttpServer(dm, reg), dm
}

func get(h *eHttpServer, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestDeviceList(t *testing.T) {
	h, _ := newTestServer(t, testingexec.New().OnStdout("lsblk -a -b -J -O", devices))

	rec := get(h, "/devices")
	require.Equal(t, http.StatusOK, rec.Code)
	var got []*types.BlockDevice
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "/dev/sdc", got[1].Path)
}

func TestDeviceDescribe(t *testing.T) {
	fake := testingexec.New().
		OnStdout("lsblk -a -b -J -O /dev/sdb", sdb).
		OnStdout("blkid -p -o export /dev/sdb", "TYPE=mpath_member\n").
		On("lsblk -a -b -J -O /dev/sdz", testingexec.FakeResponse{Code: 32})
	h, _ := newTestServer(t, fake)

	rec := get(h, "/devices/describe?path=/dev/sdb")
	require.Equal(t, http.StatusOK, rec.Code)
	var report deviceManager.DeviceReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, "sdb", report.Root.KernelName)
	assert.Equal(t, "mpath_member", report.Filesystem["type"])

	assert.Equal(t, http.StatusBadRequest, get(h, "/devices/describe").Code)
	assert.Equal(t, http.StatusInternalServerError, get(h, "/devices/describe?path=/dev/sdz").Code)
}

func TestMapper(t *testing.T) {
	fake := testingexec.New().
		OnStdout("lsblk -a -b -J -O /dev/dm-0", `{"blockdevices": [{"kname": "dm-0", "path": "/dev/dm-0", "type": "mpath"}]}`).
		OnStdout("lsblk -a -b -J -O /dev/dm-1", `{"blockdevices": [{"kname": "dm-1", "path": "/dev/dm-1", "type": "dm"}]}`)
	h, _ := newTestServer(t, fake)

	rec := get(h, "/mapper")
	require.Equal(t, http.StatusOK, rec.Code)
	var mappings []types.Mapping
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &mappings))
	assert.Equal(t, []types.Mapping{{Device: "/dev/dm-0", Slaves: []string{"/dev/sdb", "/dev/sdc"}}}, mappings)

	rec = get(h, "/mapper/slaves?device=/dev/dm-0")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `["/dev/sdb", "/dev/sdc"]`, rec.Body.String())

	assert.Equal(t, http.StatusBadRequest, get(h, "/mapper/slaves").Code)
	assert.Equal(t, http.StatusNotFound, get(h, "/mapper/slaves?device=/dev/dm-1").Code)
}

func TestMetrics(t *testing.T) {
	h, _ := newTestServer(t, testingexec.New().OnStdout("lsblk -a -b -J -O", devices))
	require.Equal(t, http.StatusOK, get(h, "/devices").Code)

	rec := get(h, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `blockmgr_command_executions_total{`))
}
