package e2e

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/carina-io/blockmgr/pkg/configuration"
	deviceManager "github.com/carina-io/blockmgr/pkg/devicemanager"
	"github.com/carina-io/blockmgr/utils/exec"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

const loopSize = 128 << 20

var (
	dm          *deviceManager.DeviceManager
	backingFile string
	loopDevice  string
)

func setupManager() {
	dm = deviceManager.NewDeviceManager(configuration.Default(), nil)
}

func attachLoopDevice() {
	dir, err := os.MkdirTemp("", "blockmgr-e2e")
	Expect(err).ShouldNot(HaveOccurred())
	backingFile = filepath.Join(dir, "disk.img")
	f, err := os.Create(backingFile)
	Expect(err).ShouldNot(HaveOccurred())
	Expect(f.Truncate(loopSize)).Should(Succeed())
	Expect(f.Close()).Should(Succeed())

	result, err := dm.Executor.ExecuteCommand(context.Background(), "losetup", "--find", "--show", "--partscan", backingFile)
	Expect(err).ShouldNot(HaveOccurred())
	loopDevice = strings.TrimSpace(result.Stdout)
	Expect(loopDevice).Should(HavePrefix("/dev/loop"))
}

func detachLoopDevice() {
	if loopDevice != "" {
		_, err := dm.Executor.ExecuteCommand(context.Background(), "losetup", "--detach", loopDevice)
		if exec.IsExecutionError(err) {
			GinkgoWriter.Write([]byte(err.Error() + "\n"))
		}
	}
	if backingFile != "" {
		_ = os.RemoveAll(filepath.Dir(backingFile))
	}
}
