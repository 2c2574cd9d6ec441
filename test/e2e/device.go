package e2e

import (
	"context"
	"errors"

	"github.com/carina-io/blockmgr/pkg/devicemanager/filesystem"
	"github.com/carina-io/blockmgr/pkg/devicemanager/types"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func loopTopology() {
	ctx := context.Background()

	It("is a block device", func() {
		ok, err := dm.DiskManager.IsBlockDevice(ctx, loopDevice)
		Expect(err).ShouldNot(HaveOccurred())
		Expect(ok).Should(BeTrue())
	})

	It("is its own root", func() {
		top, err := dm.DiskManager.ParentChain(ctx, loopDevice)
		Expect(err).ShouldNot(HaveOccurred())
		Expect(top.Path).Should(Equal(loopDevice))
		Expect(top.Type).Should(Equal(types.LoopType))
	})

	It("is neither device mapper nor a slave", func() {
		isDM, err := dm.DiskManager.IsDeviceMapperDevice(ctx, loopDevice)
		Expect(err).ShouldNot(HaveOccurred())
		Expect(isDM).Should(BeFalse())

		isSlave, err := dm.Mapper.IsSlaveDevice(ctx, loopDevice)
		Expect(err).ShouldNot(HaveOccurred())
		Expect(isSlave).Should(BeFalse())
	})

	It("has no filesystem yet", func() {
		info, err := dm.DiskManager.FilesystemInfo(ctx, loopDevice)
		Expect(err).ShouldNot(HaveOccurred())
		Expect(info).Should(BeEmpty())
	})
}

func partitionAndFormat() {
	ctx := context.Background()
	var partition *types.BlockDevice

	It("partitions the device", func() {
		Expect(dm.Partition.PartitionDevice(ctx, loopDevice, "", "")).Should(Succeed())
		var err error
		partition, err = dm.Partition.WaitForPartition(ctx, loopDevice)
		Expect(err).ShouldNot(HaveOccurred())
		Expect(partition).ShouldNot(BeNil())

		count, err := dm.DiskManager.PartitionCount(ctx, loopDevice)
		Expect(err).ShouldNot(HaveOccurred())
		Expect(count).Should(Equal(1))
	})

	It("formats the partition and probes it back", func() {
		Expect(partition).ShouldNot(BeNil())
		_, err := dm.FsManager.SafeFormat(ctx, partition.Path, "ext4")
		Expect(err).ShouldNot(HaveOccurred())

		Eventually(func() string {
			info, err := dm.DiskManager.FilesystemInfo(ctx, partition.Path)
			if err != nil {
				return ""
			}
			return info["type"]
		}).Should(Equal("ext4"))

		top, err := dm.DiskManager.ParentChain(ctx, partition.Path)
		Expect(err).ShouldNot(HaveOccurred())
		Expect(top.Path).Should(Equal(loopDevice))
	})

	It("refuses to format twice", func() {
		_, err := dm.FsManager.SafeFormat(ctx, partition.Path, "xfs")
		Expect(errors.Is(err, filesystem.ErrFilesystemExists)).Should(BeTrue())
	})

	It("checks and expands the filesystem", func() {
		_, err := dm.FsManager.Check(ctx, partition.Path, "ext4", nil, nil)
		Expect(err).ShouldNot(HaveOccurred())
		_, err = dm.FsManager.Expand(ctx, partition.Path, "ext4")
		Expect(err).ShouldNot(HaveOccurred())
	})

	It("wipes the device", func() {
		Expect(dm.Partition.Wipe(ctx, loopDevice)).Should(Succeed())
		Eventually(func() int {
			count, _ := dm.DiskManager.PartitionCount(ctx, loopDevice)
			return count
		}).Should(Equal(0))
	})
}
