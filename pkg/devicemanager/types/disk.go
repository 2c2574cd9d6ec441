package types

// BlockDevice is one node of the device tree reported by lsblk. Trees are
// built fresh on every query and never cached.
type BlockDevice struct {
	// Path is the device node as reported, e.g. /dev/sdb1
	Path string `json:"path"`
	// Name is the lsblk display name, for dm devices the mapper name
	Name string `json:"name"`
	// KernelName e.g. sdb1, dm-0
	KernelName string `json:"kernelName"`
	// ParentKernelName is empty for root devices
	ParentKernelName string `json:"parentKernelName"`
	// Filesystem is the filesystem currently on the device, empty if none
	Filesystem string `json:"filesystem"`
	// Size is the device capacity in byte
	Size uint64 `json:"size"`
	// Type is disk, part, lvm, mpath, dm, loop, rom ...
	Type string `json:"type"`
	// Transport e.g. iscsi, sata, nvme; empty for virtual or local devices
	Transport  string `json:"transport"`
	MountPoint string `json:"mountPoint"`
	Label      string `json:"label"`
	UUID       string `json:"uuid"`
	Serial     string `json:"serial"`
	Model      string `json:"model"`
	Readonly   bool   `json:"readOnly"`
	// 1 for hdd, 0 for ssd and nvme
	Rotational bool           `json:"rotational"`
	Children   []*BlockDevice `json:"children,omitempty"`
}

// IsPartition reports whether the device is a partition.
func (b *BlockDevice) IsPartition() bool {
	return b.Type == PartType
}

// Partitions returns the direct children that are partitions, in listing order.
func (b *BlockDevice) Partitions() []*BlockDevice {
	var parts []*BlockDevice
	for _, c := range b.Children {
		if c.IsPartition() {
			parts = append(parts, c)
		}
	}
	return parts
}

// LargestPartition returns the biggest direct partition, nil without any.
// Equal sizes keep the first one listed.
func (b *BlockDevice) LargestPartition() *BlockDevice {
	var largest *BlockDevice
	for _, p := range b.Partitions() {
		if largest == nil || p.Size > largest.Size {
			largest = p
		}
	}
	return largest
}

// Mapping relates a device-mapper composite to the real devices it aggregates.
type Mapping struct {
	// Device is the composite, e.g. /dev/dm-0
	Device string `json:"device"`
	// Slaves are device paths, sorted and unique
	Slaves []string `json:"slaves"`
}
