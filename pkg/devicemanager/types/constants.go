package types

const (
	// DiskType is a disk type
	DiskType = "disk"
	// PartType is a partition type
	PartType = "part"
	// CryptType is an encrypted type
	CryptType = "crypt"
	// LVMType is an LVM type
	LVMType = "lvm"
	// MultiPath is for multipath devices
	MultiPath = "mpath"
	// DMType is reported by lsblk for plain device-mapper targets
	DMType   = "dm"
	LoopType = "loop"

	// DeviceMapperPrefix is the kernel name prefix of device-mapper devices
	DeviceMapperPrefix = "dm-"
	// TransportISCSI is the lsblk TRAN value of iscsi attached disks
	TransportISCSI = "iscsi"

	DevRoot = "/dev"

	LsblkCmd     = "lsblk"
	BlkidCmd     = "blkid"
	SfdiskCmd    = "sfdisk"
	UdevadmCmd   = "udevadm"
	MultipathCmd = "multipath"
)
