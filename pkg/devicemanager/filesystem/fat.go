package filesystem

const (
	cmdMkfsVfat  = "mkfs.vfat"
	cmdMkfsExfat = "mkfs.exfat"
	cmdFatresize = "fatresize"
)

type vfat struct{}

type exfat struct{}

func init() {
	fsTypeMap["vfat"] = func(string) Filesystem {
		return vfat{}
	}
	fsTypeMap["exfat"] = func(string) Filesystem {
		return exfat{}
	}
}

// Format passes -I, mkfs.vfat otherwise refuses whole disks.
func (fs vfat) Format(device string, options []string) (string, []string) {
	args := append([]string{}, options...)
	return cmdMkfsVfat, append(args, "-I", device)
}

func (fs vfat) Check(device string, options, fsOptions []string) (string, []string) {
	return genericCheck(device, options, fsOptions)
}

// Expand needs the volume unmounted.
func (fs vfat) Expand(target string, options []string) (string, []string) {
	args := append([]string{}, options...)
	return cmdFatresize, append(args, "-s", "max", target)
}

func (fs exfat) Format(device string, options []string) (string, []string) {
	return cmdMkfsExfat, append(append([]string{}, options...), device)
}

func (fs exfat) Check(device string, options, fsOptions []string) (string, []string) {
	return genericCheck(device, options, fsOptions)
}

// Expand is a no-op, exfatprogs has no resize tool.
func (fs exfat) Expand(string, []string) (string, []string) {
	return "", nil
}
