package filesystem

const (
	cmdMkfsXfs   = "mkfs.xfs"
	cmdXfsRepair = "xfs_repair"
	cmdXfsGrowfs = "xfs_growfs"
)

type xfs struct{}

func init() {
	fsTypeMap["xfs"] = func(string) Filesystem {
		return xfs{}
	}
}

func (fs xfs) Format(device string, options []string) (string, []string) {
	return cmdMkfsXfs, append(append([]string{}, options...), device)
}

func (fs xfs) Check(device string, options, _ []string) (string, []string) {
	args := append([]string{"-o", "force_geometry"}, options...)
	return cmdXfsRepair, append(args, device)
}

// Expand takes the mount path, xfs only grows while mounted.
func (fs xfs) Expand(target string, options []string) (string, []string) {
	return cmdXfsGrowfs, append(append([]string{}, options...), target)
}
