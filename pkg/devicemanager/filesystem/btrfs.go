package filesystem

const (
	cmdBtrfs     = "btrfs"
	cmdMkfsBtrfs = "mkfs.btrfs"
)

type btrfs struct{}

func init() {
	fsTypeMap["btrfs"] = func(string) Filesystem {
		return btrfs{}
	}
}

func (fs btrfs) Format(device string, options []string) (string, []string) {
	return cmdMkfsBtrfs, append(append([]string{}, options...), device)
}

func (fs btrfs) Check(device string, options, _ []string) (string, []string) {
	args := append([]string{}, options...)
	return cmdBtrfs, append(args, "check", device)
}

// Expand takes the mount path. Options are not passed, btrfs resize has none that apply.
func (fs btrfs) Expand(target string, _ []string) (string, []string) {
	return cmdBtrfs, []string{"filesystem", "resize", "max", target}
}
