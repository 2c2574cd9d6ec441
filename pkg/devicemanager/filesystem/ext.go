package filesystem

const (
	cmdResize2fs = "resize2fs"
)

type ext struct {
	fsType string
}

func init() {
	for _, t := range []string{"ext2", "ext3", "ext4", "ext4dev"} {
		fsTypeMap[t] = func(fsType string) Filesystem {
			return ext{fsType: fsType}
		}
	}
}

func (fs ext) Format(device string, options []string) (string, []string) {
	return "mkfs." + fs.fsType, append(append([]string{}, options...), device)
}

// Check forces a full pass (-f) and repairs what is safe without asking (-p).
func (fs ext) Check(device string, options, fsOptions []string) (string, []string) {
	command, args := genericCheck(device, options, fsOptions)
	return command, append(args, "-f", "-p")
}

func (fs ext) Expand(target string, options []string) (string, []string) {
	return cmdResize2fs, append(append([]string{}, options...), target)
}
