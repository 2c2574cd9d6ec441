package filesystem

const (
	cmdMkfsNtfs   = "mkfs.ntfs"
	cmdNtfsfix    = "ntfsfix"
	cmdNtfsresize = "ntfsresize"
)

type ntfs struct{}

func init() {
	fsTypeMap["ntfs"] = func(string) Filesystem {
		return ntfs{}
	}
}

func (fs ntfs) Format(device string, options []string) (string, []string) {
	return cmdMkfsNtfs, append(append([]string{}, options...), device)
}

// Check only clears the dirty flag and known inconsistencies, ntfsfix takes no options.
func (fs ntfs) Check(device string, _, _ []string) (string, []string) {
	return cmdNtfsfix, []string{device}
}

// Expand needs the volume unmounted.
func (fs ntfs) Expand(target string, options []string) (string, []string) {
	return cmdNtfsresize, append(append([]string{}, options...), target)
}
