package run

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/carina-io/blockmgr/pkg/devicemanager/types"
	"github.com/dustin/go-humanize"
)

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printDevices renders the trees as a table, children indented below
// their parent.
func printDevices(w io.Writer, devices []*types.BlockDevice) error {
	tw := tabwriter.NewWriter(w, 0, 1, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tKNAME\tTYPE\tSIZE\tFSTYPE\tTRAN\tMOUNTPOINT")
	var walk func(d *types.BlockDevice, depth int)
	walk = func(d *types.BlockDevice, depth int) {
		fmt.Fprintf(tw, "%s%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			strings.Repeat("  ", depth),
			d.Path,
			d.KernelName,
			d.Type,
			humanize.IBytes(d.Size),
			dash(d.Filesystem),
			dash(d.Transport),
			dash(d.MountPoint),
		)
		for _, c := range d.Children {
			walk(c, depth+1)
		}
	}
	for _, d := range devices {
		walk(d, 0)
	}
	return tw.Flush()
}

func printMappings(w io.Writer, mappings []types.Mapping) error {
	tw := tabwriter.NewWriter(w, 0, 1, 2, ' ', 0)
	fmt.Fprintln(tw, "DEVICE\tSLAVES")
	for _, m := range mappings {
		fmt.Fprintf(tw, "%s\t%s\n", m.Device, strings.Join(m.Slaves, ","))
	}
	return tw.Flush()
}

func printLines(w io.Writer, lines []string) {
	for _, l := range lines {
		fmt.Fprintln(w, l)
	}
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
