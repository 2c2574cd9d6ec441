package device

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/carina-io/blockmgr/pkg/devicemanager/types"
	"github.com/carina-io/blockmgr/utils"
)

/*
# lsblk -a -b -J -O /dev/sdb   (trimmed)
{
   "blockdevices": [
      {"name": "sdb", "kname": "sdb", "path": "/dev/sdb", "pkname": null, "fstype": null,
       "size": 107374182400, "type": "disk", "tran": "iscsi", "ro": false, "rota": true,
       "children": [
          {"name": "sdb1", "kname": "sdb1", "path": "/dev/sdb1", "pkname": "sdb", "fstype": "ext4",
           "size": 53687091200, "type": "part", "tran": null, "ro": false, "rota": true}
       ]
      }
   ]
}
util-linux before 2.33 prints sizes and flags as strings ("107374182400", "0"), both are accepted.
*/
type lsblkOutput struct {
	Blockdevices []lsblkDevice `json:"blockdevices"`
}

type lsblkDevice struct {
	Name       string        `json:"name"`
	Kname      string        `json:"kname"`
	Path       string        `json:"path"`
	PKName     string        `json:"pkname"`
	FSType     string        `json:"fstype"`
	Size       lsblkSize     `json:"size"`
	Type       string        `json:"type"`
	Tran       string        `json:"tran"`
	MountPoint string        `json:"mountpoint"`
	Label      string        `json:"label"`
	UUID       string        `json:"uuid"`
	Serial     string        `json:"serial"`
	Model      string        `json:"model"`
	RO         lsblkFlag     `json:"ro"`
	Rota       lsblkFlag     `json:"rota"`
	Children   []lsblkDevice `json:"children,omitempty"`
}

type lsblkSize uint64

func (s *lsblkSize) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(bytes.TrimSpace(data)), `"`)
	if raw == "" || raw == "null" {
		*s = 0
		return nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid size %s: %w", string(data), err)
	}
	*s = lsblkSize(v)
	return nil
}

type lsblkFlag bool

func (f *lsblkFlag) UnmarshalJSON(data []byte) error {
	switch strings.Trim(string(bytes.TrimSpace(data)), `"`) {
	case "1", "true":
		*f = true
	case "0", "false", "", "null":
		*f = false
	default:
		return fmt.Errorf("invalid flag %s", string(data))
	}
	return nil
}

// parseLsblk turns lsblk JSON into device trees, children keep listing order.
func parseLsblk(output string) ([]*types.BlockDevice, error) {
	var out lsblkOutput
	if err := json.Unmarshal([]byte(output), &out); err != nil {
		return nil, &types.ParseError{Source: types.LsblkCmd, Err: err}
	}
	if out.Blockdevices == nil {
		return nil, &types.ParseError{Source: types.LsblkCmd, Err: errors.New("missing blockdevices")}
	}

	devices := make([]*types.BlockDevice, 0, len(out.Blockdevices))
	for _, d := range out.Blockdevices {
		device, err := convert(d, "")
		if err != nil {
			return nil, err
		}
		devices = append(devices, device)
	}
	return devices, nil
}

func convert(d lsblkDevice, parent string) (*types.BlockDevice, error) {
	kname := d.Kname
	if kname == "" && d.Path != "" {
		kname = filepath.Base(d.Path)
	}
	if kname == "" {
		return nil, &types.ParseError{Source: types.LsblkCmd, Err: fmt.Errorf("device %q has neither path nor kname", d.Name)}
	}
	path := d.Path
	if path == "" {
		path = filepath.Join(types.DevRoot, kname)
	}
	pkname := d.PKName
	if pkname == "" {
		pkname = parent
	}

	device := &types.BlockDevice{
		Path:             path,
		Name:             d.Name,
		KernelName:       kname,
		ParentKernelName: pkname,
		Filesystem:       d.FSType,
		Size:             uint64(d.Size),
		Type:             d.Type,
		Transport:        d.Tran,
		MountPoint:       d.MountPoint,
		Label:            d.Label,
		UUID:             d.UUID,
		Serial:           strings.TrimSpace(d.Serial),
		Model:            strings.TrimSpace(d.Model),
		Readonly:         bool(d.RO),
		Rotational:       bool(d.Rota),
	}
	for _, c := range d.Children {
		child, err := convert(c, kname)
		if err != nil {
			return nil, err
		}
		device.Children = append(device.Children, child)
	}
	return device, nil
}

// Flatten walks the trees depth first, parents before their children.
func Flatten(devices []*types.BlockDevice) []*types.BlockDevice {
	var all []*types.BlockDevice
	for _, d := range devices {
		all = append(all, d)
		all = append(all, Flatten(d.Children)...)
	}
	return all
}

/*
# blkid -p -o export /dev/sdb1
DEVNAME=/dev/sdb1
UUID=5b2c1c2e-0a4e-4a4b-9d53-4f0c3c1a7e11
VERSION=1.0
TYPE=ext4
USAGE=filesystem
*/
func parseBlkidExport(output string) map[string]string {
	properties := map[string]string{}
	for _, line := range utils.SplitLines(output) {
		kv := strings.SplitN(line, "=", 2)
		if len(kv) != 2 {
			continue
		}
		properties[strings.ToLower(kv[0])] = kv[1]
	}
	return properties
}
