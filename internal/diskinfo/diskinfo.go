// Package diskinfo enumerates mounted volumes and their free space for the
// disk-selection HTTP endpoint and CLI command. It reuses gopsutil/v3/disk,
// already wired in for the process supervisor's orphan scan, rather than
// shelling out to a system-specific command.
package diskinfo

import (
	"strings"

	"github.com/shirou/gopsutil/v3/disk"
)

// Disk describes one mounted volume and whether it is suitable as a test target.
type Disk struct {
	Name               string `json:"name"`
	Device             string `json:"device"`
	MountPoint         string `json:"mount_point"`
	SizeBytes          uint64 `json:"size"`
	FreeBytes          uint64 `json:"free_space"`
	FSType             string `json:"type"`
	SuitableForTesting bool   `json:"suitable_for_testing"`
}

// pseudoFSTypes are filesystem types that never back a real storage device
// and are excluded from the suitable-for-testing candidate list.
var pseudoFSTypes = map[string]bool{
	"tmpfs": true, "devtmpfs": true, "proc": true, "sysfs": true,
	"cgroup": true, "cgroup2": true, "overlay": true, "squashfs": true,
	"devfs": true, "autofs": true, "debugfs": true, "tracefs": true,
	"mqueue": true, "securityfs": true, "pstore": true, "bpf": true,
}

// systemCriticalMountPoints mirrors the planner's rejection list; a disk
// listed here is never suitable for testing even if its filesystem type
// looks real.
var systemCriticalMountPoints = map[string]bool{
	"/": true, "/System": true, "/usr": true, "/bin": true, "/sbin": true,
}

// List enumerates mounted partitions and their usage, annotating each with
// whether it is suitable as a test target: a real filesystem type on a
// mount point that is not itself system-critical. Mount points nested under
// a system-critical mount (e.g. /usr/local) are not flagged here, although
// the planner rejects them.
func List() ([]Disk, error) {
	partitions, err := disk.Partitions(false)
	if err != nil {
		return nil, err
	}

	disks := make([]Disk, 0, len(partitions))
	for _, part := range partitions {
		usage, err := disk.Usage(part.Mountpoint)
		if err != nil {
			continue
		}
		d := Disk{
			Name:       strings.TrimPrefix(part.Mountpoint, "/"),
			Device:     part.Device,
			MountPoint: part.Mountpoint,
			SizeBytes:  usage.Total,
			FreeBytes:  usage.Free,
			FSType:     part.Fstype,
		}
		if d.Name == "" {
			d.Name = part.Mountpoint
		}
		d.SuitableForTesting = isSuitable(part.Fstype, part.Mountpoint)
		disks = append(disks, d)
	}
	return disks, nil
}

// isSuitable reports whether a volume with the given filesystem type and
// mount point would be accepted as a test target.
func isSuitable(fstype, mountpoint string) bool {
	return !pseudoFSTypes[strings.ToLower(fstype)] && !systemCriticalMountPoints[mountpoint]
}
