//go:build linux

package status

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

func Uptime() (string, error) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return "", fmt.Errorf("sysinfo: %w", err)
	}
	up := time.Duration(info.Uptime) * time.Second
	return fmt.Sprintf("up %s, load %.2f %.2f %.2f",
		up,
		loadAvg(uint64(info.Loads[0])), loadAvg(uint64(info.Loads[1])), loadAvg(uint64(info.Loads[2])),
	), nil
}

// sysinfo load averages are fixed-point with 16 fractional bits.
func loadAvg(v uint64) float64 {
	return float64(v) / 65536
}

func Memory() (string, error) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return "", fmt.Errorf("sysinfo: %w", err)
	}
	unit := uint64(info.Unit)
	total := uint64(info.Totalram) * unit
	free := uint64(info.Freeram) * unit
	swapTotal := uint64(info.Totalswap) * unit
	swapFree := uint64(info.Freeswap) * unit
	return fmt.Sprintf("mem: %s used / %s total\nswap: %s used / %s total",
		humanBytes(total-free), humanBytes(total),
		humanBytes(swapTotal-swapFree), humanBytes(swapTotal),
	), nil
}

func Disk(path string) (string, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return "", fmt.Errorf("statfs %s: %w", path, err)
	}
	bsize := uint64(st.Bsize)
	total := uint64(st.Blocks) * bsize
	avail := uint64(st.Bavail) * bsize
	used := total - uint64(st.Bfree)*bsize
	return fmt.Sprintf("%s used / %s total, %s available", humanBytes(used), humanBytes(total), humanBytes(avail)), nil
}
