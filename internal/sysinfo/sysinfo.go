// Package sysinfo reports host disk and memory utilization for the
// /api/system-info endpoint (spec.md §6). No pack dependency covers
// host-level disk/memory stats with an actual source-level import (the
// teacher's gopsutil dependency is indirect, pulled in transitively, and
// never imported by any example's own code), so this reads /proc/meminfo
// and calls syscall.Statfs directly (see DESIGN.md).
package sysinfo

import (
	"bufio"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// DiskUsage reports utilization of the filesystem backing a path.
type DiskUsage struct {
	Percent float64 `json:"percent"`
	FreeMB  uint64  `json:"free"`
}

// MemoryUsage reports host memory utilization.
type MemoryUsage struct {
	Percent     float64 `json:"percent"`
	AvailableMB uint64  `json:"available"`
}

// Info is the full /api/system-info payload.
type Info struct {
	Hostname string      `json:"hostname"`
	Disk     DiskUsage   `json:"disk_usage"`
	Memory   MemoryUsage `json:"memory"`
}

// Collect gathers hostname, disk usage of diskPath, and memory usage.
func Collect(diskPath string) (Info, error) {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	disk, err := collectDisk(diskPath)
	if err != nil {
		return Info{}, err
	}

	mem, err := collectMemory()
	if err != nil {
		return Info{}, err
	}

	return Info{Hostname: hostname, Disk: disk, Memory: mem}, nil
}

func collectDisk(path string) (DiskUsage, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return DiskUsage{}, err
	}

	total := stat.Blocks * uint64(stat.Bsize)
	free := stat.Bavail * uint64(stat.Bsize)
	used := total - free

	var percent float64
	if total > 0 {
		percent = float64(used) / float64(total) * 100
	}

	return DiskUsage{Percent: percent, FreeMB: free / (1024 * 1024)}, nil
}

// collectMemory parses /proc/meminfo for MemTotal and MemAvailable, the
// same fields `free`/`top` derive their numbers from on Linux.
func collectMemory() (MemoryUsage, error) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return MemoryUsage{}, err
	}
	defer f.Close()

	var totalKB, availableKB uint64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		switch strings.TrimSuffix(fields[0], ":") {
		case "MemTotal":
			totalKB, _ = strconv.ParseUint(fields[1], 10, 64)
		case "MemAvailable":
			availableKB, _ = strconv.ParseUint(fields[1], 10, 64)
		}
	}
	if err := scanner.Err(); err != nil {
		return MemoryUsage{}, err
	}

	var percent float64
	if totalKB > 0 {
		used := totalKB - availableKB
		percent = float64(used) / float64(totalKB) * 100
	}

	return MemoryUsage{Percent: percent, AvailableMB: availableKB / 1024}, nil
}
