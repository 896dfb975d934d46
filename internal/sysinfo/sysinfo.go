// Package sysinfo collects a host snapshot for the admin API.
package sysinfo

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	gopsnet "github.com/shirou/gopsutil/v4/net"

	"github.com/everping/everping/internal/logger"
)

// Snapshot is a point-in-time view of the host.
type Snapshot struct {
	Hostname      string     `json:"hostname"`
	Platform      string     `json:"platform"`
	UptimeSec     uint64     `json:"uptime_sec"`
	Load1         float64    `json:"load1"`
	Load5         float64    `json:"load5"`
	Load15        float64    `json:"load15"`
	MemTotalBytes uint64     `json:"mem_total_bytes"`
	MemUsedBytes  uint64     `json:"mem_used_bytes"`
	Disks         []DiskInfo `json:"disks"`
	Nics          []NicInfo  `json:"nics"`
	CollectedAt   time.Time  `json:"collected_at"`
}

// NicInfo is cumulative traffic for one network interface.
type NicInfo struct {
	Name      string `json:"name"`
	BytesSent uint64 `json:"bytes_sent"`
	BytesRecv uint64 `json:"bytes_recv"`
}

// DiskInfo is usage for one mounted filesystem.
type DiskInfo struct {
	Mountpoint  string  `json:"mountpoint"`
	TotalBytes  uint64  `json:"total_bytes"`
	UsedBytes   uint64  `json:"used_bytes"`
	UsedPercent float64 `json:"used_percent"`
}

// Collect gathers a best-effort snapshot. Probes that fail leave their
// fields zero instead of failing the whole snapshot.
func Collect(ctx context.Context) *Snapshot {
	snap := &Snapshot{CollectedAt: time.Now().UTC()}

	if info, err := host.InfoWithContext(ctx); err == nil {
		snap.Hostname = info.Hostname
		snap.Platform = info.Platform
		snap.UptimeSec = info.Uptime
	} else {
		logger.Debug(ctx, "host probe failed", "err", err)
	}

	if avg, err := load.AvgWithContext(ctx); err == nil {
		snap.Load1 = avg.Load1
		snap.Load5 = avg.Load5
		snap.Load15 = avg.Load15
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		snap.MemTotalBytes = vm.Total
		snap.MemUsedBytes = vm.Used
	}

	if parts, err := disk.PartitionsWithContext(ctx, false); err == nil {
		for _, part := range parts {
			usage, err := disk.UsageWithContext(ctx, part.Mountpoint)
			if err != nil {
				continue
			}
			snap.Disks = append(snap.Disks, DiskInfo{
				Mountpoint:  part.Mountpoint,
				TotalBytes:  usage.Total,
				UsedBytes:   usage.Used,
				UsedPercent: usage.UsedPercent,
			})
		}
	}

	if counters, err := gopsnet.IOCountersWithContext(ctx, true); err == nil {
		for _, c := range counters {
			snap.Nics = append(snap.Nics, NicInfo{
				Name:      c.Name,
				BytesSent: c.BytesSent,
				BytesRecv: c.BytesRecv,
			})
		}
	}

	return snap
}
