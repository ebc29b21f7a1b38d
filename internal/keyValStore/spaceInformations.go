package keyValStore

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/disk"
	"github.com/sirupsen/logrus"
)

// calculateDirectorySize calculates the total size of files within a directory
func calculateDirectorySize(path string) (size int64, err error) {
	err = filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return
}

// mountPointOf returns the partition with the longest mount point
// containing path.
func mountPointOf(path string) (device, mountPoint string, err error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", "", err
	}
	partitions, err := disk.Partitions(true)
	if err != nil {
		return "", "", err
	}
	for _, p := range partitions {
		if strings.HasPrefix(abs, p.Mountpoint) && len(p.Mountpoint) > len(mountPoint) {
			device, mountPoint = p.Device, p.Mountpoint
		}
	}
	return device, mountPoint, nil
}

// displayDiskUsage displays the disk usage information using structured logging
func displayDiskUsage(paths []string) error {
	for _, path := range paths {
		usage, err := disk.Usage(path)
		if err != nil {
			log.WithFields(logrus.Fields{
				"path": path,
			}).Errorf("Error retrieving disk usage stats: %v", err)
			return err
		}

		device, mountPoint, err := mountPointOf(path)
		if err != nil {
			log.WithFields(logrus.Fields{
				"path": path,
			}).Warnf("Error finding device and mount point: %v", err)
		}

		pathSize, err := calculateDirectorySize(path)
		if err != nil {
			log.WithFields(logrus.Fields{
				"path": path,
			}).Errorf("Error calculating directory size: %v", err)
			return err
		}

		log.WithFields(logrus.Fields{
			"Path":        path,
			"Device":      device,
			"Mount Point": mountPoint,
			"Total":       humanize.Bytes(usage.Total),
			"Used":        humanize.Bytes(usage.Used),
			"Free":        humanize.Bytes(usage.Free),
			"Usage by DB": humanize.Bytes(uint64(pathSize)),
		}).Info("Disk Usage")
	}

	return nil
}
