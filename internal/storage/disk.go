package storage

import (
	"os"
	"path/filepath"
)

// Footprint is the on-disk size of each persisted part of the service.
type Footprint struct {
	Database int64 `json:"database"`
	Vectors  int64 `json:"vectors"`
	Keywords int64 `json:"keywords"`
}

// Total sums every part.
func (f Footprint) Total() int64 {
	return f.Database + f.Vectors + f.Keywords
}

// MeasureFootprint sizes the SQLite database with its WAL and shared-memory
// files, the vector snapshot, and the keyword index directory. Empty paths
// and ":memory:" count as zero.
func MeasureFootprint(dbPath, snapshotPath, indexPath string) (Footprint, error) {
	var (
		f   Footprint
		err error
	)
	if dbPath != ":memory:" && dbPath != "" {
		if f.Database, err = diskUsage(dbPath, dbPath+"-wal", dbPath+"-shm"); err != nil {
			return f, err
		}
	}
	if f.Vectors, err = diskUsage(snapshotPath); err != nil {
		return f, err
	}
	if f.Keywords, err = diskUsage(indexPath); err != nil {
		return f, err
	}
	return f, nil
}

// diskUsage returns the total size of paths; directories are summed
// recursively and missing paths contribute nothing.
func diskUsage(paths ...string) (int64, error) {
	var total int64
	for _, p := range paths {
		if p == "" {
			continue
		}
		info, err := os.Stat(p)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return 0, err
		}
		if !info.IsDir() {
			total += info.Size()
			continue
		}
		err = filepath.Walk(p, func(_ string, fi os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if !fi.IsDir() {
				total += fi.Size()
			}
			return nil
		})
		if err != nil {
			return 0, err
		}
	}
	return total, nil
}
