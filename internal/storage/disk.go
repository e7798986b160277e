package storage

import (
	"os"
)

// Footprint is the on-disk size of the case database and the persisted index.
type Footprint struct {
	DatabaseBytes int64 `json:"database_bytes"`
	IndexBytes    int64 `json:"index_bytes"`
}

// Total returns the combined size.
func (f Footprint) Total() int64 {
	return f.DatabaseBytes + f.IndexBytes
}

// MeasureFootprint sizes the database at dbPath (including its WAL and shared-memory
// sidecar files) and the index file at indexPath. Missing files count as zero; an
// empty path is skipped.
func MeasureFootprint(dbPath, indexPath string) (Footprint, error) {
	var fp Footprint
	if dbPath != "" {
		for _, p := range []string{dbPath, dbPath + "-wal", dbPath + "-shm"} {
			n, err := fileSize(p)
			if err != nil {
				return Footprint{}, err
			}
			fp.DatabaseBytes += n
		}
	}
	if indexPath != "" {
		n, err := fileSize(indexPath)
		if err != nil {
			return Footprint{}, err
		}
		fp.IndexBytes = n
	}
	return fp, nil
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	if info.IsDir() {
		return 0, nil
	}
	return info.Size(), nil
}
