package models

import "time"

// DownloadRecord tracks one locally resident audio file. A record is
// only authoritative while the file it points at still exists; the
// downloads manager heals stale rows rather than serving broken paths.
type DownloadRecord struct {
	ReciterID    string    `db:"reciter_id" json:"reciter_id"`
	ItemID       string    `db:"item_id" json:"item_id"`
	LocalPath    string    `db:"local_path" json:"local_path"`
	SizeBytes    int64     `db:"size_bytes" json:"size_bytes"`
	DownloadedAt time.Time `db:"downloaded_at" json:"downloaded_at"`
}

// StorageUsage is the per-reciter view of bytes held on disk, computed
// from the index rather than a filesystem walk.
type StorageUsage struct {
	ReciterID  string `db:"reciter_id" json:"reciter_id"`
	TotalBytes int64  `db:"total_bytes" json:"total_bytes"`
	FileCount  int    `db:"file_count" json:"file_count"`
}
