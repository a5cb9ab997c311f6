package models

// PackageType describes how a reciter distributes their recordings.
type PackageType string

const (
	// PackageClips means one audio file per thikr.
	PackageClips PackageType = "clips"
	// PackageSession means one long recording per session type, with
	// time markers locating each thikr inside it.
	PackageSession PackageType = "session"
	// PackageHybrid carries both; clips win when present.
	PackageHybrid PackageType = "hybrid"
)

// ReciterCatalog is the versioned listing of available reciter packages.
type ReciterCatalog struct {
	Version  string                `json:"version"`
	Reciters []ReciterCatalogEntry `json:"reciters"`
}

type ReciterCatalogEntry struct {
	ID             string            `json:"id"`
	Name           map[string]string `json:"name"`
	AvatarURL      string            `json:"avatar_url"`
	PackageType    PackageType       `json:"package_type"`
	TotalSizeBytes int64             `json:"total_size_bytes"`
	ItemCount      int               `json:"item_count"`
	SampleURL      string            `json:"sample_url"`
	ManifestURL    string            `json:"manifest_url"`
	IsDefault      bool              `json:"is_default"`
}

// Entry returns the catalog entry for a reciter id, if present.
func (c *ReciterCatalog) Entry(reciterID string) (ReciterCatalogEntry, bool) {
	for _, entry := range c.Reciters {
		if entry.ID == reciterID {
			return entry, true
		}
	}
	return ReciterCatalogEntry{}, false
}
