package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// SerializableColours stores a list of hex colour strings as a JSON
// blob in a single sqlite column.
type SerializableColours []string

func (sc SerializableColours) Value() (driver.Value, error) {
	return json.Marshal(sc)
}

func (sc *SerializableColours) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*sc = nil
		return nil
	case []byte:
		return json.Unmarshal(v, sc)
	case string:
		return json.Unmarshal([]byte(v), sc)
	default:
		return fmt.Errorf("unsupported type %T for SerializableColours", value)
	}
}

// ReciterAvatar is a locally cached avatar image plus its extracted
// colour palette, served from the static file route.
type ReciterAvatar struct {
	ReciterID       string              `db:"reciter_id" json:"reciter_id"`
	Location        string              `db:"location" json:"location"`
	DominantColours SerializableColours `db:"dominant_colours" json:"dominant_colours"`
	CachedAt        string              `db:"cached_at" json:"cached_at"`
}
