package catalog

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

type catalogFile struct {
	Groups []Group `toml:"groups"`
}

// LoadFile reads catalog groups from a TOML file and merges them over base.
// A group in the file replaces the base group with the same name; new groups
// are appended in file order.
//
//	[[groups]]
//	name = "comm"
//	title = "Communications"
//	  [[groups.catalogs]]
//	  id = "starlink"
//	  title = "Starlink"
func LoadFile(path string, base []Group) ([]Group, error) {
	var f catalogFile
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, fmt.Errorf("failed to decode catalogs file %s: %w", path, err)
	}

	merged := make([]Group, len(base))
	copy(merged, base)

	for _, g := range f.Groups {
		if g.Name == "" {
			return nil, fmt.Errorf("catalogs file %s: group without a name", path)
		}

		for _, c := range g.Catalogs {
			if c.ID == "" {
				return nil, fmt.Errorf("catalogs file %s: group %s has a catalog without an id", path, g.Name)
			}
		}

		replaced := false

		for i := range merged {
			if merged[i].Name == g.Name {
				merged[i] = g
				replaced = true

				break
			}
		}

		if !replaced {
			merged = append(merged, g)
		}
	}

	return merged, nil
}
