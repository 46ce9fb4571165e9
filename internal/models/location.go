package models

// LocationRef is a tagged reference to a location in the administrative
// hierarchy. Detectors always emit LocationRefs so downstream code never
// has to guess whether it was handed an ID or a full record.
type LocationRef struct {
	ID         string `json:"id"`
	Name       string `json:"name,omitempty"`
	AdminLevel int    `json:"admin_level,omitempty"`
}

// Location is a node in the administrative hierarchy.
type Location struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	AdminLevel int    `json:"admin_level"`
	ParentID   string `json:"parent_id,omitempty"`
}

func (l *Location) Ref() LocationRef {
	return LocationRef{ID: l.ID, Name: l.Name, AdminLevel: l.AdminLevel}
}

// LocationSet returns the IDs of refs as a set for overlap comparisons.
func LocationSet(refs []LocationRef) map[string]struct{} {
	set := make(map[string]struct{}, len(refs))
	for _, ref := range refs {
		set[ref.ID] = struct{}{}
	}
	return set
}
