package models

// LocationRef is one selected entry in the location hierarchy.
type LocationRef struct {
	Id   string `json:"id"`
	Name string `json:"name"`
}

func (r LocationRef) IsZero() bool {
	return r.Id == ""
}

// Location is the four-level hierarchy a voter profile is registered under.
// A child level is only meaningful when its parent is selected.
type Location struct {
	State        LocationRef `json:"state"`
	District     LocationRef `json:"district"`
	Mandal       LocationRef `json:"mandal"`
	Constituency LocationRef `json:"constituency"`
}

// Complete reports whether all four levels are selected.
func (l Location) Complete() bool {
	return !l.State.IsZero() && !l.District.IsZero() && !l.Mandal.IsZero() && !l.Constituency.IsZero()
}
