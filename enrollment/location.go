package enrollment

import (
	"fmt"

	"go-voter-enrollment/models"
)

// LocationLevel identifies one level of the location hierarchy, ordered
// from the root down.
type LocationLevel int

const (
	LevelState LocationLevel = iota
	LevelDistrict
	LevelMandal
	LevelConstituency
)

var levelNames = [...]string{"state", "district", "mandal", "constituency"}

func (l LocationLevel) String() string {
	if l < LevelState || l > LevelConstituency {
		return fmt.Sprintf("LocationLevel(%d)", int(l))
	}
	return levelNames[l]
}

func ParseLocationLevel(s string) (LocationLevel, error) {
	for i, name := range levelNames {
		if s == name {
			return LocationLevel(i), nil
		}
	}
	return 0, fmt.Errorf("unknown location level: %q", s)
}

// ApplyLocationSelection sets the value at the given level and clears every
// selection below it. Every call site that updates a draft's location must
// go through this function so the hierarchy invariant holds everywhere.
func ApplyLocationSelection(loc models.Location, level LocationLevel, ref models.LocationRef) models.Location {
	switch level {
	case LevelState:
		loc.State = ref
		loc.District = models.LocationRef{}
		loc.Mandal = models.LocationRef{}
		loc.Constituency = models.LocationRef{}
	case LevelDistrict:
		loc.District = ref
		loc.Mandal = models.LocationRef{}
		loc.Constituency = models.LocationRef{}
	case LevelMandal:
		loc.Mandal = ref
		loc.Constituency = models.LocationRef{}
	case LevelConstituency:
		loc.Constituency = ref
	}
	return loc
}
