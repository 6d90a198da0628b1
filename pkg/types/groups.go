package types

import (
	"sort"
	"strings"
)

// GroupID identifies one community group. Chat and presence never cross
// group boundaries.
type GroupID string

// Known community groups plus the reserved admins pseudo-group.
// This is the only place the enumeration is declared.
const (
	GroupChoir       GroupID = "choir"
	GroupAnointed    GroupID = "anointed"
	GroupYouth       GroupID = "youth"
	GroupElders      GroupID = "elders"
	GroupUshers      GroupID = "ushers"
	GroupPrayer      GroupID = "prayer"
	GroupOutreach    GroupID = "outreach"
	GroupMedia       GroupID = "media"
	GroupHospitality GroupID = "hospitality"
	GroupAdmins      GroupID = "admins"
)

var catalog = map[GroupID]struct{}{
	GroupChoir:       {},
	GroupAnointed:    {},
	GroupYouth:       {},
	GroupElders:      {},
	GroupUshers:      {},
	GroupPrayer:      {},
	GroupOutreach:    {},
	GroupMedia:       {},
	GroupHospitality: {},
	GroupAdmins:      {},
}

// IsValidGroup reports whether id belongs to the group catalog.
// It is pure and never fails beyond returning false.
func IsValidGroup(id GroupID) bool {
	_, ok := catalog[id]
	return ok
}

// ParseGroup converts raw client input into a catalog GroupID.
// Matching is exact: "Choir" and " choir" are rejected.
func ParseGroup(raw string) (GroupID, error) {
	id := GroupID(raw)
	if !IsValidGroup(id) {
		return "", ErrUnknownGroup
	}
	return id, nil
}

// Groups returns the catalog in a stable, sorted order.
func Groups() []GroupID {
	groups := make([]GroupID, 0, len(catalog))
	for id := range catalog {
		groups = append(groups, id)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i] < groups[j] })
	return groups
}

// String implements fmt.Stringer.
func (g GroupID) String() string {
	return string(g)
}

// IsReserved reports whether the group is a pseudo-group rather than a
// community group.
func (g GroupID) IsReserved() bool {
	return strings.EqualFold(string(g), string(GroupAdmins))
}
