package gateway

import (
	"strings"

	alerts "github.com/getdatasurge/fresh-staged-sub013/internal/alerts/domain"
)

// OrgRoom names the room every connection of an organization joins.
func OrgRoom(organizationID string) string {
	return "org:" + organizationID
}

// SiteRoom names a site room scoped to its organization.
func SiteRoom(organizationID, siteID string) string {
	return "org:" + organizationID + ":site:" + siteID
}

// UnitRoom names a unit room scoped to its organization.
func UnitRoom(organizationID, unitID string) string {
	return "org:" + organizationID + ":unit:" + unitID
}

// ValidRoomID reports whether id can be embedded in a room name without colliding with another room.
func ValidRoomID(id string) bool {
	return id != "" && !strings.Contains(id, ":")
}

// RoomsFor lists the rooms an event is broadcast to. Site and unit IDs that are not ValidRoomID are skipped.
func RoomsFor(event alerts.Event) []string {
	rooms := []string{OrgRoom(event.OrganizationID)}
	if ValidRoomID(event.SiteID) {
		rooms = append(rooms, SiteRoom(event.OrganizationID, event.SiteID))
	}
	if ValidRoomID(event.UnitID) {
		rooms = append(rooms, UnitRoom(event.OrganizationID, event.UnitID))
	}
	return rooms
}

// RoomOrganization extracts the organization a room belongs to.
func RoomOrganization(room string) string {
	rest, ok := strings.CutPrefix(room, "org:")
	if !ok {
		return ""
	}
	org, _, _ := strings.Cut(rest, ":")
	return org
}

// RoomRequest asks to join a site or unit room. Exactly one field must be set.
type RoomRequest struct {
	SiteID string `json:"siteId,omitempty"`
	UnitID string `json:"unitId,omitempty"`
}
