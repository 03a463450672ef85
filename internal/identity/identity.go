// ABOUTME: Authenticated user identity shared by every collaboration registry
// ABOUTME: Display colors are derived deterministically from the user id

package identity

import (
	"hash/fnv"
)

// Palette is the fixed set of display colors handed out to collaborators.
// Two users may share a color; the mapping only has to be stable.
var Palette = []string{
	"#E57373", // red
	"#F06292", // pink
	"#BA68C8", // purple
	"#9575CD", // deep purple
	"#7986CB", // indigo
	"#64B5F6", // blue
	"#4FC3F7", // light blue
	"#4DD0E1", // cyan
	"#4DB6AC", // teal
	"#81C784", // green
	"#AED581", // light green
	"#FFD54F", // amber
	"#FFB74D", // orange
	"#FF8A65", // deep orange
	"#A1887F", // brown
	"#90A4AE", // blue grey
}

// Identity is the de-duplicated representation of a user across all of
// their simultaneous connections.
type Identity struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Avatar      string `json:"avatar,omitempty"`
	Color       string `json:"color"`
}

// New builds an Identity with its color filled in from the user id.
func New(userID, displayName, avatar string) Identity {
	if displayName == "" {
		displayName = userID
	}
	return Identity{
		UserID:      userID,
		DisplayName: displayName,
		Avatar:      avatar,
		Color:       ColorFor(userID),
	}
}

// Same reports whether two identities belong to the same user.
func (i Identity) Same(other Identity) bool {
	return i.UserID == other.UserID
}

// ColorFor maps a user id onto the palette. It is a pure function: the same
// id always yields the same color, across reconnects and process restarts.
func ColorFor(userID string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return Palette[h.Sum32()%uint32(len(Palette))]
}
