package identity

// Role controls which limits and privileges apply to an identity.
type Role string

const (
	RoleGuest Role = "guest"
	RoleUser  Role = "user"
	RoleUltra Role = "ultra"
	RoleAdmin Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleGuest, RoleUser, RoleUltra, RoleAdmin:
		return true
	}
	return false
}

// User is the identity record shared by every client of an account.
// MsgCount is the guest usage record: send timestamps in unix milliseconds,
// append-only and non-decreasing.
type User struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Username   string   `json:"username"`
	Email      string   `json:"email,omitempty"`
	Avatar     string   `json:"avatar,omitempty"`
	Frame      string   `json:"frame,omitempty"`
	Role       Role     `json:"role"`
	MoonShards int      `json:"moonShards"`
	Badges     []string `json:"badges"`
	Level      int      `json:"level"`
	IsBanned   bool     `json:"isBanned,omitempty"`
	MuteUntil  int64    `json:"muteUntil,omitempty"`
	MsgCount   []int64  `json:"msgCount,omitempty"`
}

// IsGuest reports whether the identity is subject to guest limits.
func (u User) IsGuest() bool {
	return u.Role == RoleGuest
}

// Clone returns a copy that shares no slices with u.
func (u User) Clone() User {
	out := u
	if u.Badges != nil {
		out.Badges = append([]string{}, u.Badges...)
	}
	if u.MsgCount != nil {
		out.MsgCount = append([]int64{}, u.MsgCount...)
	}
	return out
}
