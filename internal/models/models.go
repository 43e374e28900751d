package models

const (
	RoleRequester  = "REQUESTER"
	RoleResolver   = "RESOLVER"
	RoleSupervisor = "SUPERVISOR"
)

func ValidRole(role string) bool {
	switch role {
	case RoleRequester, RoleResolver, RoleSupervisor:
		return true
	}
	return false
}

// User is the persisted account record. RefreshTokenHash holds the bcrypt
// hash of the single outstanding refresh token; nil means no active session.
type User struct {
	ID               uint    `gorm:"primaryKey;autoIncrement"   json:"id"`
	Username         string  `gorm:"uniqueIndex;not null"       json:"username"`
	PasswordHash     string  `gorm:"not null"                   json:"-"`
	Role             string  `gorm:"not null;default:REQUESTER" json:"role"`
	RefreshTokenHash *string `gorm:"column:refresh_token_hash"  json:"-"`
}
