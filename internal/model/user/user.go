package user

import (
	"strconv"
	"time"
)

// User is a row of the account table the authenticator resolves tokens against.
// Accounts are provisioned elsewhere; this service only reads them.
type User struct {
	ID        int64     `gorm:"primaryKey"`
	Name      string    `gorm:"size:150"`
	Email     string    `gorm:"size:254;uniqueIndex"`
	CreatedAt time.Time
}

// TableName pins the table name shared with the account service.
func (User) TableName() string {
	return "users"
}

// Identity is the resolved, authenticated user attached to a session.
type Identity struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// IdentityOf projects the public attributes of a user row.
func IdentityOf(u User) Identity {
	return Identity{ID: u.ID, Name: u.Name, Email: u.Email}
}

// Key returns the identity as a string suitable for log attributes and map keys.
func (i Identity) Key() string {
	return strconv.FormatInt(i.ID, 10)
}

// DisplayName falls back to the email when the account has no name.
func (i Identity) DisplayName() string {
	if i.Name != "" {
		return i.Name
	}
	return i.Email
}
