package identity

import (
	"time"
)

const (
	RoleAdmin = "admin"
	RoleUser  = "user"

	StatusEnabled  = 1
	StatusDisabled = 0
)

// User is an account that owns datasets and models. The password hash
// never leaves the server.
type User struct {
	ID              int64     `gorm:"primaryKey;autoIncrement;column:id" json:"id"`
	Username        string    `gorm:"column:username;uniqueIndex;size:64" json:"username"`
	PasswordHash    string    `gorm:"column:password_hash;size:128" json:"-"`
	Nickname        string    `gorm:"column:nickname;size:64" json:"nickname"`
	Role            string    `gorm:"column:role;size:16" json:"role"`
	AvatarBucket    string    `gorm:"column:avatar_bucket;size:128" json:"avatarBucket,omitempty"`
	AvatarObjectKey string    `gorm:"column:avatar_object_key;size:512" json:"avatarObjectKey,omitempty"`
	Status          int       `gorm:"column:status" json:"status"`
	CreatedAt       time.Time `gorm:"column:created_at" json:"createTime"`
	UpdatedAt       time.Time `gorm:"column:updated_at" json:"updateTime"`
}

func (User) TableName() string {
	return "users"
}

func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

func (u *User) Enabled() bool {
	return u.Status == StatusEnabled
}

type RegisterInput struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Nickname string `json:"nickname"`
}

type CreateInput struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Nickname string `json:"nickname"`
	Role     string `json:"role"`
}

type UpdateInput struct {
	Nickname *string `json:"nickname,omitempty"`
	Role     *string `json:"role,omitempty"`
}

type LoginInput struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResult carries the issued token alongside the account so the
// client does not need a second round trip.
type LoginResult struct {
	Token string `json:"token"`
	User  *User  `json:"user"`
}

type Query struct {
	Username string
	Role     string
	Status   *int
	Current  int
	Size     int
}

type Page struct {
	Records []User `json:"records"`
	Total   int64  `json:"total"`
	Current int    `json:"current"`
	Size    int    `json:"size"`
}
