package account

import "time"

// Status is the lifecycle state of an account.
type Status string

const (
	StatusNormal   Status = "normal"
	StatusDisabled Status = "disabled"
	StatusDeleted  Status = "deleted"
)

// User is the persisted account row.
type User struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	Account   string `gorm:"size:64;not null;uniqueIndex"`
	Password  string `gorm:"size:128;not null"`
	UserName  string `gorm:"size:64"`
	Avatar    string `gorm:"size:512"`
	Status    Status `gorm:"size:16;not null;default:normal"`
	Version   int    `gorm:"not null;default:0"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName implements gorm's tabler.
func (User) TableName() string { return "warden_users" }

// TimeLayout is the format of timestamps in Profile.
const TimeLayout = "2006-01-02 15:04:05"

// Profile is the caller-facing view of a User.
type Profile struct {
	ID        int64  `json:"id"`
	Account   string `json:"account"`
	UserName  string `json:"userName"`
	Avatar    string `json:"avatar"`
	CreatedAt string `json:"createAt"`
}

func newProfile(u *User) Profile {
	return Profile{
		ID:        u.ID,
		Account:   u.Account,
		UserName:  u.UserName,
		Avatar:    u.Avatar,
		CreatedAt: u.CreatedAt.Format(TimeLayout),
	}
}

// ProfileUpdate lists the fields a caller may change on their own profile.
// Nil fields are left untouched.
type ProfileUpdate struct {
	UserName *string `mapstructure:"userName"`
	Avatar   *string `mapstructure:"avatar"`
}
