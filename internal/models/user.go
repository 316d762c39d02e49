package models

import "time"

// Account roles
const (
	RoleAdmin    = "admin"
	RoleTutor    = "tutor"
	RoleGuardian = "guardian"
	RoleStudent  = "student"
)

type User struct {
	ID                  string     `json:"id"`
	Email               string     `json:"email" example:"parent@example.com"` // User email
	FirstName           string     `json:"firstName" example:"Maria"`          // User first name
	LastName            string     `json:"lastName" example:"Santos"`          // User last name
	PhoneNumber         string     `json:"phoneNumber" example:"+639171234567"`
	Role                string     `json:"role" example:"guardian"` // admin, tutor, guardian or student
	FailedLoginAttempts int        `json:"-"`
	LockedUntil         *time.Time `json:"-"`
	LastLogin           *time.Time `json:"lastLogin,omitempty"`
	CreatedAt           time.Time  `json:"createdAt"`
	UpdatedAt           time.Time  `json:"updatedAt"`
}
