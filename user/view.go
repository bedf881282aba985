package user

import (
	"time"

	"github.com/codewandler/userstream-go/core/es"
)

// View is the flat read model handed to callers outside the write path.
type View struct {
	Email          string               `json:"email"`
	Name           string               `json:"name"`
	DepartmentID   string               `json:"department_id,omitempty"`
	Active         bool                 `json:"active"`
	EmailConfirmed bool                 `json:"email_confirmed"`
	Roles          []string             `json:"roles"`
	LastLogins     map[string]time.Time `json:"last_logins,omitempty"`
	Version        es.Version           `json:"version"`
}

func (u *User) View() View {
	v := View{
		Email:          u.Email,
		Name:           u.Name,
		DepartmentID:   u.DepartmentID,
		Active:         u.Active,
		EmailConfirmed: u.Confirmed,
		Version:        u.GetVersion(),
	}
	if len(u.LastLogins) > 0 {
		v.LastLogins = make(map[string]time.Time, len(u.LastLogins))
		for app, at := range u.LastLogins {
			v.LastLogins[app] = at
		}
	}
	if u.Roles != nil {
		v.Roles = u.Roles.Values()
	}
	return v
}
