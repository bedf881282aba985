package user

import "time"

// The closed event set of the user stream. Payloads are flat JSON
// objects; the wire name is the type name.

// Created starts a user's stream. The email doubles as the natural
// identifier, so at most one Created ever commits per address.
type Created struct {
	Email        string `json:"email"`
	Name         string `json:"name"`
	DepartmentID string `json:"department_id,omitempty"`
}

// PersonalDetailsUpdated replaces the user's mutable profile fields.
type PersonalDetailsUpdated struct {
	Name         string `json:"name"`
	DepartmentID string `json:"department_id,omitempty"`
}

type RoleGranted struct {
	Role string `json:"role"`
}

type RoleRevoked struct {
	Role string `json:"role"`
}

type Deactivated struct{}

type Activated struct{}

type EmailConfirmed struct{}

// ConfirmationEmailSent records the token that was mailed out; a later
// EmailConfirmed must present it.
type ConfirmationEmailSent struct {
	Token string `json:"token"`
}

// LoggedIn records a successful login through one application.
type LoggedIn struct {
	Application string    `json:"application"`
	At          time.Time `json:"at"`
}
