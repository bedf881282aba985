// Package user is the event-sourced user aggregate: its event set, the
// command methods that guard and raise events, and the reducer that
// folds them back into state.
package user

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/codewandler/userstream-go/core/ds"
	"github.com/codewandler/userstream-go/core/es"
)

// AggType is the aggregate type of user streams; together with the
// normalized email it forms the stream key "user-<email>".
const AggType = "user"

// CheatToken confirms any user's email without a minted token. Kept for
// development and seed tooling.
const CheatToken = "CHEAT"

var (
	// ErrDuplicateIdentity is returned when creating a user whose email
	// already has a stream. Unlike a concurrency conflict, retrying
	// cannot succeed.
	ErrDuplicateIdentity = errors.New("user already exists")

	ErrInvalidEmail         = fmt.Errorf("invalid email: %w", es.ErrValidation)
	ErrTokenMismatch        = fmt.Errorf("confirmation token mismatch: %w", es.ErrValidation)
	ErrAlreadyActive        = fmt.Errorf("user is already active: %w", es.ErrValidation)
	ErrAlreadyInactive      = fmt.Errorf("user is already inactive: %w", es.ErrValidation)
	ErrInactive             = fmt.Errorf("user is inactive: %w", es.ErrValidation)
	ErrInvalidRoleOperation = fmt.Errorf("invalid role operation: %w", es.ErrValidation)
	ErrLoginDenied          = fmt.Errorf("login denied: %w", es.ErrValidation)
)

// User is rebuilt purely from its stream: the same events always fold
// into the same state. Command methods validate against the hydrated
// state and raise events; they never write state directly.
type User struct {
	es.BaseAggregate

	Email             string               `json:"email"`
	Name              string               `json:"name"`
	DepartmentID      string               `json:"department_id,omitempty"`
	Active            bool                 `json:"active"`
	Confirmed         bool                 `json:"confirmed"`
	ConfirmationToken string               `json:"confirmation_token,omitempty"`
	Roles             *ds.Set[string]      `json:"roles"`
	LastLogins        map[string]time.Time `json:"last_logins,omitempty"`
}

// New returns an empty user addressed by email. The identifier is the
// lowercased address, so lookups are case-insensitive.
func New(email string) *User {
	u := &User{Roles: ds.NewSet[string]()}
	u.SetID(NormalizeEmail(email))
	return u
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// EmailFromStreamID recovers the address from a stream key like
// "user-jdoe@corp.com".
func EmailFromStreamID(streamID string) (string, bool) {
	return strings.CutPrefix(streamID, AggType+"-")
}

func (u *User) GetAggType() string { return AggType }

func (u *User) Register(r es.Registrar) {
	es.RegisterEvents(r,
		es.Event[Created](),
		es.Event[PersonalDetailsUpdated](),
		es.Event[RoleGranted](),
		es.Event[RoleRevoked](),
		es.Event[Deactivated](),
		es.Event[Activated](),
		es.Event[EmailConfirmed](),
		es.Event[ConfirmationEmailSent](),
		es.Event[LoggedIn](),
	)
}

func (u *User) IsEmailConfirmed() bool { return u.Confirmed }

// CanLogin is the aggregate-local gate; the canlogin projection answers
// the same question across all users.
func (u *User) CanLogin() bool { return u.Active && u.IsEmailConfirmed() }

// Apply folds one event into the state. It is total over the event set
// and performs no validation: events in the stream already happened.
func (u *User) Apply(event any) error {
	if u.Roles == nil {
		u.Roles = ds.NewSet[string]()
	}
	switch e := event.(type) {
	case *Created:
		u.Email = e.Email
		u.Name = e.Name
		u.DepartmentID = e.DepartmentID
		u.Active = true
	case *PersonalDetailsUpdated:
		u.Name = e.Name
		u.DepartmentID = e.DepartmentID
	case *RoleGranted:
		u.Roles.Add(e.Role)
	case *RoleRevoked:
		u.Roles.Remove(e.Role)
	case *Deactivated:
		u.Active = false
	case *Activated:
		u.Active = true
	case *EmailConfirmed:
		u.Confirmed = true
	case *ConfirmationEmailSent:
		u.ConfirmationToken = e.Token
	case *LoggedIn:
		if u.LastLogins == nil {
			u.LastLogins = map[string]time.Time{}
		}
		u.LastLogins[e.Application] = e.At
	default:
		return fmt.Errorf("unexpected event %T", event)
	}
	return nil
}

// === commands ===

// Create raises the stream's first event, followed by one RoleGranted
// per initial role. The exists guard is the store's NoStream condition
// at save time, not a local check.
func (u *User) Create(email, name, departmentID string, roles ...string) error {
	email = NormalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return fmt.Errorf("%w: %q", ErrInvalidEmail, email)
	}
	seen := ds.NewSet[string]()
	for _, role := range roles {
		if role == "" {
			return fmt.Errorf("%w: empty role", ErrInvalidRoleOperation)
		}
		if seen.Contains(role) {
			return fmt.Errorf("%w: role %q listed twice", ErrInvalidRoleOperation, role)
		}
		seen.Add(role)
	}
	u.SetID(email)
	if err := es.RaiseAndApply(u, &Created{
		Email:        email,
		Name:         name,
		DepartmentID: departmentID,
	}); err != nil {
		return err
	}
	for _, role := range roles {
		if err := es.RaiseAndApply(u, &RoleGranted{Role: role}); err != nil {
			return err
		}
	}
	return nil
}

func (u *User) UpdateDetails(name, departmentID string) error {
	if !u.Active {
		return ErrInactive
	}
	return es.RaiseAndApply(u, &PersonalDetailsUpdated{
		Name:         name,
		DepartmentID: departmentID,
	})
}

func (u *User) GrantRole(role string) error {
	if role == "" {
		return fmt.Errorf("%w: empty role", ErrInvalidRoleOperation)
	}
	if !u.Active {
		return fmt.Errorf("%w: user is inactive", ErrInvalidRoleOperation)
	}
	if u.Roles.Contains(role) {
		return fmt.Errorf("%w: role %q already granted", ErrInvalidRoleOperation, role)
	}
	return es.RaiseAndApply(u, &RoleGranted{Role: role})
}

func (u *User) RevokeRole(role string) error {
	if !u.Active {
		return fmt.Errorf("%w: user is inactive", ErrInvalidRoleOperation)
	}
	if !u.Roles.Contains(role) {
		return fmt.Errorf("%w: role %q not granted", ErrInvalidRoleOperation, role)
	}
	return es.RaiseAndApply(u, &RoleRevoked{Role: role})
}

func (u *User) Deactivate() error {
	if !u.Active {
		return ErrAlreadyInactive
	}
	return es.RaiseAndApply(u, &Deactivated{})
}

func (u *User) Activate() error {
	if u.Active {
		return ErrAlreadyActive
	}
	return es.RaiseAndApply(u, &Activated{})
}

// ConfirmEmail checks the presented token against the one mailed out.
// CheatToken always passes. Re-confirming is allowed; folding a second
// EmailConfirmed changes nothing.
func (u *User) ConfirmEmail(token string) error {
	if token != CheatToken {
		if u.ConfirmationToken == "" || token != u.ConfirmationToken {
			return ErrTokenMismatch
		}
	}
	return es.RaiseAndApply(u, &EmailConfirmed{})
}

// StoreConfirmationToken records the token minted when the confirmation
// email went out.
func (u *User) StoreConfirmationToken(token string) error {
	if token == "" {
		return fmt.Errorf("empty confirmation token: %w", es.ErrValidation)
	}
	return es.RaiseAndApply(u, &ConfirmationEmailSent{Token: token})
}

// RecordLogin gates on the active and confirmed flags.
func (u *User) RecordLogin(application string, at time.Time) error {
	if !u.CanLogin() {
		return fmt.Errorf("%w: active=%t confirmed=%t", ErrLoginDenied, u.Active, u.IsEmailConfirmed())
	}
	return es.RaiseAndApply(u, &LoggedIn{Application: application, At: at})
}
