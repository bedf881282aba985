package user_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/userstream-go/core/es"
	"github.com/codewandler/userstream-go/user"
)

func createdUser(t *testing.T, email string) *user.User {
	t.Helper()
	u := user.New(email)
	require.NoError(t, u.Create(email, "Jane Doe", "dep-1"))
	return u
}

func TestUser_Create(t *testing.T) {
	u := createdUser(t, "Jane.Doe@Corp.com")

	require.Equal(t, "jane.doe@corp.com", u.GetID())
	require.Equal(t, "jane.doe@corp.com", u.Email)
	require.Equal(t, "Jane Doe", u.Name)
	require.Equal(t, "dep-1", u.DepartmentID)
	require.True(t, u.Active)
	require.False(t, u.IsEmailConfirmed())
	require.Len(t, u.Uncommitted(), 1)
}

func TestUser_Create_WithInitialRoles(t *testing.T) {
	u := user.New("a@x.com")
	require.NoError(t, u.Create("a@x.com", "Jane", "dep-1", "admin", "auditor"))

	require.Equal(t, []string{"admin", "auditor"}, u.Roles.Values())
	// one Created plus one RoleGranted per role
	require.Len(t, u.Uncommitted(), 3)
}

func TestUser_Create_BadInitialRolesRaiseNothing(t *testing.T) {
	u := user.New("a@x.com")
	err := u.Create("a@x.com", "Jane", "", "admin", "admin")
	require.ErrorIs(t, err, user.ErrInvalidRoleOperation)
	require.Empty(t, u.Uncommitted())

	err = u.Create("a@x.com", "Jane", "", "")
	require.ErrorIs(t, err, user.ErrInvalidRoleOperation)
	require.Empty(t, u.Uncommitted())
}

func TestUser_Create_InvalidEmail(t *testing.T) {
	for _, email := range []string{"", "   ", "not-an-address"} {
		u := user.New(email)
		err := u.Create(email, "x", "")
		require.ErrorIs(t, err, user.ErrInvalidEmail)
		require.ErrorIs(t, err, es.ErrValidation)
		require.Empty(t, u.Uncommitted())
	}
}

func TestUser_Roles(t *testing.T) {
	u := createdUser(t, "a@x.com")

	require.NoError(t, u.GrantRole("admin"))
	require.NoError(t, u.GrantRole("auditor"))
	require.ErrorIs(t, u.GrantRole("admin"), user.ErrInvalidRoleOperation)
	require.ErrorIs(t, u.GrantRole(""), user.ErrInvalidRoleOperation)

	require.NoError(t, u.RevokeRole("admin"))
	require.ErrorIs(t, u.RevokeRole("admin"), user.ErrInvalidRoleOperation)

	require.Equal(t, []string{"auditor"}, u.Roles.Values())
}

func TestUser_Roles_GrantOrderSurvivesRegrant(t *testing.T) {
	u := createdUser(t, "a@x.com")

	require.NoError(t, u.GrantRole("r1"))
	require.NoError(t, u.GrantRole("r2"))
	require.NoError(t, u.RevokeRole("r1"))
	require.NoError(t, u.GrantRole("r1"))

	require.Equal(t, []string{"r2", "r1"}, u.Roles.Values())
}

func TestUser_InactiveBlocksProfileAndRoleCommands(t *testing.T) {
	u := createdUser(t, "a@x.com")
	require.NoError(t, u.GrantRole("admin"))
	require.NoError(t, u.Deactivate())

	require.ErrorIs(t, u.UpdateDetails("New Name", "dep-2"), user.ErrInactive)
	require.ErrorIs(t, u.GrantRole("auditor"), user.ErrInvalidRoleOperation)
	require.ErrorIs(t, u.RevokeRole("admin"), user.ErrInvalidRoleOperation)

	require.NoError(t, u.Activate())
	require.NoError(t, u.UpdateDetails("New Name", "dep-2"))
	require.NoError(t, u.RevokeRole("admin"))
}

func TestUser_ActivateDeactivate(t *testing.T) {
	u := createdUser(t, "a@x.com")

	require.ErrorIs(t, u.Activate(), user.ErrAlreadyActive)
	require.NoError(t, u.Deactivate())
	require.False(t, u.Active)
	require.ErrorIs(t, u.Deactivate(), user.ErrAlreadyInactive)
	require.NoError(t, u.Activate())
	require.True(t, u.Active)
}

func TestUser_ConfirmEmail(t *testing.T) {
	t.Run("minted token", func(t *testing.T) {
		u := createdUser(t, "a@x.com")
		require.NoError(t, u.StoreConfirmationToken("tok-1"))

		require.ErrorIs(t, u.ConfirmEmail("wrong"), user.ErrTokenMismatch)
		require.NoError(t, u.ConfirmEmail("tok-1"))
		require.True(t, u.IsEmailConfirmed())
	})

	t.Run("re-confirmation passes with a valid token", func(t *testing.T) {
		u := createdUser(t, "a@x.com")
		require.NoError(t, u.StoreConfirmationToken("tok-1"))
		require.NoError(t, u.ConfirmEmail("tok-1"))

		require.NoError(t, u.ConfirmEmail("tok-1"))
		require.NoError(t, u.ConfirmEmail(user.CheatToken))
		require.ErrorIs(t, u.ConfirmEmail("wrong"), user.ErrTokenMismatch)
		require.True(t, u.IsEmailConfirmed())
	})

	t.Run("no token minted yet", func(t *testing.T) {
		u := createdUser(t, "a@x.com")
		require.ErrorIs(t, u.ConfirmEmail("anything"), user.ErrTokenMismatch)
	})

	t.Run("cheat token bypasses", func(t *testing.T) {
		u := createdUser(t, "a@x.com")
		require.NoError(t, u.ConfirmEmail(user.CheatToken))
		require.True(t, u.IsEmailConfirmed())
	})
}

func TestUser_LoginGating(t *testing.T) {
	u := createdUser(t, "a@x.com")
	at := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	// active but unconfirmed
	require.ErrorIs(t, u.RecordLogin("portal", at), user.ErrLoginDenied)

	require.NoError(t, u.ConfirmEmail(user.CheatToken))
	require.NoError(t, u.RecordLogin("portal", at))
	require.Equal(t, at, u.LastLogins["portal"])

	require.NoError(t, u.Deactivate())
	require.ErrorIs(t, u.RecordLogin("portal", at), user.ErrLoginDenied)
}

func TestUser_FailedCommandRaisesNothing(t *testing.T) {
	u := createdUser(t, "a@x.com")
	before := len(u.Uncommitted())

	require.Error(t, u.GrantRole(""))
	require.Error(t, u.RecordLogin("portal", time.Now()))
	require.Len(t, u.Uncommitted(), before)
}

func TestUser_ReplayIsDeterministic(t *testing.T) {
	u := createdUser(t, "a@x.com")
	require.NoError(t, u.GrantRole("admin"))
	require.NoError(t, u.ConfirmEmail(user.CheatToken))
	require.NoError(t, u.UpdateDetails("Jane D.", "dep-2"))
	require.NoError(t, u.RecordLogin("portal", time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)))

	replayed := user.New("a@x.com")
	for _, e := range u.Uncommitted() {
		require.NoError(t, replayed.Apply(e))
	}

	require.Equal(t, u.Email, replayed.Email)
	require.Equal(t, u.Name, replayed.Name)
	require.Equal(t, u.DepartmentID, replayed.DepartmentID)
	require.Equal(t, u.Active, replayed.Active)
	require.Equal(t, u.IsEmailConfirmed(), replayed.IsEmailConfirmed())
	require.Equal(t, u.Roles.Values(), replayed.Roles.Values())
	require.Equal(t, u.LastLogins, replayed.LastLogins)
}

func TestEmailFromStreamID(t *testing.T) {
	email, ok := user.EmailFromStreamID("user-jane@corp.com")
	require.True(t, ok)
	require.Equal(t, "jane@corp.com", email)

	_, ok = user.EmailFromStreamID("order-42")
	require.False(t, ok)
}
