package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/codewandler/userstream-go/core/es"
	"github.com/codewandler/userstream-go/core/perkey"
	"github.com/codewandler/userstream-go/core/sf"
)

// Service is the command pipeline in front of the user aggregate:
// commands for the same address are serialized in-process, reads for the
// same address share one replay, and lost optimistic-concurrency races
// are retried against the fresh state when opted in. The store's
// conditional append stays the cross-process arbiter either way.
type Service struct {
	log             *slog.Logger
	repo            es.TypedRepository[*User]
	sched           *perkey.Scheduler[string]
	reads           *sf.Singleflight[User]
	conflictRetries int
	loadOpts        []es.LoadOption
}

type ServiceOption func(*Service)

// WithConflictRetries makes commands that lose the optimistic-
// concurrency race re-validate against the fresh state up to n times.
// Creation is never retried: a duplicate identity cannot resolve itself.
func WithConflictRetries(n int) ServiceOption {
	return func(s *Service) { s.conflictRetries = n }
}

// WithSnapshotReads hydrates from the latest snapshot where one exists.
func WithSnapshotReads() ServiceOption {
	return func(s *Service) { s.loadOpts = append(s.loadOpts, es.WithSnapshot(true)) }
}

func NewService(log *slog.Logger, repo es.TypedRepository[*User], opts ...ServiceOption) *Service {
	s := &Service{
		log:   log.With(slog.String("service", "user")),
		repo:  repo,
		sched: perkey.New[string](),
		reads: sf.New[User](),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close drains the per-address command queues.
func (s *Service) Close() { s.sched.Close() }

// Create starts a new user stream. The email's uniqueness is enforced by
// the store, not by a lookup: the first event commits with the no-stream
// guard, a second writer for the same address gets ErrDuplicateIdentity.
func (s *Service) Create(ctx context.Context, email, name, departmentID string, roles ...string) (View, error) {
	var v View
	err := s.sched.DoContext(ctx, NormalizeEmail(email), func() error {
		u := New(email)
		if err := u.Create(email, name, departmentID, roles...); err != nil {
			return err
		}
		if err := s.repo.Save(ctx, u); err != nil {
			if errors.Is(err, es.ErrStreamExists) {
				return fmt.Errorf("%w: %s", ErrDuplicateIdentity, u.GetID())
			}
			return err
		}
		s.log.Info("user created", slog.String("email", u.GetID()))
		v = u.View()
		return nil
	})
	return v, err
}

// Get reads one user's current state. Concurrent reads for the same
// address share a single replay.
func (s *Service) Get(ctx context.Context, email string) (View, error) {
	id := NormalizeEmail(email)
	u, err := s.reads.Do(id, func() (*User, error) {
		return s.repo.GetByID(ctx, id, s.loadOpts...)
	})
	if err != nil {
		return View{}, err
	}
	return u.View(), nil
}

func (s *Service) UpdateDetails(ctx context.Context, email, name, departmentID string) (View, error) {
	return s.update(ctx, email, func(u *User) error {
		return u.UpdateDetails(name, departmentID)
	})
}

func (s *Service) GrantRole(ctx context.Context, email, role string) (View, error) {
	return s.update(ctx, email, func(u *User) error {
		return u.GrantRole(role)
	})
}

func (s *Service) RevokeRole(ctx context.Context, email, role string) (View, error) {
	return s.update(ctx, email, func(u *User) error {
		return u.RevokeRole(role)
	})
}

func (s *Service) Deactivate(ctx context.Context, email string) (View, error) {
	return s.update(ctx, email, (*User).Deactivate)
}

func (s *Service) Activate(ctx context.Context, email string) (View, error) {
	return s.update(ctx, email, (*User).Activate)
}

func (s *Service) ConfirmEmail(ctx context.Context, email, token string) (View, error) {
	return s.update(ctx, email, func(u *User) error {
		return u.ConfirmEmail(token)
	})
}

// StoreConfirmationToken is called by the confirmation reactor after it
// mailed a token out.
func (s *Service) StoreConfirmationToken(ctx context.Context, email, token string) (View, error) {
	return s.update(ctx, email, func(u *User) error {
		return u.StoreConfirmationToken(token)
	})
}

func (s *Service) Login(ctx context.Context, email, application string, at time.Time) (View, error) {
	return s.update(ctx, email, func(u *User) error {
		return u.RecordLogin(application, at)
	})
}

// Snapshot captures and stores the user's current state as a hydration
// baseline.
func (s *Service) Snapshot(ctx context.Context, email string) (*es.Snapshot, error) {
	u, err := s.repo.GetByID(ctx, NormalizeEmail(email), s.loadOpts...)
	if err != nil {
		return nil, err
	}
	return s.repo.CreateSnapshot(ctx, u)
}

// update runs one command against the hydrated aggregate and saves. A
// validation failure is final; a lost concurrency race reloads and
// re-validates when retries are enabled.
func (s *Service) update(ctx context.Context, email string, cmd func(*User) error) (View, error) {
	id := NormalizeEmail(email)
	var v View
	err := s.sched.DoContext(ctx, id, func() error {
		for attempt := 0; ; attempt++ {
			u, err := s.repo.GetByID(ctx, id, s.loadOpts...)
			if err != nil {
				return err
			}
			if err := cmd(u); err != nil {
				return err
			}
			err = s.repo.Save(ctx, u)
			if err == nil {
				v = u.View()
				return nil
			}
			if !errors.Is(err, es.ErrConcurrencyConflict) || attempt >= s.conflictRetries {
				return err
			}
			s.log.Warn("command lost concurrency race, retrying",
				slog.String("email", id),
				slog.Int("attempt", attempt+1),
			)
		}
	})
	return v, err
}
