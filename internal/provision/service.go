// Package provision creates users across the identity provider and the
// directory: validation, authorization, then account creation, claims
// assignment and profile write with compensation on failure.
package provision

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"iepp.org/internal/apierr"
	"iepp.org/internal/audit"
	"iepp.org/internal/auth"
	"iepp.org/internal/directory"
	"iepp.org/internal/identity"
	"iepp.org/internal/obs"
)

// DuplicatePolicy decides what happens when the email is already registered.
type DuplicatePolicy int

const (
	// RecoverDuplicates continues with the existing account.
	RecoverDuplicates DuplicatePolicy = iota
	// SurfaceDuplicates fails with EMAIL_ALREADY_REGISTERED.
	SurfaceDuplicates
)

const defaultCompensationTimeout = 10 * time.Second

const (
	sourceAPI   = "api"
	sourceBatch = "batch"
)

// Result describes a successful provisioning.
type Result struct {
	UID string
	// Recovered is set when the account already existed.
	Recovered bool
}

// Service provisions users.
type Service struct {
	provider            identity.Provider
	store               directory.Store
	profiles            *directory.Profiles
	duplicates          DuplicatePolicy
	compensationTimeout time.Duration
	log                 *slog.Logger
}

// Option configures Service.
type Option func(*Service)

func WithDuplicatePolicy(p DuplicatePolicy) Option {
	return func(s *Service) { s.duplicates = p }
}

// WithCompensationTimeout bounds the time spent undoing a failed provisioning.
func WithCompensationTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.compensationTimeout = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// New builds a Service over the given provider and directory store.
func New(provider identity.Provider, store directory.Store, opts ...Option) *Service {
	s := &Service{
		provider:            provider,
		store:               store,
		profiles:            directory.NewProfiles(store),
		compensationTimeout: defaultCompensationTimeout,
		log:                 obs.Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Provision validates req, checks that caller may grant the requested role
// and creates the user. Validation and authorization fail before any
// external call.
func (s *Service) Provision(ctx context.Context, caller auth.Caller, req Request) (res Result, err error) {
	defer func() { recordOutcome(sourceAPI, res, err) }()

	req, dept, err := validate(req, true)
	if err != nil {
		return Result{}, err
	}
	role, _ := auth.ParseRole(req.Role)
	if !auth.CanCreate(caller.Role, role) {
		s.log.WarnContext(ctx, "provision denied",
			"caller_uid", caller.UID, "caller_role", caller.Role.String(), "requested_role", req.Role)
		return Result{}, apierr.Newf(apierr.KindForbidden, "role %q may not create role %q", caller.Role.String(), req.Role)
	}

	res, err = s.execute(ctx, plan{
		email:       req.Email,
		password:    req.Password,
		displayName: req.DisplayName(),
		role:        role,
		profile: directory.Profile{
			Email:      req.Email,
			Role:       role.String(),
			Department: dept,
			Nombre:     req.Nombre,
			Apellidos:  req.Apellidos,
		},
		duplicates: s.duplicates,
		guard: func(existing identity.Account) error {
			current := existing.Claims.Role()
			if current == "" {
				return nil
			}
			if r, _ := auth.ParseRole(current); !auth.CanCreate(caller.Role, r) {
				return apierr.Newf(apierr.KindForbidden, "existing account holds role %q", current)
			}
			return nil
		},
	})
	if err != nil {
		return Result{}, err
	}
	_ = audit.LogEvent(ctx, "user.provisioned", map[string]any{
		"uid":        res.UID,
		"email":      req.Email,
		"role":       role.String(),
		"department": string(dept),
		"recovered":  res.Recovered,
	})
	return res, nil
}

// plan is the input of the provisioning saga.
type plan struct {
	email       string
	password    string
	displayName string
	role        auth.Role
	profile     directory.Profile
	duplicates  DuplicatePolicy
	// guard vets an existing account before its claims are overwritten.
	guard func(identity.Account) error
}

func (s *Service) execute(ctx context.Context, p plan) (Result, error) {
	var (
		acct    identity.Account
		created bool
	)
	sg := &saga{
		timeout: s.compensationTimeout,
		log:     s.log,
		steps: []step{
			{
				name: "create_account",
				run: func(ctx context.Context) error {
					var err error
					acct, created, err = s.createOrRecover(ctx, p)
					return err
				},
				compensate: func(ctx context.Context) error {
					return s.provider.DeleteAccount(ctx, acct.UID)
				},
				undoIf: func() bool { return created },
			},
			{
				name: "set_claims",
				run: func(ctx context.Context) error {
					if err := s.provider.SetClaims(ctx, acct.UID, identity.Claims{identity.ClaimRole: p.role.String()}); err != nil {
						return claimsError(err)
					}
					return nil
				},
			},
			{
				name: "write_profile",
				run: func(ctx context.Context) error {
					profile := p.profile
					profile.UID = acct.UID
					if acct.Email != "" {
						profile.Email = acct.Email
					}
					return s.profiles.Put(ctx, profile)
				},
				tolerate: true,
			},
		},
	}
	if err := sg.run(ctx); err != nil {
		return Result{}, err
	}
	return Result{UID: acct.UID, Recovered: !created}, nil
}

// createOrRecover returns the account the rest of the saga works on, with
// the email as the provider stored it.
func (s *Service) createOrRecover(ctx context.Context, p plan) (identity.Account, bool, error) {
	acct, err := s.provider.CreateAccount(ctx, identity.NewAccount{
		Email:       p.email,
		Password:    p.password,
		DisplayName: p.displayName,
	})
	if err == nil {
		return acct, true, nil
	}
	if !errors.Is(err, identity.ErrEmailExists) {
		return identity.Account{}, false, providerError(err, "failed to create account")
	}
	if p.duplicates == SurfaceDuplicates {
		return identity.Account{}, false, apierr.Wrap(err, apierr.KindEmailAlreadyRegistered, "email already registered")
	}

	existing, err := s.provider.LookupByEmail(ctx, p.email)
	if err != nil {
		return identity.Account{}, false, providerError(err, "failed to look up existing account")
	}
	if p.guard != nil {
		if err := p.guard(existing); err != nil {
			return identity.Account{}, false, err
		}
	}
	s.log.InfoContext(ctx, "account already exists, continuing", "uid", existing.UID)
	return existing, false, nil
}
