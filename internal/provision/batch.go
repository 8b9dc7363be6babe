package provision

import (
	"context"
	"log/slog"

	"iepp.org/internal/apierr"
	"iepp.org/internal/auth"
	"iepp.org/internal/directory"
)

// Report summarises one batch run.
type Report struct {
	Seen      int `json:"seen"`
	Created   int `json:"created"`
	Recovered int `json:"recovered"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// Consumer provisions operator-vetted pending registrations. It is a
// trusted path: records are validated but not authorized against a caller.
type Consumer struct {
	svc     *Service
	pending *directory.PendingRegistrations
	log     *slog.Logger
}

// NewConsumer reads pending registrations from the service's directory store.
func NewConsumer(svc *Service) *Consumer {
	return &Consumer{
		svc:     svc,
		pending: directory.NewPendingRegistrations(svc.store),
		log:     svc.log,
	}
}

// Run processes every pending registration sequentially. Per-record failures
// are logged and counted; only a failing initial query or cancellation ends
// the run early.
func (c *Consumer) Run(ctx context.Context) (Report, error) {
	var rep Report
	regs, err := c.pending.ListPending(ctx)
	if err != nil {
		return rep, apierr.Wrap(err, apierr.KindStoreUnavailable, "failed to query pending registrations")
	}
	if len(regs) == 0 {
		c.log.InfoContext(ctx, "no pending registrations")
		return rep, nil
	}

	for _, reg := range regs {
		if err := ctx.Err(); err != nil {
			c.log.WarnContext(ctx, "batch interrupted", "processed", rep.Seen, "remaining", len(regs)-rep.Seen)
			return rep, err
		}
		rep.Seen++
		if reg.Status != "" && reg.Status != directory.StatusPending {
			rep.Skipped++
			continue
		}

		res, err := c.process(ctx, reg)
		recordOutcome(sourceBatch, res, err)
		if err != nil {
			rep.Failed++
			c.log.ErrorContext(ctx, "pending registration failed",
				"id", reg.ID, "email", reg.Email, "code", string(apierr.KindOf(err)), "error", err)
			continue
		}
		if res.Recovered {
			rep.Recovered++
		} else {
			rep.Created++
		}
		c.log.InfoContext(ctx, "pending registration completed", "id", reg.ID, "uid", res.UID, "recovered", res.Recovered)
	}
	c.log.InfoContext(ctx, "batch finished",
		"seen", rep.Seen, "created", rep.Created, "recovered", rep.Recovered, "skipped", rep.Skipped, "failed", rep.Failed)
	return rep, nil
}

func (c *Consumer) process(ctx context.Context, reg directory.PendingRegistration) (Result, error) {
	req, dept, err := validate(Request{
		Email:      reg.Email,
		Password:   reg.Password,
		Role:       reg.Role,
		Department: reg.Department,
		Nombre:     reg.Nombre,
		Apellidos:  reg.Apellidos,
	}, false)
	if err != nil {
		return Result{}, err
	}
	role, ok := auth.ParseRole(req.Role)
	if !ok {
		return Result{}, apierr.Newf(apierr.KindInvalidRequest, "unknown role %q", req.Role)
	}

	res, err := c.svc.execute(ctx, plan{
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
		duplicates: RecoverDuplicates,
	})
	if err != nil {
		return Result{}, err
	}
	if err := c.pending.MarkCompleted(ctx, reg.ID, res.UID); err != nil {
		return res, apierr.Wrap(err, apierr.KindStoreUnavailable, "failed to mark registration completed")
	}
	return res, nil
}
