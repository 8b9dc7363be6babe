package directory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"iepp.org/internal/ids"
)

// CollectionPending holds registrations awaiting provisioning.
const CollectionPending = "pending_users"

const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
)

// PendingRegistration is an operator-vetted request to create a user.
type PendingRegistration struct {
	ID         string `yaml:"id,omitempty"`
	Email      string `yaml:"email"`
	Password   string `yaml:"password"`
	Role       string `yaml:"role"`
	Department string `yaml:"department"`
	Nombre     string `yaml:"nombre,omitempty"`
	Apellidos  string `yaml:"apellidos,omitempty"`
	Status     string `yaml:"-"`
	UID        string `yaml:"-"`
}

// DisplayName is "nombre apellidos" when present, else the local part of the email.
func (r PendingRegistration) DisplayName() string {
	name := strings.TrimSpace(strings.TrimSpace(r.Nombre) + " " + strings.TrimSpace(r.Apellidos))
	if name != "" {
		return name
	}
	local, _, _ := strings.Cut(strings.TrimSpace(r.Email), "@")
	return local
}

// ErrAlreadyQueued is returned by Add when the id is already taken. Existing
// records, completed ones included, are never overwritten.
var ErrAlreadyQueued = errors.New("directory: registration already queued")

// PendingRegistrations manages the pending_users collection.
type PendingRegistrations struct {
	store Store
}

func NewPendingRegistrations(store Store) *PendingRegistrations {
	return &PendingRegistrations{store: store}
}

// Add stores r as pending and returns its id. A blank id is generated.
func (p *PendingRegistrations) Add(ctx context.Context, r PendingRegistration) (string, error) {
	id := strings.TrimSpace(r.ID)
	if id == "" {
		id = ids.New()
	} else {
		_, err := p.store.Get(ctx, CollectionPending, id)
		switch {
		case err == nil:
			return "", fmt.Errorf("add pending registration %s: %w", id, ErrAlreadyQueued)
		case !errors.Is(err, ErrNotFound):
			return "", fmt.Errorf("add pending registration %s: %w", id, err)
		}
	}
	doc := Document{
		"email":      r.Email,
		"password":   r.Password,
		"role":       r.Role,
		"department": r.Department,
		"status":     StatusPending,
		"createdAt":  ServerTimestamp,
	}
	if r.Nombre != "" {
		doc["nombre"] = r.Nombre
	}
	if r.Apellidos != "" {
		doc["apellidos"] = r.Apellidos
	}
	if err := p.store.Put(ctx, CollectionPending, id, doc); err != nil {
		return "", fmt.Errorf("add pending registration: %w", err)
	}
	return id, nil
}

// ListPending returns registrations whose status is pending, ordered by id.
func (p *PendingRegistrations) ListPending(ctx context.Context) ([]PendingRegistration, error) {
	snaps, err := p.store.Query(ctx, CollectionPending, Eq("status", StatusPending))
	if err != nil {
		return nil, fmt.Errorf("query pending registrations: %w", err)
	}
	out := make([]PendingRegistration, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, PendingRegistration{
			ID:         s.ID,
			Email:      stringField(s.Data, "email"),
			Password:   stringField(s.Data, "password"),
			Role:       stringField(s.Data, "role"),
			Department: stringField(s.Data, "department"),
			Nombre:     stringField(s.Data, "nombre"),
			Apellidos:  stringField(s.Data, "apellidos"),
			Status:     stringField(s.Data, "status"),
			UID:        stringField(s.Data, "uid"),
		})
	}
	return out, nil
}

// MarkCompleted records the uid the registration produced. The stored
// password is cleared.
func (p *PendingRegistrations) MarkCompleted(ctx context.Context, id, uid string) error {
	err := p.store.Update(ctx, CollectionPending, id, Document{
		"status":      StatusCompleted,
		"uid":         uid,
		"password":    "",
		"completedAt": ServerTimestamp,
	})
	if err != nil {
		return fmt.Errorf("complete pending registration %s: %w", id, err)
	}
	return nil
}

// DecodePendingYAML reads a YAML sequence of registrations. Unknown keys are
// rejected and every entry needs an email.
func DecodePendingYAML(r io.Reader) ([]PendingRegistration, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var regs []PendingRegistration
	if err := dec.Decode(&regs); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("decode pending registrations: %w", err)
	}
	for i, reg := range regs {
		if strings.TrimSpace(reg.Email) == "" {
			return nil, fmt.Errorf("decode pending registrations: entry %d has no email", i)
		}
	}
	return regs, nil
}
