package directory

import (
	"context"
	"fmt"
	"time"
)

// CollectionUsers holds one profile per uid.
const CollectionUsers = "users"

// Profile is the directory's view of a user.
type Profile struct {
	UID        string
	Email      string
	Role       string
	Department Department
	Nombre     string
	Apellidos  string
	CreatedAt  time.Time
}

// FullName joins the first and last names.
func (p Profile) FullName() string {
	switch {
	case p.Nombre == "":
		return p.Apellidos
	case p.Apellidos == "":
		return p.Nombre
	}
	return p.Nombre + " " + p.Apellidos
}

// Profiles reads and writes profiles in the users collection.
type Profiles struct {
	store Store
}

func NewProfiles(store Store) *Profiles {
	return &Profiles{store: store}
}

// Put writes p with a server-assigned createdAt.
func (p *Profiles) Put(ctx context.Context, profile Profile) error {
	doc := Document{
		"uid":        profile.UID,
		"email":      profile.Email,
		"role":       profile.Role,
		"department": string(profile.Department),
		"nombre":     profile.Nombre,
		"apellidos":  profile.Apellidos,
		"createdAt":  ServerTimestamp,
	}
	if err := p.store.Put(ctx, CollectionUsers, profile.UID, doc); err != nil {
		return fmt.Errorf("put profile %s: %w", profile.UID, err)
	}
	return nil
}

func (p *Profiles) Get(ctx context.Context, uid string) (Profile, error) {
	snap, err := p.store.Get(ctx, CollectionUsers, uid)
	if err != nil {
		return Profile{}, fmt.Errorf("get profile %s: %w", uid, err)
	}
	return profileFromSnapshot(snap), nil
}

// List returns every profile ordered by uid.
func (p *Profiles) List(ctx context.Context) ([]Profile, error) {
	return p.query(ctx)
}

func (p *Profiles) ListByDepartment(ctx context.Context, dept Department) ([]Profile, error) {
	return p.query(ctx, Eq("department", string(dept)))
}

func (p *Profiles) Delete(ctx context.Context, uid string) error {
	if err := p.store.Delete(ctx, CollectionUsers, uid); err != nil {
		return fmt.Errorf("delete profile %s: %w", uid, err)
	}
	return nil
}

func (p *Profiles) query(ctx context.Context, filters ...Filter) ([]Profile, error) {
	snaps, err := p.store.Query(ctx, CollectionUsers, filters...)
	if err != nil {
		return nil, fmt.Errorf("query profiles: %w", err)
	}
	out := make([]Profile, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, profileFromSnapshot(s))
	}
	return out, nil
}

func profileFromSnapshot(s Snapshot) Profile {
	uid := stringField(s.Data, "uid")
	if uid == "" {
		uid = s.ID
	}
	return Profile{
		UID:        uid,
		Email:      stringField(s.Data, "email"),
		Role:       stringField(s.Data, "role"),
		Department: Department(stringField(s.Data, "department")),
		Nombre:     stringField(s.Data, "nombre"),
		Apellidos:  stringField(s.Data, "apellidos"),
		CreatedAt:  timeField(s.Data, "createdAt"),
	}
}
