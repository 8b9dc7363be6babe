package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"iepp.org/internal/apierr"
	"iepp.org/internal/audit"
	"iepp.org/internal/auth"
	"iepp.org/internal/directory"
	"iepp.org/internal/provision"
)

const createdMessage = "Usuario creado exitosamente."

type createUserResponse struct {
	UID       string `json:"uid"`
	Message   string `json:"message"`
	Recovered bool   `json:"recovered,omitempty"`
}

type profileView struct {
	UID            string     `json:"uid"`
	Email          string     `json:"email"`
	Role           string     `json:"role"`
	Department     string     `json:"department"`
	DepartmentName string     `json:"department_name"`
	Nombre         string     `json:"nombre"`
	Apellidos      string     `json:"apellidos"`
	CreatedAt      *time.Time `json:"created_at,omitempty"`
}

func newProfileView(p directory.Profile) profileView {
	v := profileView{
		UID:            p.UID,
		Email:          p.Email,
		Role:           p.Role,
		Department:     string(p.Department),
		DepartmentName: p.Department.DisplayName(),
		Nombre:         p.Nombre,
		Apellidos:      p.Apellidos,
	}
	if !p.CreatedAt.IsZero() {
		at := p.CreatedAt.UTC()
		v.CreatedAt = &at
	}
	return v
}

func (a *API) CreateUser(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	if a.deps.Provisioner == nil {
		writeAPIError(w, r, apierr.New(apierr.KindInternal, "provisioning is not configured"))
		return
	}
	var req provision.Request
	if err := decodeJSON(r, &req); err != nil {
		writeAPIError(w, r, err)
		return
	}

	res, err := a.deps.Provisioner.Provision(r.Context(), caller, req)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/users/"+res.UID)
	writeJSON(w, http.StatusCreated, createUserResponse{
		UID:       res.UID,
		Message:   createdMessage,
		Recovered: res.Recovered,
	})
}

// ListUsers returns profiles visible to the caller. Leaders only see their own
// department; admins and super leaders may filter by ?department=.
func (a *API) ListUsers(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	if !caller.Role.CanManageUsers() {
		writeAPIError(w, r, apierr.New(apierr.KindForbidden, "listing users requires leader role or above"))
		return
	}

	var dept directory.Department
	if raw := r.URL.Query().Get("department"); raw != "" {
		d, ok := directory.ParseDepartment(raw)
		if !ok {
			writeAPIError(w, r, apierr.Newf(apierr.KindInvalidDepartment, "unknown department %q", raw))
			return
		}
		dept = d
	}
	if caller.Role == auth.RoleLeader {
		own, err := a.callerDepartment(r.Context(), caller)
		if err != nil {
			writeAPIError(w, r, err)
			return
		}
		if dept != "" && dept != own {
			writeAPIError(w, r, apierr.New(apierr.KindForbidden, "leaders may only list their own department"))
			return
		}
		dept = own
	}

	var profiles []directory.Profile
	if dept != "" {
		profiles, err = a.profiles.ListByDepartment(r.Context(), dept)
	} else {
		profiles, err = a.profiles.List(r.Context())
	}
	if err != nil {
		writeAPIError(w, r, storeError(err))
		return
	}
	out := make([]profileView, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, newProfileView(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": out})
}

func (a *API) callerDepartment(ctx context.Context, caller auth.Caller) (directory.Department, error) {
	own, err := a.profiles.Get(ctx, caller.UID)
	if errors.Is(err, directory.ErrNotFound) {
		return "", apierr.New(apierr.KindForbidden, "caller has no department")
	}
	if err != nil {
		return "", storeError(err)
	}
	if !own.Department.Valid() {
		return "", apierr.New(apierr.KindForbidden, "caller has no department")
	}
	return own.Department, nil
}

func (a *API) GetUser(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	uid := chi.URLParam(r, "uid")
	if uid != caller.UID && !caller.Role.CanManageUsers() {
		writeAPIError(w, r, apierr.New(apierr.KindForbidden, "not allowed to view this user"))
		return
	}
	p, err := a.profiles.Get(r.Context(), uid)
	if err != nil {
		writeAPIError(w, r, storeError(err))
		return
	}
	writeJSON(w, http.StatusOK, newProfileView(p))
}

// DeleteUser removes the profile only. The identity record is left in place.
func (a *API) DeleteUser(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	uid := chi.URLParam(r, "uid")
	p, err := a.profiles.Get(r.Context(), uid)
	if err != nil {
		writeAPIError(w, r, storeError(err))
		return
	}
	if !canDelete(caller.Role, p.Role) {
		writeAPIError(w, r, apierr.Newf(apierr.KindForbidden, "role %q may not remove a %q profile", caller.Role.String(), p.Role))
		return
	}
	if err := a.profiles.Delete(r.Context(), uid); err != nil {
		writeAPIError(w, r, storeError(err))
		return
	}
	_ = audit.LogEvent(auth.ContextWithCaller(r.Context(), caller), "user.profile_deleted", map[string]any{
		"uid":   uid,
		"email": p.Email,
		"role":  p.Role,
	})
	w.WriteHeader(http.StatusNoContent)
}

// canDelete mirrors the creation policy. Profiles carrying an unknown role
// can only be removed by a super leader.
func canDelete(caller auth.Role, profileRole string) bool {
	role, ok := auth.ParseRole(profileRole)
	if !ok {
		return caller == auth.RoleSuperLeader
	}
	return auth.CanCreate(caller, role)
}

type meResponse struct {
	UID             string       `json:"uid"`
	Email           string       `json:"email"`
	Role            string       `json:"role"`
	AssignableRoles []string     `json:"assignable_roles"`
	CanManageUsers  bool         `json:"can_manage_users"`
	Profile         *profileView `json:"profile"`
}

func (a *API) Me(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	resp := meResponse{
		UID:             caller.UID,
		Email:           caller.Email,
		Role:            caller.Role.String(),
		AssignableRoles: []string{},
		CanManageUsers:  caller.Role.CanManageUsers(),
	}
	for _, role := range auth.AssignableRoles(caller.Role) {
		resp.AssignableRoles = append(resp.AssignableRoles, role.String())
	}
	p, err := a.profiles.Get(r.Context(), caller.UID)
	switch {
	case err == nil:
		v := newProfileView(p)
		resp.Profile = &v
	case !errors.Is(err, directory.ErrNotFound):
		writeAPIError(w, r, storeError(err))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func storeError(err error) error {
	switch {
	case errors.Is(err, directory.ErrNotFound), errors.Is(err, directory.ErrInvalidKey):
		return apierr.Wrap(err, apierr.KindNotFound, "user not found")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return apierr.Wrap(err, apierr.KindStoreUnavailable, "directory request cancelled")
	default:
		return apierr.Wrap(err, apierr.KindStoreUnavailable, "directory unavailable")
	}
}
