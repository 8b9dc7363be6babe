package provision

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"iepp.org/internal/apierr"
	"iepp.org/internal/directory"
)

// MinPasswordLength is the shortest accepted password, in characters.
const MinPasswordLength = 6

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Request is a provisioning request as submitted by a caller.
type Request struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	Role       string `json:"role"`
	Department string `json:"department"`
	Nombre     string `json:"nombre"`
	Apellidos  string `json:"apellidos"`
}

// DisplayName is "nombre apellidos" when present, else the local part of the email.
func (r Request) DisplayName() string {
	return directory.PendingRegistration{Email: r.Email, Nombre: r.Nombre, Apellidos: r.Apellidos}.DisplayName()
}

// validate checks r without I/O and returns it trimmed, with the role
// lower-cased. Names are only required when requireNames is set. The
// password is never trimmed.
func validate(r Request, requireNames bool) (Request, directory.Department, error) {
	r.Email = strings.TrimSpace(r.Email)
	r.Role = strings.ToLower(strings.TrimSpace(r.Role))
	r.Department = strings.TrimSpace(r.Department)
	r.Nombre = strings.TrimSpace(r.Nombre)
	r.Apellidos = strings.TrimSpace(r.Apellidos)

	var missing []string
	for _, f := range []struct {
		name, value string
		required    bool
	}{
		{"email", r.Email, true},
		{"password", strings.TrimSpace(r.Password), true},
		{"role", r.Role, true},
		{"department", r.Department, true},
		{"nombre", r.Nombre, requireNames},
		{"apellidos", r.Apellidos, requireNames},
	} {
		if f.required && f.value == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return r, "", apierr.Newf(apierr.KindMissingFields, "missing required fields: %s", strings.Join(missing, ", "))
	}
	if !emailPattern.MatchString(r.Email) {
		return r, "", apierr.New(apierr.KindInvalidEmail, "invalid email format")
	}
	if utf8.RuneCountInString(r.Password) < MinPasswordLength {
		return r, "", apierr.Newf(apierr.KindWeakPassword, "password must be at least %d characters", MinPasswordLength)
	}
	dept, ok := directory.ParseDepartment(r.Department)
	if !ok {
		return r, "", apierr.Newf(apierr.KindInvalidDepartment, "unknown department %q", r.Department)
	}
	r.Department = string(dept)
	return r, dept, nil
}
