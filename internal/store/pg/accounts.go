package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"iepp.org/internal/identity"
)

// Accounts is the identity.AccountStore backed by the accounts table.
type Accounts struct {
	db *sql.DB
}

var _ identity.AccountStore = (*Accounts)(nil)

const accountColumns = `uid, email, display_name, password_hash, claims, created_at, updated_at`

func (a *Accounts) Insert(ctx context.Context, acct identity.Account) error {
	claims, err := encodeClaims(acct.Claims)
	if err != nil {
		return err
	}
	_, err = a.db.ExecContext(ctx, `
		insert into accounts(uid, email, display_name, password_hash, claims, created_at, updated_at)
		values ($1, $2, $3, $4, $5::jsonb, $6, $7)
	`, acct.UID, acct.Email, acct.DisplayName, acct.PasswordHash, claims, acct.CreatedAt, acct.UpdatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return identity.ErrEmailExists
		}
		return err
	}
	return nil
}

func (a *Accounts) FindByEmail(ctx context.Context, email string) (identity.Account, error) {
	row := a.db.QueryRowContext(ctx, `select `+accountColumns+` from accounts where lower(email) = lower($1)`, email)
	return scanAccount(row)
}

func (a *Accounts) Find(ctx context.Context, uid string) (identity.Account, error) {
	row := a.db.QueryRowContext(ctx, `select `+accountColumns+` from accounts where uid = $1`, uid)
	return scanAccount(row)
}

func (a *Accounts) UpdateClaims(ctx context.Context, uid string, claims identity.Claims, at time.Time) error {
	raw, err := encodeClaims(claims)
	if err != nil {
		return err
	}
	res, err := a.db.ExecContext(ctx, `
		update accounts set claims = $2::jsonb, updated_at = $3 where uid = $1
	`, uid, raw, at)
	if err != nil {
		return err
	}
	return requireRow(res, identity.ErrNotFound)
}

func (a *Accounts) Delete(ctx context.Context, uid string) error {
	res, err := a.db.ExecContext(ctx, `delete from accounts where uid = $1`, uid)
	if err != nil {
		return err
	}
	return requireRow(res, identity.ErrNotFound)
}

func scanAccount(row *sql.Row) (identity.Account, error) {
	var (
		acct      identity.Account
		rawClaims []byte
	)
	err := row.Scan(&acct.UID, &acct.Email, &acct.DisplayName, &acct.PasswordHash, &rawClaims, &acct.CreatedAt, &acct.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return identity.Account{}, identity.ErrNotFound
	}
	if err != nil {
		return identity.Account{}, err
	}
	if len(rawClaims) > 0 {
		if err := json.Unmarshal(rawClaims, &acct.Claims); err != nil {
			return identity.Account{}, fmt.Errorf("decode claims for %s: %w", acct.UID, err)
		}
	}
	return acct, nil
}

func encodeClaims(c identity.Claims) (string, error) {
	if c == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
