package provision

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iepp.org/internal/apierr"
	"iepp.org/internal/auth"
	"iepp.org/internal/directory"
	"iepp.org/internal/identity"
)

var (
	superLeader = auth.Caller{UID: "root", Role: auth.RoleSuperLeader}
	admin       = auth.Caller{UID: "adm", Role: auth.RoleAdmin}
	leader      = auth.Caller{UID: "ldr", Role: auth.RoleLeader}
)

func memberRequest() Request {
	return Request{
		Email:      "maria@iglesia.org",
		Password:   "secret1",
		Role:       "member",
		Department: "ministerio-damas",
		Nombre:     "María",
		Apellidos:  "López",
	}
}

func TestProvisionCreatesUser(t *testing.T) {
	ctx := context.Background()
	svc, prov, store := newTestService(t)

	res, err := svc.Provision(ctx, leader, memberRequest())
	require.NoError(t, err)
	assert.NotEmpty(t, res.UID)
	assert.False(t, res.Recovered)

	acct, err := prov.LookupByEmail(ctx, "maria@iglesia.org")
	require.NoError(t, err)
	assert.Equal(t, res.UID, acct.UID)
	assert.Equal(t, "member", acct.Claims.Role())
	assert.Equal(t, "María López", acct.DisplayName)

	profile, err := directory.NewProfiles(store).Get(ctx, res.UID)
	require.NoError(t, err)
	assert.Equal(t, "maria@iglesia.org", profile.Email)
	assert.Equal(t, "member", profile.Role)
	assert.Equal(t, directory.DeptDamas, profile.Department)
	assert.False(t, profile.CreatedAt.IsZero())
}

func TestProvisionStoresCanonicalEmailAndRole(t *testing.T) {
	ctx := context.Background()
	svc, prov, store := newTestService(t)
	profiles := directory.NewProfiles(store)

	req := memberRequest()
	req.Email = "  Maria@Iglesia.ORG "
	req.Role = " Member "
	res, err := svc.Provision(ctx, leader, req)
	require.NoError(t, err)

	acct, err := prov.LookupByEmail(ctx, "maria@iglesia.org")
	require.NoError(t, err)
	assert.Equal(t, "member", acct.Claims.Role())

	profile, err := profiles.Get(ctx, res.UID)
	require.NoError(t, err)
	assert.Equal(t, "maria@iglesia.org", profile.Email)
	assert.Equal(t, "member", profile.Role)

	byEmail, err := store.Query(ctx, directory.CollectionUsers, directory.Eq("email", acct.Email))
	require.NoError(t, err)
	require.Len(t, byEmail, 1)

	req.Email = "MARIA@iglesia.org"
	again, err := svc.Provision(ctx, leader, req)
	require.NoError(t, err)
	assert.True(t, again.Recovered)
	profile, err = profiles.Get(ctx, again.UID)
	require.NoError(t, err)
	assert.Equal(t, "maria@iglesia.org", profile.Email)
}

func TestProvisionIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc, prov, _ := newTestService(t)

	first, err := svc.Provision(ctx, leader, memberRequest())
	require.NoError(t, err)
	second, err := svc.Provision(ctx, leader, memberRequest())
	require.NoError(t, err)

	assert.Equal(t, first.UID, second.UID)
	assert.True(t, second.Recovered)
	assert.Equal(t, 1, prov.accounts.Len())
}

func TestProvisionSurfacesDuplicatesWhenConfigured(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t, WithDuplicatePolicy(SurfaceDuplicates))

	_, err := svc.Provision(ctx, leader, memberRequest())
	require.NoError(t, err)
	_, err = svc.Provision(ctx, leader, memberRequest())
	assert.Equal(t, apierr.KindEmailAlreadyRegistered, apierr.KindOf(err))
}

func TestProvisionRecoveryCannotDowngradeHigherRole(t *testing.T) {
	ctx := context.Background()
	svc, prov, _ := newTestService(t)

	req := memberRequest()
	req.Role = "admin"
	_, err := svc.Provision(ctx, superLeader, req)
	require.NoError(t, err)

	req.Role = "member"
	_, err = svc.Provision(ctx, leader, req)
	assert.Equal(t, apierr.KindForbidden, apierr.KindOf(err))

	acct, err := prov.LookupByEmail(ctx, req.Email)
	require.NoError(t, err)
	assert.Equal(t, "admin", acct.Claims.Role(), "claims must be untouched")
}

func TestProvisionClaimsFailureCompensates(t *testing.T) {
	ctx := context.Background()
	svc, prov, store := newTestService(t)
	prov.claimsErr = errors.New("claims backend down")

	_, err := svc.Provision(ctx, leader, memberRequest())
	assert.Equal(t, apierr.KindClaimsAssignmentFailed, apierr.KindOf(err))
	assert.Equal(t, 1, prov.deleteCalls)
	assert.Zero(t, prov.accounts.Len(), "account created in this call must be deleted")
	assert.Zero(t, store.Count(directory.CollectionUsers), "no profile may exist")
}

func TestProvisionClaimsFailureKeepsRecoveredAccount(t *testing.T) {
	ctx := context.Background()
	svc, prov, _ := newTestService(t)
	_, err := svc.Provision(ctx, leader, memberRequest())
	require.NoError(t, err)

	prov.claimsErr = errors.New("claims backend down")
	_, err = svc.Provision(ctx, leader, memberRequest())
	assert.Equal(t, apierr.KindClaimsAssignmentFailed, apierr.KindOf(err))
	assert.Zero(t, prov.deleteCalls, "pre-existing account must not be deleted")
	assert.Equal(t, 1, prov.accounts.Len())
}

func TestProvisionCompensationFailureStillReportsClaimsFailure(t *testing.T) {
	svc, prov, _ := newTestService(t)
	prov.claimsErr = errors.New("claims backend down")
	prov.deleteErr = errors.New("delete failed too")

	_, err := svc.Provision(context.Background(), leader, memberRequest())
	assert.Equal(t, apierr.KindClaimsAssignmentFailed, apierr.KindOf(err))
	assert.Equal(t, 1, prov.deleteCalls)
}

func TestProvisionCompensationSurvivesCallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	svc, prov, _ := newTestService(t)
	prov.claimsErr = errors.New("claims backend down")
	prov.onClaims = cancel

	_, err := svc.Provision(ctx, leader, memberRequest())
	assert.Equal(t, apierr.KindClaimsAssignmentFailed, apierr.KindOf(err))
	assert.NoError(t, prov.observedDeleteCtx, "compensation must not inherit the caller's cancellation")
	assert.Zero(t, prov.accounts.Len())
}

func TestProvisionTransientClaimsFailureIsRetryable(t *testing.T) {
	for name, cause := range map[string]error{
		"deadline":    context.DeadlineExceeded,
		"canceled":    context.Canceled,
		"unavailable": identity.ErrUnavailable,
	} {
		t.Run(name, func(t *testing.T) {
			svc, prov, store := newTestService(t)
			prov.claimsErr = cause

			_, err := svc.Provision(context.Background(), leader, memberRequest())
			assert.Equal(t, apierr.KindProviderUnavailable, apierr.KindOf(err))
			assert.ErrorIs(t, err, cause)
			assert.Equal(t, 1, prov.deleteCalls)
			assert.Zero(t, prov.accounts.Len(), "account created in this call must be deleted")
			assert.Zero(t, store.Count(directory.CollectionUsers))
		})
	}
}

func TestProvisionProfileFailureIsTolerated(t *testing.T) {
	ctx := context.Background()
	svc, prov, store := newTestService(t)
	store.putErr = errors.New("store down")

	res, err := svc.Provision(ctx, leader, memberRequest())
	require.NoError(t, err)
	acct, err := prov.LookupByEmail(ctx, "maria@iglesia.org")
	require.NoError(t, err)
	assert.Equal(t, res.UID, acct.UID)
	assert.Equal(t, "member", acct.Claims.Role())
	assert.Zero(t, store.Count(directory.CollectionUsers))
}

func TestProvisionForbiddenBeforeAnyCall(t *testing.T) {
	svc, prov, store := newTestService(t)
	req := memberRequest()
	req.Role = "admin"

	_, err := svc.Provision(context.Background(), leader, req)
	assert.Equal(t, apierr.KindForbidden, apierr.KindOf(err))
	assert.Zero(t, prov.createCalls)
	assert.Zero(t, prov.accounts.Len())
	assert.Zero(t, store.profilePuts())
}

func TestProvisionUnknownRoleIsForbidden(t *testing.T) {
	svc, prov, _ := newTestService(t)
	for _, role := range []string{"owner", "pastor"} {
		req := memberRequest()
		req.Role = role
		_, err := svc.Provision(context.Background(), superLeader, req)
		assert.Equal(t, apierr.KindForbidden, apierr.KindOf(err), role)
	}
	_, err := svc.Provision(context.Background(), auth.Caller{UID: "x"}, memberRequest())
	assert.Equal(t, apierr.KindForbidden, apierr.KindOf(err))
	assert.Zero(t, prov.createCalls)
}

func TestProvisionValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Request)
		kind   apierr.Kind
	}{
		{"blank email", func(r *Request) { r.Email = "  " }, apierr.KindMissingFields},
		{"blank password", func(r *Request) { r.Password = "   " }, apierr.KindMissingFields},
		{"blank nombre", func(r *Request) { r.Nombre = "" }, apierr.KindMissingFields},
		{"blank apellidos", func(r *Request) { r.Apellidos = "\t" }, apierr.KindMissingFields},
		{"blank role", func(r *Request) { r.Role = "" }, apierr.KindMissingFields},
		{"blank department", func(r *Request) { r.Department = "" }, apierr.KindMissingFields},
		{"no at", func(r *Request) { r.Email = "maria.iglesia.org" }, apierr.KindInvalidEmail},
		{"no tld", func(r *Request) { r.Email = "maria@iglesia" }, apierr.KindInvalidEmail},
		{"space", func(r *Request) { r.Email = "ma ria@iglesia.org" }, apierr.KindInvalidEmail},
		{"short password", func(r *Request) { r.Password = "abc12" }, apierr.KindWeakPassword},
		{"unknown department", func(r *Request) { r.Department = "ministerio-ancianos" }, apierr.KindInvalidDepartment},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, prov, store := newTestService(t)
			req := memberRequest()
			tc.mutate(&req)
			_, err := svc.Provision(context.Background(), superLeader, req)
			assert.Equal(t, tc.kind, apierr.KindOf(err))
			assert.Zero(t, prov.createCalls, "validation must precede external calls")
			assert.Zero(t, store.profilePuts())
		})
	}
}

func TestProvisionPasswordCountsCharacters(t *testing.T) {
	svc, _, _ := newTestService(t)
	req := memberRequest()
	req.Password = "ñandú1"
	_, err := svc.Provision(context.Background(), leader, req)
	assert.NoError(t, err)
}

func TestProvisionProviderErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		kind apierr.Kind
	}{
		{identity.ErrInvalidEmail, apierr.KindInvalidEmail},
		{identity.ErrWeakPassword, apierr.KindWeakPassword},
		{errors.Join(identity.ErrUnavailable, errors.New("dial tcp")), apierr.KindProviderUnavailable},
		{context.DeadlineExceeded, apierr.KindProviderUnavailable},
		{context.Canceled, apierr.KindProviderUnavailable},
		{errors.New("boom"), apierr.KindInternal},
	}
	for _, tc := range cases {
		svc, prov, _ := newTestService(t)
		prov.createErr = tc.err
		_, err := svc.Provision(context.Background(), leader, memberRequest())
		assert.Equal(t, tc.kind, apierr.KindOf(err), tc.err.Error())
		assert.NotContains(t, apierr.MessageOf(err), "dial tcp")
	}
}

func TestProvisionLookupFailureDuringRecovery(t *testing.T) {
	svc, prov, _ := newTestService(t)
	_, err := svc.Provision(context.Background(), leader, memberRequest())
	require.NoError(t, err)

	prov.lookupErr = errors.Join(identity.ErrUnavailable, errors.New("timeout"))
	_, err = svc.Provision(context.Background(), leader, memberRequest())
	assert.Equal(t, apierr.KindProviderUnavailable, apierr.KindOf(err))
}

func TestProvisionSuperLeaderCanCreateSuperLeader(t *testing.T) {
	svc, prov, _ := newTestService(t)
	req := memberRequest()
	req.Role = "Super_Leader"
	_, err := svc.Provision(context.Background(), superLeader, req)
	require.NoError(t, err)
	acct, err := prov.LookupByEmail(context.Background(), req.Email)
	require.NoError(t, err)
	assert.Equal(t, "super_leader", acct.Claims.Role())
}
