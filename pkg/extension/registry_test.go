package extension

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praxis-works/covenant/pkg/constitution"
	"github.com/praxis-works/covenant/pkg/signal"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	c, err := constitution.Load("../../configs/constitution.json")
	require.NoError(t, err)
	require.NoError(t, c.Validate())
	r, err := NewRegistry(c)
	require.NoError(t, err)
	return r
}

func observer() Handler {
	return func(ctx context.Context, sig *signal.Signal) error { return nil }
}

func TestRegisterCompliantExtension(t *testing.T) {
	r := testRegistry(t)
	result := r.Register(Manifest{
		Name:              "latency-observer",
		Version:           "1.0.0",
		RequiresAuthority: "operator",
		ReadsFrom:         []string{"timing_contracts"},
	}, observer())

	assert.True(t, result.Compliant)
	assert.Empty(t, result.Violations)
	assert.Equal(t, []string{"latency-observer"}, r.Registered())

	require.NoError(t, r.Activate("latency-observer"))
	assert.True(t, r.IsActivated("latency-observer"))
	assert.Equal(t, []string{"latency-observer"}, r.Activated())
}

func TestRegisterUnknownAuthority(t *testing.T) {
	r := testRegistry(t)
	result := r.Register(Manifest{
		Name:              "rogue",
		RequiresAuthority: "emperor",
	}, observer())

	assert.False(t, result.Compliant)
	assert.Contains(t, result.Violations[0], "unknown authority level")
}

func TestStewardRoutingModificationRejected(t *testing.T) {
	r := testRegistry(t)
	result := r.Register(Manifest{
		Name:              "route-rewriter",
		RequiresAuthority: "steward",
		ModifiesRouting:   true,
	}, observer())

	assert.False(t, result.Compliant)
	assert.Contains(t, result.Violations[0], "cannot modify routing at steward level")
}

func TestProtectedWriteTargetsRejected(t *testing.T) {
	r := testRegistry(t)
	result := r.Register(Manifest{
		Name:              "doctrine-editor",
		RequiresAuthority: "innovator",
		WritesTo:          []string{"default_on_ambiguity", "authority_ladder", "audit_requirements"},
	}, observer())

	assert.False(t, result.Compliant)
	assert.Len(t, result.Violations, 3)
}

func TestActivateNonCompliantFails(t *testing.T) {
	r := testRegistry(t)
	r.Register(Manifest{
		Name:              "rogue",
		RequiresAuthority: "emperor",
	}, observer())

	err := r.Activate("rogue")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not compliant")
	assert.False(t, r.IsActivated("rogue"))
}

func TestActivateUnregisteredFails(t *testing.T) {
	r := testRegistry(t)
	assert.Error(t, r.Activate("ghost"))
}

func TestDeactivate(t *testing.T) {
	r := testRegistry(t)
	r.Register(Manifest{Name: "obs", RequiresAuthority: "operator"}, observer())
	require.NoError(t, r.Activate("obs"))
	r.Deactivate("obs")
	assert.False(t, r.IsActivated("obs"))
	// Still registered; reactivation allowed.
	require.NoError(t, r.Activate("obs"))
}

func TestNotifyReachesActiveExtensionsOnly(t *testing.T) {
	r := testRegistry(t)
	var activeCalls, dormantCalls int
	r.Register(Manifest{Name: "active", RequiresAuthority: "operator"},
		func(ctx context.Context, sig *signal.Signal) error {
			activeCalls++
			return nil
		})
	r.Register(Manifest{Name: "dormant", RequiresAuthority: "operator"},
		func(ctx context.Context, sig *signal.Signal) error {
			dormantCalls++
			return nil
		})
	require.NoError(t, r.Activate("active"))

	errs := r.Notify(context.Background(), &signal.Signal{Type: "query"})
	assert.Empty(t, errs)
	assert.Equal(t, 1, activeCalls)
	assert.Equal(t, 0, dormantCalls)
}

func TestNotifyCollectsErrorsAndPanics(t *testing.T) {
	r := testRegistry(t)
	r.Register(Manifest{Name: "failing", RequiresAuthority: "operator"},
		func(ctx context.Context, sig *signal.Signal) error {
			return errors.New("observer broke")
		})
	r.Register(Manifest{Name: "panicking", RequiresAuthority: "operator"},
		func(ctx context.Context, sig *signal.Signal) error {
			panic("observer crashed")
		})
	require.NoError(t, r.Activate("failing"))
	require.NoError(t, r.Activate("panicking"))

	errs := r.Notify(context.Background(), &signal.Signal{Type: "query"})
	require.Len(t, errs, 2)
	assert.Contains(t, errs["panicking"].Error(), "panic")
}

func TestCompliance(t *testing.T) {
	r := testRegistry(t)
	r.Register(Manifest{Name: "obs", RequiresAuthority: "operator"}, observer())

	result, ok := r.Compliance("obs")
	require.True(t, ok)
	assert.True(t, result.Compliant)

	_, ok = r.Compliance("ghost")
	assert.False(t, ok)
}
