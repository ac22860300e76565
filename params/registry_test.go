package params

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidroman0O/iflowpipe/errors"
)

func newRegistry(t *testing.T, opts ...Option) *Registry {
	t.Helper()
	r, err := NewRegistry(opts...)
	require.NoError(t, err)
	return r
}

func TestGetConfigParamsSeedsDefaults(t *testing.T) {
	r := newRegistry(t)
	ctx := context.Background()

	ps, err := r.GetConfigParams(ctx, []string{"if-b", "if-a"}, EnvDev)
	require.NoError(t, err)
	require.Len(t, ps, 10)
	assert.Equal(t, "if-a", ps[0].IFlowID)
	assert.Equal(t, ParamID("if-a", EnvDev, "Enable_Tracing"), ps[0].ID)
	assert.Equal(t, "true", ps[0].Value)

	prod, err := r.GetConfigParams(ctx, []string{"if-a"}, EnvProd)
	require.NoError(t, err)
	for _, p := range prod {
		assert.Equal(t, EnvProd, p.Environment)
	}

	_, err = r.GetConfigParams(ctx, []string{"if-a"}, "staging")
	assert.True(t, errors.IsInvalidInput(err))
}

func TestSetOverwritesAndChecksSyntax(t *testing.T) {
	r := newRegistry(t)
	ctx := context.Background()
	_, err := r.GetConfigParams(ctx, []string{"if-a"}, EnvQA)
	require.NoError(t, err)

	id := ParamID("if-a", EnvQA, "Timeout_Seconds")
	require.NoError(t, r.Set(ctx, id, "45"))
	p, err := r.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "45", p.Value)

	assert.True(t, errors.IsInvalidInput(r.Set(ctx, id, "soon")))
	assert.True(t, errors.IsInvalidInput(r.Set(ctx, ParamID("if-a", EnvQA, "Enable_Tracing"), "maybe")))
	assert.True(t, errors.IsInvalidInput(r.Set(ctx, ParamID("if-a", EnvQA, "Receiver_Endpoint"), "not a url")))
	assert.True(t, errors.IsNotFound(r.Set(ctx, "if-a/qa/Unknown", "x")))

	// a rejected write leaves the old value
	p, err = r.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "45", p.Value)
}

func TestSecretsAreNeverReadBack(t *testing.T) {
	key := [32]byte{1, 2, 3}
	r := newRegistry(t, WithKey(&key))
	ctx := context.Background()
	_, err := r.GetConfigParams(ctx, []string{"if-a"}, EnvDev)
	require.NoError(t, err)

	id := ParamID("if-a", EnvDev, "Receiver_Credential")
	p, err := r.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "", p.Value)

	require.NoError(t, r.Set(ctx, id, "s3cr3t"))

	p, err = r.Get(id)
	require.NoError(t, err)
	assert.Equal(t, Mask, p.Value)

	all, err := r.GetConfigParams(ctx, []string{"if-a"}, EnvDev)
	require.NoError(t, err)
	for _, q := range all {
		assert.NotEqual(t, "s3cr3t", q.Value)
	}

	plain, err := r.Reveal(id)
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", plain)
}

func TestMissingRequired(t *testing.T) {
	r := newRegistry(t, WithDefaults(func(iflowID, env string) []ConfigParam {
		return []ConfigParam{
			{Name: "Host", Type: TypeString, Required: true},
			{Name: "Port", Type: TypeNumber, Value: "443", Required: true},
			{Name: "Note", Type: TypeString},
		}
	}))
	ctx := context.Background()

	missing, err := r.Missing(ctx, []string{"if-a"}, EnvDev)
	require.NoError(t, err)
	require.Len(t, missing, 1)
	assert.Equal(t, "Host", missing[0].Name)

	require.NoError(t, r.Set(ctx, missing[0].ID, "erp.local"))
	missing, err = r.Missing(ctx, []string{"if-a"}, EnvDev)
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestSeedingHappensOnce(t *testing.T) {
	r := newRegistry(t)
	ctx := context.Background()
	_, err := r.GetConfigParams(ctx, []string{"if-a"}, EnvDev)
	require.NoError(t, err)

	id := ParamID("if-a", EnvDev, "Sender_System")
	require.NoError(t, r.Set(ctx, id, "WEBSHOP"))

	_, err = r.GetConfigParams(ctx, []string{"if-a"}, EnvDev)
	require.NoError(t, err)
	p, err := r.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "WEBSHOP", p.Value)
}
