package session_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/sessionkit/core/session"
)

type principal struct{ name string }

func (p principal) String() string { return p.name }

func TestPrincipalNameResolver(t *testing.T) {
	t.Parallel()

	r := session.PrincipalNameResolver{}

	assert.Equal(t, map[string]string{session.PrincipalNameIndexName: "alice"},
		r.Resolve(map[string]any{session.PrincipalNameIndexName: "alice"}))
	assert.Equal(t, map[string]string{session.PrincipalNameIndexName: "bob"},
		r.Resolve(map[string]any{session.PrincipalNameIndexName: principal{name: "bob"}}))
	assert.Empty(t, r.Resolve(map[string]any{session.PrincipalNameIndexName: ""}))
	assert.Empty(t, r.Resolve(map[string]any{session.PrincipalNameIndexName: 42}))
	assert.Empty(t, r.Resolve(map[string]any{"other": "alice"}))
}

func TestDelegatingIndexResolver(t *testing.T) {
	t.Parallel()

	r := session.DelegatingIndexResolver(
		session.PrincipalNameResolver{},
		session.AttributeResolver("tenant", "tenant_id"),
		nil,
		session.IndexResolverFunc(func(attrs map[string]any) map[string]string {
			if attrs["impersonating"] == "yes" {
				return map[string]string{"tenant": "admin"}
			}
			return nil
		}),
	)

	attrs := map[string]any{
		session.PrincipalNameIndexName: "alice",
		"tenant_id":                    "acme",
	}
	assert.Equal(t, map[string]string{
		session.PrincipalNameIndexName: "alice",
		"tenant":                       "acme",
	}, r.Resolve(attrs))

	attrs["impersonating"] = "yes"
	assert.Equal(t, "admin", r.Resolve(attrs)["tenant"], "later resolvers win")

	assert.Nil(t, r.Resolve(map[string]any{}))
}
