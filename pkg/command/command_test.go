package command

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zaphod72/oxd/internal/testutil"
	oxderr "github.com/zaphod72/oxd/pkg/errors"
)

func TestParseType(t *testing.T) {
	t.Parallel()
	for _, typ := range AllTypes() {
		got, err := ParseType(typ.String())
		require.NoError(t, err)
		assert.Equal(t, typ, got)
	}
	_, err := ParseType("get-everything")
	assert.Error(t, err)
	assert.Len(t, AllTypes(), 23)
}

func TestEveryTypeHasParams(t *testing.T) {
	t.Parallel()
	for _, typ := range AllTypes() {
		assert.NotNil(t, NewParams(typ), "no params for %s", typ)
	}
	assert.Nil(t, NewParams(Type("nope")))
}

func TestCapabilityTable(t *testing.T) {
	t.Parallel()
	tests := []struct {
		typ  Type
		want Capability
	}{
		{RegisterSite, HasAccessToken | IsRegisterSite},
		{GetClientToken, IsGetClientToken},
		{GetDiscovery, 0},
		{GetRp, HasAccessToken | IsGetRp},
		{IntrospectAccessToken, HasOxdID | HasAccessToken},
		{UpdateSite, HasOxdID | HasAccessToken},
		{RemoveSite, HasOxdID | HasAccessToken},
		{CheckIDToken, HasOxdID | HasAccessToken},
		{UMARSProtect, HasOxdID | HasAccessToken},
		{GetJWKS, HasOxdID | HasAccessToken},
	}
	for _, tt := range tests {
		t.Run(tt.typ.String(), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Capabilities(tt.typ), "got %s", Capabilities(tt.typ))
		})
	}
}

func TestCapabilityString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "none", Capability(0).String())
	assert.Equal(t, "has_oxd_id|has_access_token", (HasOxdID | HasAccessToken).String())
	assert.True(t, (HasOxdID | IsGetRp).Has(IsGetRp))
	assert.False(t, HasOxdID.Has(HasOxdID|HasAccessToken))
}

func TestDecode(t *testing.T) {
	t.Parallel()

	p, err := Decode(GetRp, []byte(`{"oxd_id":"abc","list":true,"unknown":1}`))
	require.NoError(t, err)
	tr := p.Traits()
	assert.Equal(t, "abc", tr.OxdID)
	assert.True(t, tr.List)

	p, err = Decode(GetRp, []byte(`{"oxd_id":"abc"}`))
	require.NoError(t, err)
	assert.False(t, p.Traits().List)

	p, err = Decode(GetClientToken, []byte(`{"client_id":"cid","op_host":"https://op"}`))
	require.NoError(t, err)
	assert.Equal(t, "cid", p.Traits().ClientID)
	assert.IsType(t, &GetClientTokenParams{}, p)

	p, err = Decode(RegisterSite, []byte(`{"op_host":"https://op","redirect_uris":["https://rp/cb"]}`))
	require.NoError(t, err)
	rs := p.(*RegisterSiteParams)
	assert.Equal(t, []string{"https://rp/cb"}, rs.RedirectURIs)
}

func TestDecodeEmptyBody(t *testing.T) {
	t.Parallel()
	for _, body := range []string{"", "  ", "null"} {
		p, err := Decode(UpdateSite, []byte(body))
		require.NoError(t, err)
		assert.Nil(t, p)
	}
}

func TestDecodeErrors(t *testing.T) {
	t.Parallel()
	_, err := Decode(UpdateSite, []byte(`{"oxd_id":`))
	testutil.RequireErrorKind(t, err, oxderr.KindInternalErrorNoParams)

	_, err = Decode(GetRp, []byte(`{"list":"yes"}`))
	testutil.RequireErrorKind(t, err, oxderr.KindInternalErrorNoParams)

	_, err = Decode(Type("frobnicate"), []byte(`{}`))
	testutil.RequireErrorKind(t, err, oxderr.KindUnsupportedOperation)
}
