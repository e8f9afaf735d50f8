package validation

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/zaphod72/oxd/internal/testutil"
	"github.com/zaphod72/oxd/pkg/command"
	oxderr "github.com/zaphod72/oxd/pkg/errors"
	"github.com/zaphod72/oxd/pkg/introspection"
	"github.com/zaphod72/oxd/pkg/rp"
)

const (
	siteID     = "3f1a8a9c-0000-4000-8000-000000000001"
	siteClient = "client-A"
)

type fakeSites struct {
	byID        map[string]*rp.Rp
	byClient    map[string]*rp.Rp
	err         error
	gets        atomic.Int32
	clientCalls atomic.Int32
}

func newFakeSites(sites ...*rp.Rp) *fakeSites {
	f := &fakeSites{byID: map[string]*rp.Rp{}, byClient: map[string]*rp.Rp{}}
	for _, s := range sites {
		f.byID[s.OxdID] = s
		f.byClient[s.ClientID] = s
	}
	return f
}

func (f *fakeSites) GetRp(_ context.Context, oxdID string) (*rp.Rp, error) {
	f.gets.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.byID[oxdID], nil
}

func (f *fakeSites) GetRpByClientID(_ context.Context, clientID string) (*rp.Rp, error) {
	f.clientCalls.Add(1)
	return f.byClient[clientID], nil
}

type mockIntrospector struct {
	mock.Mock
}

func (m *mockIntrospector) IntrospectAccessToken(ctx context.Context, oxdID, token string) (*introspection.Response, error) {
	args := m.Called(ctx, oxdID, token)
	resp, _ := args.Get(0).(*introspection.Response)
	return resp, args.Error(1)
}

func testSite() *rp.Rp {
	return &rp.Rp{OxdID: siteID, OpHost: "https://idp.example.com", ClientID: siteClient}
}

func protectedCmd(token string) *command.Command {
	return &command.Command{
		Type:        command.RemoveSite,
		Params:      &command.RemoveSiteParams{OxdID: siteID},
		AccessToken: token,
	}
}

func TestGate_MissingParams(t *testing.T) {
	t.Parallel()
	g := NewGate(newFakeSites(), &mockIntrospector{}, Config{ProtectCommands: true}, nil)

	_, err := g.Validate(context.Background(), nil)
	testutil.RequireErrorKind(t, err, oxderr.KindInternalErrorNoParams)
	_, err = g.Validate(context.Background(), &command.Command{Type: command.RemoveSite})
	testutil.RequireErrorKind(t, err, oxderr.KindInternalErrorNoParams)
}

func TestGate_GetRpListShortCircuits(t *testing.T) {
	t.Parallel()
	sites := newFakeSites(testSite())
	intro := &mockIntrospector{}
	g := NewGate(sites, intro, Config{ProtectCommands: true}, nil)
	list := true

	for _, oxdID := range []string{"", "  ", "not-a-uuid"} {
		res, err := g.Validate(context.Background(), &command.Command{
			Type:   command.GetRp,
			Params: &command.GetRpParams{OxdID: oxdID, List: &list},
		})
		require.NoError(t, err)
		assert.Equal(t, Result{ListAll: true}, res)
	}
	assert.Zero(t, sites.gets.Load())
	assert.Zero(t, sites.clientCalls.Load())
	intro.AssertNotCalled(t, "IntrospectAccessToken", mock.Anything, mock.Anything, mock.Anything)
}

func TestGate_BlankOxdID(t *testing.T) {
	t.Parallel()
	g := NewGate(newFakeSites(), &mockIntrospector{}, Config{ProtectCommands: false}, nil)
	_, err := g.Validate(context.Background(), &command.Command{
		Type:   command.RemoveSite,
		Params: &command.RemoveSiteParams{OxdID: " "},
	})
	testutil.RequireErrorKind(t, err, oxderr.KindBadRequestNoOxdID)
}

func TestGate_GetRpSingleBlankOxdID(t *testing.T) {
	t.Parallel()
	for _, protect := range []bool{true, false} {
		intro := &mockIntrospector{}
		sites := newFakeSites(testSite())
		g := NewGate(sites, intro, Config{ProtectCommands: protect}, nil)

		_, err := g.Validate(context.Background(), &command.Command{
			Type:        command.GetRp,
			Params:      &command.GetRpParams{OxdID: "  "},
			AccessToken: "tok",
		})
		testutil.RequireErrorKind(t, err, oxderr.KindBadRequestNoOxdID)
		assert.Zero(t, sites.gets.Load())
		intro.AssertNotCalled(t, "IntrospectAccessToken", mock.Anything, mock.Anything, mock.Anything)
	}
}

func TestGate_ProtectionOffAcceptsBlankToken(t *testing.T) {
	t.Parallel()
	intro := &mockIntrospector{}
	g := NewGate(newFakeSites(testSite()), intro, Config{ProtectCommands: false}, nil)

	res, err := g.Validate(context.Background(), protectedCmd(""))
	require.NoError(t, err)
	assert.Equal(t, siteID, res.Rp.OxdID)
	assert.False(t, res.ListAll)
	intro.AssertNotCalled(t, "IntrospectAccessToken", mock.Anything, mock.Anything, mock.Anything)
}

func TestGate_AccessTokenRules(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		token string
		resp  *introspection.Response
		err   error
		want  oxderr.Kind
	}{
		{name: "blank token", token: "", want: oxderr.KindBlankAccessToken},
		{name: "inactive", token: "t", err: oxderr.New(oxderr.KindInactiveAccessToken), want: oxderr.KindInactiveAccessToken},
		{name: "no client id", token: "t", resp: &introspection.Response{Active: true, Scope: "oxd"}, want: oxderr.KindNoClientIDInIntrospectionResponse},
		{name: "scope without oxd", token: "t", resp: &introspection.Response{Active: true, ClientID: siteClient, Scope: "openid profile"}, want: oxderr.KindAccessTokenInsufficientScope},
		{name: "scope prefix is not oxd", token: "t", resp: &introspection.Response{Active: true, ClientID: siteClient, Scope: "oxdx"}, want: oxderr.KindAccessTokenInsufficientScope},
		{name: "other client", token: "t", resp: &introspection.Response{Active: true, ClientID: "client-B", Scope: "openid oxd"}, want: oxderr.KindInvalidAccessToken},
		{name: "upstream failure", token: "t", err: oxderr.New(oxderr.KindFailedToIntrospect), want: oxderr.KindFailedToIntrospect},
		{name: "same client", token: "t", resp: &introspection.Response{Active: true, ClientID: siteClient, Scope: "openid oxd"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			intro := &mockIntrospector{}
			if tt.resp != nil || tt.err != nil {
				intro.On("IntrospectAccessToken", mock.Anything, siteID, tt.token).Return(tt.resp, tt.err).Once()
			}
			g := NewGate(newFakeSites(testSite()), intro, Config{ProtectCommands: true}, nil)

			res, err := g.Validate(context.Background(), protectedCmd(tt.token))
			if tt.want == "" {
				require.NoError(t, err)
				assert.Equal(t, siteID, res.Rp.OxdID)
			} else {
				testutil.RequireErrorKind(t, err, tt.want)
			}
			intro.AssertExpectations(t)
		})
	}
}

func TestGate_AuthorizeAccessTokenReportsRemote(t *testing.T) {
	t.Parallel()
	intro := &mockIntrospector{}
	intro.On("IntrospectAccessToken", mock.Anything, siteID, "t").
		Return(&introspection.Response{Active: true, ClientID: siteClient, Scope: "oxd"}, nil)
	g := NewGate(newFakeSites(testSite()), intro, Config{ProtectCommands: true}, nil)

	remote, err := g.AuthorizeAccessToken(context.Background(), command.Traits{Caps: command.HasOxdID | command.HasAccessToken, OxdID: siteID}, "t")
	require.NoError(t, err)
	assert.True(t, remote)

	remote, err = g.AuthorizeAccessToken(context.Background(), command.Traits{Caps: command.HasAccessToken | command.IsRegisterSite}, "")
	require.NoError(t, err)
	assert.False(t, remote)

	_, err = g.AuthorizeAccessToken(context.Background(), command.Traits{Caps: command.HasAccessToken, OxdID: "unknown"}, "t")
	testutil.RequireErrorKind(t, err, oxderr.KindInvalidOxdID)
}

func TestGate_NonTaxonomyAuthorizationFailureIsSwallowed(t *testing.T) {
	t.Parallel()
	intro := &mockIntrospector{}
	intro.On("IntrospectAccessToken", mock.Anything, siteID, "t").Return(nil, errors.New("boom"))
	g := NewGate(newFakeSites(testSite()), intro, Config{ProtectCommands: true}, nil)

	res, err := g.Validate(context.Background(), protectedCmd("t"))
	require.NoError(t, err)
	assert.Equal(t, siteID, res.Rp.OxdID)
}

func TestGate_RegisterSiteSkipsTokenAndResolution(t *testing.T) {
	t.Parallel()
	sites := newFakeSites(testSite())
	g := NewGate(sites, &mockIntrospector{}, Config{ProtectCommands: true}, nil)

	res, err := g.Validate(context.Background(), &command.Command{
		Type:   command.RegisterSite,
		Params: &command.RegisterSiteParams{OpHost: "https://idp.example.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
	assert.Zero(t, sites.gets.Load())
}

func TestGate_ResolutionFailureIsNotFatal(t *testing.T) {
	t.Parallel()
	sites := newFakeSites()
	sites.err = oxderr.New(oxderr.KindFailedToGetRp)
	g := NewGate(sites, &mockIntrospector{}, Config{ProtectCommands: false}, nil)

	res, err := g.Validate(context.Background(), protectedCmd(""))
	require.NoError(t, err)
	assert.Nil(t, res.Rp)
}

func TestGate_GetClientTokenResolvesByClientID(t *testing.T) {
	t.Parallel()
	sites := newFakeSites(testSite())
	g := NewGate(sites, &mockIntrospector{}, Config{ProtectCommands: true}, nil)

	res, err := g.Validate(context.Background(), &command.Command{
		Type:   command.GetClientToken,
		Params: &command.GetClientTokenParams{OpHost: "https://idp.example.com", ClientID: siteClient, ClientSecret: "s"},
	})
	require.NoError(t, err)
	assert.Equal(t, siteID, res.Rp.OxdID)
	assert.False(t, res.ListAll)

	res, err = g.Validate(context.Background(), &command.Command{
		Type:   command.GetClientToken,
		Params: &command.GetClientTokenParams{ClientID: "unregistered"},
	})
	require.NoError(t, err)
	assert.Nil(t, res.Rp)
}

func TestGate_GetRpSingle(t *testing.T) {
	t.Parallel()
	intro := &mockIntrospector{}
	g := NewGate(newFakeSites(testSite()), intro, Config{ProtectCommands: false}, nil)

	res, err := g.Validate(context.Background(), &command.Command{
		Type:   command.GetRp,
		Params: &command.GetRpParams{OxdID: siteID},
	})
	require.NoError(t, err)
	assert.Equal(t, siteID, res.Rp.OxdID)
	assert.True(t, res.ListAll)

	res, err = g.Validate(context.Background(), &command.Command{
		Type:   command.GetRp,
		Params: &command.GetRpParams{OxdID: "missing"},
	})
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
}

func TestGate_GetDiscoveryResolvesNothing(t *testing.T) {
	t.Parallel()
	sites := newFakeSites(testSite())
	g := NewGate(sites, &mockIntrospector{}, Config{ProtectCommands: true}, nil)

	res, err := g.Validate(context.Background(), &command.Command{
		Type:   command.GetDiscovery,
		Params: &command.GetDiscoveryParams{OpHost: "https://idp.example.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
	assert.Zero(t, sites.gets.Load())
}

func TestGate_ValidateRp(t *testing.T) {
	t.Parallel()
	g := NewGate(newFakeSites(), &mockIntrospector{}, Config{AllowedOpHosts: []string{"https://idp.example.com"}}, nil)

	_, err := g.ValidateRp(nil)
	testutil.AssertErrorKind(t, err, oxderr.KindInvalidOxdID)
	_, err = g.ValidateRp(&rp.Rp{OpHost: "https://idp.example.com"})
	testutil.AssertErrorKind(t, err, oxderr.KindBadRequestNoOxdID)
	_, err = g.ValidateRp(&rp.Rp{OxdID: siteID})
	testutil.AssertErrorKind(t, err, oxderr.KindInvalidOpHost)
	_, err = g.ValidateRp(&rp.Rp{OxdID: siteID, OpHost: "https://other.example.com"})
	testutil.AssertErrorKind(t, err, oxderr.KindRestrictedOpHost)

	site, err := g.ValidateRp(testSite())
	require.NoError(t, err)
	assert.Equal(t, siteID, site.OxdID)
}

func TestFingerprint(t *testing.T) {
	t.Parallel()
	fp := Fingerprint("secret-token")
	assert.Regexp(t, `^sha256:[0-9a-f]{12}$`, fp)
	assert.NotContains(t, fp, "secret")
	assert.Equal(t, fp, Fingerprint("secret-token"))
	assert.NotEqual(t, fp, Fingerprint("secret-token2"))
}
