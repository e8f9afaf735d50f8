package introspection

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/zaphod72/oxd/internal/testutil"
	"github.com/zaphod72/oxd/internal/testutil/fixtures"
	"github.com/zaphod72/oxd/pkg/discovery"
	oxderr "github.com/zaphod72/oxd/pkg/errors"
	"github.com/zaphod72/oxd/pkg/rp"
)

// fakeAS serves discovery and introspection. answer is written verbatim
// for every introspection call.
type fakeAS struct {
	*httptest.Server
	answer   atomic.Value // string
	status   atomic.Int32
	calls    atomic.Int32
	lastForm atomic.Value // string
}

func newFakeAS(t *testing.T) *fakeAS {
	t.Helper()
	as := &fakeAS{}
	as.answer.Store(`{"active":true,"client_id":"` + fixtures.ClientID + `","scope":"openid oxd"}`)
	as.status.Store(http.StatusOK)
	as.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case discovery.WellKnownPath:
			_, _ = fmt.Fprintf(w, `{"issuer":%q,"introspection_endpoint":"%s/introspect"}`, as.URL, as.URL)
		case "/introspect":
			as.calls.Add(1)
			user, pass, ok := r.BasicAuth()
			if !ok || pass != fixtures.ClientSecret || user == "" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_ = r.ParseForm()
			as.lastForm.Store(r.PostForm.Encode())
			if code := int(as.status.Load()); code != http.StatusOK {
				w.WriteHeader(code)
				return
			}
			_, _ = fmt.Fprint(w, as.answer.Load().(string))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(as.Close)
	return as
}

func (as *fakeAS) site() *rp.Rp {
	r := fixtures.NewRp()
	r.OpHost = as.URL
	return r
}

func newClient(as *fakeAS) *Client {
	return NewClient(as.Client(), discovery.NewService(as.Client(), time.Minute, discovery.WithRetry(1, time.Millisecond)))
}

func TestClient_Introspect(t *testing.T) {
	t.Parallel()
	as := newFakeAS(t)
	as.answer.Store(`{"active":true,"client_id":"c1","scope":"openid  oxd uma_protection",
		"aud":"c1","exp":1893456000,"iat":1700000000,"sub":"alice","acr":"basic"}`)

	resp, err := newClient(as).Introspect(context.Background(), as.site(), "tok-1", HintAccessToken)
	require.NoError(t, err)
	assert.True(t, resp.Active)
	assert.Equal(t, "c1", resp.ClientID)
	assert.Equal(t, []string{"openid", "oxd", "uma_protection"}, resp.Scopes())
	assert.True(t, resp.HasScope("oxd"))
	assert.False(t, resp.HasScope("ox"))
	assert.Equal(t, []string{"c1"}, []string(resp.Audience))
	require.NotNil(t, resp.ExpiresAt)
	assert.Equal(t, int64(1893456000), resp.ExpiresAt.Unix())
	assert.Equal(t, map[string]any{"acr": "basic"}, resp.Extra)

	form := as.lastForm.Load().(string)
	assert.Contains(t, form, "token=tok-1")
	assert.Contains(t, form, "token_type_hint=access_token")
}

func TestClient_IntrospectErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		setup func(as *fakeAS)
		site  func(as *fakeAS) *rp.Rp
		want  oxderr.Kind
	}{
		{
			name:  "malformed answer",
			setup: func(as *fakeAS) { as.answer.Store(`{"active":"maybe"`) },
			want:  oxderr.KindInvalidIntrospectionResponse,
		},
		{
			name:  "oversized answer",
			setup: func(as *fakeAS) { as.answer.Store(`{"active":true,"x":"` + strings.Repeat("a", maxResponseSize) + `"}`) },
			want:  oxderr.KindInvalidIntrospectionResponse,
		},
		{
			name:  "server error",
			setup: func(as *fakeAS) { as.status.Store(http.StatusInternalServerError) },
			want:  oxderr.KindFailedToIntrospect,
		},
		{
			name: "wrong credentials",
			site: func(as *fakeAS) *rp.Rp {
				r := as.site()
				r.ClientSecret = "nope"
				return r
			},
			want: oxderr.KindFailedToIntrospect,
		},
		{
			name: "no discovery",
			site: func(as *fakeAS) *rp.Rp {
				r := as.site()
				r.OpDiscoveryPath = "/nothing-here"
				return r
			},
			want: oxderr.KindNoConnectDiscoveryResponse,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			as := newFakeAS(t)
			if tt.setup != nil {
				tt.setup(as)
			}
			site := as.site()
			if tt.site != nil {
				site = tt.site(as)
			}
			_, err := newClient(as).Introspect(context.Background(), site, "tok", HintAccessToken)
			testutil.RequireErrorKind(t, err, tt.want)
			assert.True(t, oxderr.IsUpstream(err))
		})
	}
}

func TestClient_NoIntrospectionEndpoint(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprint(w, `{"issuer":"https://op.example.com"}`)
	}))
	defer srv.Close()

	site := fixtures.NewRp()
	site.OpHost = srv.URL
	c := NewClient(srv.Client(), discovery.NewService(srv.Client(), time.Minute))
	_, err := c.Introspect(context.Background(), site, "tok", HintAccessToken)
	testutil.RequireErrorKind(t, err, oxderr.KindFailedToGetDiscovery)
}

func TestClient_Timeout(t *testing.T) {
	t.Parallel()
	as := newFakeAS(t)
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer slow.Close()

	endpoints := &staticEndpoints{doc: &discovery.Document{Issuer: as.URL, IntrospectionEndpoint: slow.URL}}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := NewClient(slow.Client(), endpoints).Introspect(ctx, as.site(), "tok", HintAccessToken)
	testutil.RequireErrorKind(t, err, oxderr.KindFailedToIntrospect)
	assert.Contains(t, err.Error(), "timed out")
}

type staticEndpoints struct{ doc *discovery.Document }

func (s *staticEndpoints) Get(context.Context, string, string) (*discovery.Document, error) {
	return s.doc, nil
}

type mockIntrospector struct{ mock.Mock }

func (m *mockIntrospector) Introspect(ctx context.Context, site *rp.Rp, token, hint string) (*Response, error) {
	args := m.Called(ctx, site, token, hint)
	resp, _ := args.Get(0).(*Response)
	return resp, args.Error(1)
}

func newServiceWithSite(t *testing.T) (*Service, *mockIntrospector) {
	t.Helper()
	store := rp.NewMemoryStore()
	require.NoError(t, store.Put(context.Background(), fixtures.NewRp()))
	m := &mockIntrospector{}
	return NewService(rp.NewCache(store, time.Minute), m, nil), m
}

func TestService_IntrospectAccessToken(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("blank token makes no call", func(t *testing.T) {
		t.Parallel()
		svc, m := newServiceWithSite(t)
		_, err := svc.IntrospectAccessToken(ctx, fixtures.OxdID, "  ")
		testutil.RequireErrorKind(t, err, oxderr.KindBlankAccessToken)
		m.AssertNotCalled(t, "Introspect", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("inactive", func(t *testing.T) {
		t.Parallel()
		svc, m := newServiceWithSite(t)
		m.On("Introspect", mock.Anything, mock.AnythingOfType("*rp.Rp"), "tok", HintAccessToken).
			Return(&Response{Active: false}, nil).Once()
		_, err := svc.IntrospectAccessToken(ctx, fixtures.OxdID, "tok")
		testutil.RequireErrorKind(t, err, oxderr.KindInactiveAccessToken)
		m.AssertExpectations(t)
	})

	t.Run("active, every call goes out", func(t *testing.T) {
		t.Parallel()
		svc, m := newServiceWithSite(t)
		m.On("Introspect", mock.Anything, mock.MatchedBy(func(r *rp.Rp) bool { return r.OxdID == fixtures.OxdID }), "tok", HintAccessToken).
			Return(&Response{Active: true, ClientID: fixtures.ClientID}, nil).Twice()
		for i := 0; i < 2; i++ {
			resp, err := svc.IntrospectAccessToken(ctx, fixtures.OxdID, "tok")
			require.NoError(t, err)
			assert.Equal(t, fixtures.ClientID, resp.ClientID)
		}
		m.AssertExpectations(t)
	})

	t.Run("unknown site", func(t *testing.T) {
		t.Parallel()
		svc, _ := newServiceWithSite(t)
		_, err := svc.IntrospectAccessToken(ctx, fixtures.AltOxdID, "tok")
		testutil.RequireErrorKind(t, err, oxderr.KindInvalidOxdID)
	})

	t.Run("client failure propagates", func(t *testing.T) {
		t.Parallel()
		svc, m := newServiceWithSite(t)
		m.On("Introspect", mock.Anything, mock.Anything, "tok", HintAccessToken).
			Return(nil, oxderr.New(oxderr.KindFailedToIntrospect))
		_, err := svc.IntrospectAccessToken(ctx, fixtures.OxdID, "tok")
		testutil.RequireErrorKind(t, err, oxderr.KindFailedToIntrospect)
	})
}

func TestService_IntrospectRPT(t *testing.T) {
	t.Parallel()
	svc, m := newServiceWithSite(t)
	ctx := context.Background()

	_, err := svc.IntrospectRPT(ctx, fixtures.OxdID, "")
	testutil.RequireErrorKind(t, err, oxderr.KindNoUMARPTParameter)

	m.On("Introspect", mock.Anything, mock.Anything, "rpt-1", HintRPT).Return(&Response{Active: false}, nil)
	resp, err := svc.IntrospectRPT(ctx, fixtures.OxdID, "rpt-1")
	require.NoError(t, err)
	assert.False(t, resp.Active)
}
