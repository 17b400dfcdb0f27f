package login

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nrich-session-guard/internal/domain/auth"
	"nrich-session-guard/internal/domain/eventbus"
	"nrich-session-guard/internal/domain/kvstore"
	"nrich-session-guard/internal/domain/session"
	"nrich-session-guard/internal/transport/apiclient"
)

const testSecret = "test-crypto-secret"

type fakeExchanger struct {
	mu   sync.Mutex
	ids  []string
	resp apiclient.Response
}

func (f *fakeExchanger) ExchangeLogin(_ context.Context, id string) apiclient.Response {
	f.mu.Lock()
	f.ids = append(f.ids, id)
	f.mu.Unlock()
	return f.resp
}

type fixture struct {
	handler *Handler
	tokens  *session.TokenStore
	local   kvstore.Store
	cookies kvstore.Store
	logins  []eventbus.AuthEventData
}

func newFixture(t *testing.T, ex Exchanger) *fixture {
	t.Helper()
	f := &fixture{
		local:   kvstore.NewMemory(kvstore.Config{}),
		cookies: kvstore.NewMemory(kvstore.Config{}),
	}
	f.tokens = session.NewTokenStore(f.local, f.cookies, 180*24*time.Hour)
	bus := eventbus.New()
	require.NoError(t, bus.Subscribe(eventbus.EventUserLoggedIn, func(d eventbus.AuthEventData) {
		f.logins = append(f.logins, d)
	}))
	f.handler = NewHandler(Options{Secret: testSecret, Exchanger: ex, Tokens: f.tokens, Bus: bus})
	return f
}

func encrypt(t *testing.T, plain string) string {
	t.Helper()
	enc, err := auth.EncryptPassphrase(plain, testSecret)
	require.NoError(t, err)
	return enc
}

func okResponse(user map[string]any) apiclient.Response {
	return apiclient.Response{Status: true, Code: 200, Data: map[string]any{
		"status": true, "token": "T", "nrich_token": "N", "user": user,
	}}
}

func TestHandleRoundTrip(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		_, _ = io.WriteString(w, `{"status":true,"token":"T","user":{"role":"Admin","uid":"1"}}`)
	}))
	t.Cleanup(srv.Close)

	client := apiclient.New(apiclient.Options{BaseURL: srv.URL, Timeout: time.Second})
	f := newFixture(t, client)
	ctx := context.Background()

	res := f.handler.Handle(ctx, Params{ID: encrypt(t, "1")})
	require.Equal(t, OutcomeRedirect, res.Outcome)
	assert.Equal(t, "/admin/leaddashboard", res.Redirect)
	assert.JSONEq(t, `{"id":"1"}`, gotBody)

	v, _, _ := f.local.Get(ctx, session.KeyToken)
	assert.Equal(t, "T", v)
	v, _, _ = f.cookies.Get(ctx, session.KeyToken)
	assert.Equal(t, "T", v)
	assert.Equal(t, "Admin", f.tokens.Role(ctx))

	_, ok, _ := f.cookies.Get(ctx, session.KeyNrichToken)
	assert.False(t, ok, "empty nrich_token is not written to cookies")
	v, ok, _ = f.local.Get(ctx, session.KeyNrichToken)
	assert.True(t, ok)
	assert.Empty(t, v)

	data, err := f.tokens.UserData(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1", data["uid"])

	require.Len(t, f.logins, 1)
	assert.Equal(t, "1", f.logins[0].UserID)
	assert.Equal(t, "Admin", f.logins[0].Role)
}

func TestHandleNormalizesRoleAndIntent(t *testing.T) {
	cases := []struct {
		role, intent, want string
	}{
		{"super_admin", "", "/superadmin/leaddashboard"},
		{"Sub Admin", "whatsapp", "/subadmin/notification/whatsapp"},
		{"manager", " EMAIL ", "/admin/notification/emails/campaigndashboard"},
		{"", "googlesheet", "/admin/leadIntegration/googlesheet"},
		{"SubAdmin", "unknown", "/subadmin/leaddashboard"},
	}
	for _, tc := range cases {
		t.Run(tc.role+"/"+tc.intent, func(t *testing.T) {
			ex := &fakeExchanger{resp: okResponse(map[string]any{"role": tc.role, "uid": "u1"})}
			f := newFixture(t, ex)
			res := f.handler.Handle(context.Background(), Params{ID: encrypt(t, "u1"), RouteData: tc.intent})
			require.Equal(t, OutcomeRedirect, res.Outcome)
			assert.Equal(t, tc.want, res.Redirect)
			assert.Equal(t, auth.NormalizeRole(tc.role), res.Role)
			v, _, _ := f.cookies.Get(context.Background(), session.KeyNrichToken)
			assert.Equal(t, "N", v)
		})
	}
}

func TestHandleRestoresPlusSigns(t *testing.T) {
	ex := &fakeExchanger{resp: okResponse(map[string]any{"uid": "u1"})}
	f := newFixture(t, ex)

	// Find an encoding that carries '+' so the query round trip matters.
	var enc string
	for i := 0; i < 200; i++ {
		enc = encrypt(t, "6650c0ffee1234567890abcd")
		if containsPlus(enc) {
			break
		}
	}
	require.True(t, containsPlus(enc))

	q, err := url.ParseQuery("id=" + enc + "&routeData=crm")
	require.NoError(t, err)
	res := f.handler.Handle(context.Background(), ParamsFromQuery(q))
	require.Equal(t, OutcomeRedirect, res.Outcome)
	assert.Equal(t, []string{"6650c0ffee1234567890abcd"}, ex.ids)
}

func containsPlus(s string) bool {
	for _, c := range s {
		if c == '+' {
			return true
		}
	}
	return false
}

func TestHandleFailures(t *testing.T) {
	cases := []struct {
		name    string
		id      func(t *testing.T) string
		resp    apiclient.Response
		outcome Outcome
		alert   string
	}{
		{
			name:    "no id",
			id:      func(*testing.T) string { return "" },
			outcome: OutcomeSkipped,
		},
		{
			name:    "undecryptable",
			id:      func(*testing.T) string { return "not-a-ciphertext" },
			outcome: OutcomeFailed,
			alert:   AlertInvalidID,
		},
		{
			name:    "decrypts to empty",
			id:      func(t *testing.T) string { return encrypt(t, "") },
			outcome: OutcomeFailed,
			alert:   AlertInvalidID,
		},
		{
			name:    "bad escape",
			id:      func(*testing.T) string { return "%zz" },
			outcome: OutcomeFailed,
			alert:   AlertUnexpected,
		},
		{
			name: "access denied",
			id:   func(t *testing.T) string { return encrypt(t, "u1") },
			resp: apiclient.Response{Status: false, Code: 403, Data: map[string]any{
				"status": false, "msg": "Access Denied",
			}},
			outcome: OutcomeAccessDenied,
			alert:   AlertAccessDenied,
		},
		{
			name: "no token",
			id:   func(t *testing.T) string { return encrypt(t, "u1") },
			resp: apiclient.Response{Status: true, Code: 200, Data: map[string]any{
				"status": true, "user": map[string]any{},
			}},
			outcome: OutcomeFailed,
			alert:   AlertLoginFailed,
		},
		{
			name: "transport failure",
			id:   func(t *testing.T) string { return encrypt(t, "u1") },
			resp: apiclient.Response{Status: false, Data: map[string]any{
				"msg": "connection refused",
			}},
			outcome: OutcomeFailed,
			alert:   AlertLoginFailed,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, &fakeExchanger{resp: tc.resp})
			res := f.handler.Handle(context.Background(), Params{ID: tc.id(t)})
			assert.Equal(t, tc.outcome, res.Outcome)
			assert.Equal(t, tc.alert, res.Alert)
			assert.Empty(t, res.Redirect)
			assert.False(t, f.tokens.HasToken(context.Background()))
			assert.Empty(t, f.logins)
			if tc.outcome == OutcomeAccessDenied {
				require.NotNil(t, res.Notice)
				assert.Equal(t, "Access Denied", res.Notice.Title)
			}
		})
	}
}

func TestHomeTarget(t *testing.T) {
	ctx := context.Background()
	local := kvstore.NewMemory(kvstore.Config{})
	tokens := session.NewTokenStore(local, nil, 0)

	assert.Equal(t, "/admin/workflow", HomeTarget(ctx, tokens, "workflow"))

	require.NoError(t, local.Set(ctx, session.KeyUserRole, "SubAdmin", 0))
	assert.Equal(t, "/subadmin/leadIntegration/meta", HomeTarget(ctx, tokens, "meta"))
	assert.Equal(t, "/subadmin/leaddashboard", HomeTarget(ctx, tokens, ""))
}

type countingLogger struct {
	mu    sync.Mutex
	warns int
}

func (l *countingLogger) Debug(string, ...interface{}) {}
func (l *countingLogger) Info(string, ...interface{})  {}
func (l *countingLogger) Error(string, ...interface{}) {}
func (l *countingLogger) Warn(string, ...interface{}) {
	l.mu.Lock()
	l.warns++
	l.mu.Unlock()
}

func TestCheckSecret(t *testing.T) {
	l := &countingLogger{}
	assert.True(t, CheckSecret("", l))
	assert.True(t, CheckSecret(DefaultSecret, l))
	assert.False(t, CheckSecret("real-secret", l))
	assert.Equal(t, 2, l.warns)
}
