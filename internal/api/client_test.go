package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

const (
	testBase    = "https://screeps.test:443/"
	codeURL     = testBase + "api/user/code"
	signInURL   = testBase + "api/auth/signin"
	testModules = `{"main":"module.exports.loop = function () {};","main.js.map":"{}"}`
)

func newTestClient(t *testing.T, creds Credentials, mt *httpmock.MockTransport, opts ...ClientOption) *Client {
	t.Helper()

	opts = append([]ClientOption{WithTransport(mt), WithRateLimit(0, 0)}, opts...)
	client, err := NewClient(creds, zaptest.NewLogger(t), opts...)
	require.NoError(t, err)
	return client
}

func testModulesMap(t *testing.T) map[string]string {
	t.Helper()

	modules := map[string]string{}
	require.NoError(t, json.Unmarshal([]byte(testModules), &modules))
	return modules
}

func TestBaseURL(t *testing.T) {
	tests := []struct {
		name  string
		creds Credentials
		want  string
	}{
		{name: "defaults", creds: Credentials{}, want: "http://screeps.com:21025/"},
		{name: "official", creds: Credentials{Host: "screeps.com", Secure: true}, want: "https://screeps.com:443/"},
		{name: "ptr path", creds: Credentials{Host: "screeps.com", Secure: true, Path: "/ptr"}, want: "https://screeps.com:443/ptr/"},
		{name: "private", creds: Credentials{Host: "127.0.0.1", Port: 21025}, want: "http://127.0.0.1:21025/"},
		{name: "path without slash", creds: Credentials{Host: "example.org", Port: 8080, Path: "season/"}, want: "http://example.org:8080/season/"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := BaseURL(tc.creds)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got.String())
		})
	}
}

func TestNewClientRequiresCredentials(t *testing.T) {
	_, err := NewClient(Credentials{Host: "screeps.test"}, nil)
	require.ErrorIs(t, err, ErrMissingCredentials)

	_, err = NewClient(Credentials{Host: "screeps.test", Username: "bot"}, nil)
	require.ErrorIs(t, err, ErrMissingCredentials)
}

func TestSetCodeWithToken(t *testing.T) {
	mt := httpmock.NewMockTransport()
	mt.RegisterResponder(http.MethodPost, codeURL, func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "secret-token", req.Header.Get("X-Token"))
		assert.Equal(t, "secret-token", req.Header.Get("X-Username"))
		assert.Contains(t, req.Header.Get("Content-Type"), "application/json")
		assert.Contains(t, req.Header.Get("User-Agent"), "screeps-deploy/")

		body, err := io.ReadAll(req.Body)
		require.NoError(t, err)

		var payload struct {
			Branch  string            `json:"branch"`
			Modules map[string]string `json:"modules"`
		}
		require.NoError(t, json.Unmarshal(body, &payload))
		assert.Equal(t, "bots", payload.Branch)
		assert.Equal(t, "module.exports.loop = function () {};", payload.Modules["main"])
		assert.Equal(t, "{}", payload.Modules["main.js.map"])

		return httpmock.NewStringResponse(http.StatusOK, `{"ok":1,"timestamp":1700000000000}`), nil
	})

	client := newTestClient(t, Credentials{Host: "screeps.test", Secure: true, Token: "secret-token"}, mt)

	resp, err := client.SetCode(context.Background(), "bots", testModulesMap(t))
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":1,"timestamp":1700000000000}`, string(resp))
	assert.Equal(t, 1, mt.GetTotalCallCount())
}

func TestSetCodeSignsInWithPassword(t *testing.T) {
	mt := httpmock.NewMockTransport()
	mt.RegisterResponder(http.MethodPost, signInURL, func(req *http.Request) (*http.Response, error) {
		assert.Empty(t, req.Header.Get("X-Token"))

		var payload signInRequest
		require.NoError(t, json.NewDecoder(req.Body).Decode(&payload))
		assert.Equal(t, "bot@example.com", payload.Email)
		assert.Equal(t, "hunter2", payload.Password)

		return httpmock.NewStringResponse(http.StatusOK, `{"ok":1,"token":"session-token"}`), nil
	})
	mt.RegisterResponder(http.MethodPost, codeURL, func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "session-token", req.Header.Get("X-Token"))
		return httpmock.NewStringResponse(http.StatusOK, `{"ok":1}`), nil
	})

	client := newTestClient(t, Credentials{Host: "screeps.test", Secure: true, Username: "bot@example.com", Password: "hunter2"}, mt)

	resp, err := client.SetCode(context.Background(), "default", testModulesMap(t))
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":1}`, string(resp))

	calls := mt.GetCallCountInfo()
	assert.Equal(t, 1, calls["POST "+signInURL])
	assert.Equal(t, 1, calls["POST "+codeURL])
}

func TestSignInWithoutToken(t *testing.T) {
	mt := httpmock.NewMockTransport()
	mt.RegisterResponder(http.MethodPost, signInURL, httpmock.NewStringResponder(http.StatusOK, `{"ok":1}`))

	client := newTestClient(t, Credentials{Host: "screeps.test", Secure: true, Username: "bot", Password: "pw"}, mt)

	err := client.SignIn(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no token")
}

func TestSignInRequiresPassword(t *testing.T) {
	mt := httpmock.NewMockTransport()
	client := newTestClient(t, Credentials{Host: "screeps.test", Token: "tok"}, mt)

	require.ErrorIs(t, client.SignIn(context.Background()), ErrMissingCredentials)
	assert.Equal(t, 0, mt.GetTotalCallCount())
}

func TestSetCodeUnauthorized(t *testing.T) {
	mt := httpmock.NewMockTransport()
	mt.RegisterResponder(http.MethodPost, codeURL, httpmock.NewStringResponder(http.StatusUnauthorized, `{"error":"unauthorized"}`))

	client := newTestClient(t, Credentials{Host: "screeps.test", Secure: true, Token: "expired"}, mt)

	_, err := client.SetCode(context.Background(), "default", testModulesMap(t))
	require.ErrorIs(t, err, ErrUnauthorized)

	var apiErr *ErrorResponse
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Contains(t, apiErr.Error(), "unauthorized")
}

func TestSetCodeServerError(t *testing.T) {
	mt := httpmock.NewMockTransport()
	mt.RegisterResponder(http.MethodPost, codeURL, httpmock.NewStringResponder(http.StatusInternalServerError, ""))

	client := newTestClient(t, Credentials{Host: "screeps.test", Secure: true, Token: "tok"}, mt)

	_, err := client.SetCode(context.Background(), "default", testModulesMap(t))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnauthorized)
	assert.Contains(t, err.Error(), "(empty body)")
	assert.Equal(t, 1, mt.GetTotalCallCount(), "failed uploads are not retried")
}

func TestSetCodeTransportError(t *testing.T) {
	mt := httpmock.NewMockTransport()
	mt.RegisterResponder(http.MethodPost, codeURL, httpmock.NewErrorResponder(errors.New("connection reset")))

	client := newTestClient(t, Credentials{Host: "screeps.test", Secure: true, Token: "tok"}, mt)

	_, err := client.SetCode(context.Background(), "default", testModulesMap(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestRotatedTokenIsUsed(t *testing.T) {
	mt := httpmock.NewMockTransport()
	var seen []string
	mt.RegisterResponder(http.MethodPost, codeURL, func(req *http.Request) (*http.Response, error) {
		seen = append(seen, req.Header.Get("X-Token"))
		resp := httpmock.NewStringResponse(http.StatusOK, `{"ok":1}`)
		if resp.Header == nil {
			resp.Header = http.Header{}
		}
		resp.Header.Set("X-Token", "rotated")
		return resp, nil
	})

	client := newTestClient(t, Credentials{Host: "screeps.test", Secure: true, Token: "first"}, mt)

	for i := 0; i < 2; i++ {
		_, err := client.SetCode(context.Background(), "default", testModulesMap(t))
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"first", "rotated"}, seen)
}

func TestClientWaitsOnRateLimiter(t *testing.T) {
	mt := httpmock.NewMockTransport()
	mt.RegisterResponder(http.MethodPost, codeURL, httpmock.NewStringResponder(http.StatusOK, `{"ok":1}`))

	limiter := &staticLimiter{}
	client := newTestClient(t, Credentials{Host: "screeps.test", Secure: true, Token: "tok"}, mt, WithRateLimiter(limiter))

	_, err := client.SetCode(context.Background(), "default", testModulesMap(t))
	require.NoError(t, err)
	assert.Equal(t, 1, limiter.waits)
}

func TestSetCodeCancelledContext(t *testing.T) {
	mt := httpmock.NewMockTransport()
	mt.RegisterResponder(http.MethodPost, codeURL, httpmock.NewStringResponder(http.StatusOK, `{"ok":1}`))

	client := newTestClient(t, Credentials{Host: "screeps.test", Secure: true, Token: "tok"}, mt, WithRateLimit(1, 1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.SetCode(ctx, "default", testModulesMap(t))
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, mt.GetTotalCallCount())
}

func TestSetCodeTimeout(t *testing.T) {
	mt := httpmock.NewMockTransport()
	mt.RegisterResponder(http.MethodPost, codeURL,
		httpmock.NewStringResponder(http.StatusOK, `{"ok":1}`).Delay(500*time.Millisecond))

	client := newTestClient(t, Credentials{Host: "screeps.test", Secure: true, Token: "tok"}, mt, WithTimeout(20*time.Millisecond))

	_, err := client.SetCode(context.Background(), "default", testModulesMap(t))
	require.Error(t, err)

	var timeoutErr interface{ Timeout() bool }
	require.True(t, errors.As(err, &timeoutErr), "expected a timeout error, got %v", err)
	assert.True(t, timeoutErr.Timeout())
}

func TestRequestLoggingToggle(t *testing.T) {
	for _, enabled := range []bool{true, false} {
		mt := httpmock.NewMockTransport()
		mt.RegisterResponder(http.MethodPost, codeURL, httpmock.NewStringResponder(http.StatusOK, `{"ok":1}`))

		core, logs := observer.New(zap.InfoLevel)
		client, err := NewClient(Credentials{Host: "screeps.test", Secure: true, Token: "tok"}, zap.New(core),
			WithTransport(mt), WithLogging(enabled))
		require.NoError(t, err)

		_, err = client.SetCode(context.Background(), "default", testModulesMap(t))
		require.NoError(t, err)

		entries := logs.FilterMessage("request completed").All()
		if !enabled {
			assert.Empty(t, entries)
			continue
		}
		require.Len(t, entries, 1)
		fields := entries[0].ContextMap()
		assert.Equal(t, "/api/user/code", fields["path"])
		assert.NotContains(t, fields, "token")
	}
}

func TestNewClientDoesNotThrottleByDefault(t *testing.T) {
	client, err := NewClient(Credentials{Token: "tok"}, nil)
	require.NoError(t, err)

	ua, ok := client.httpClient.Transport.(*userAgentTransport)
	require.True(t, ok)
	limited, ok := ua.next.(*rateLimitTransport)
	require.True(t, ok)
	assert.Nil(t, limited.limiter)
	assert.Zero(t, client.httpClient.Timeout)
}
