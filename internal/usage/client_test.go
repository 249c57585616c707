package usage

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func stubClient(token string, status int, body string) (*Client, *int) {
	calls := 0
	c := NewClient()
	c.tokenFunc = func() string { return token }
	c.httpClient = &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		calls++
		return &http.Response{
			StatusCode: status,
			Body:       io.NopCloser(strings.NewReader(body)),
			Header:     http.Header{"Content-Type": []string{"application/json"}},
			Request:    r,
		}, nil
	})}
	return c, &calls
}

func TestGetParsesAndCaches(t *testing.T) {
	c, calls := stubClient("tok-123", http.StatusOK,
		`{"five_hour":{"utilization":42.5,"resets_at":"2026-08-24T12:00:00Z"},"seven_day":{"utilization":10}}`)

	limits := c.Get(context.Background())
	require.NotNil(t, limits)
	require.NotNil(t, limits.FiveHour)
	assert.Equal(t, 42.5, limits.FiveHour.Utilization)
	assert.Equal(t, "2026-08-24T12:00:00Z", limits.FiveHour.ResetsAt)
	require.NotNil(t, limits.SevenDay)
	assert.Nil(t, limits.SevenDayOpus)

	// The second call inside the TTL must come from cache.
	again := c.Get(context.Background())
	assert.Same(t, limits, again)
	assert.Equal(t, 1, *calls)
}

func TestGetSendsBearerToken(t *testing.T) {
	c := NewClient()
	c.tokenFunc = func() string { return "tok-abc" }
	var auth string
	c.httpClient = &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		auth = r.Header.Get("Authorization")
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(`{}`)), Request: r}, nil
	})}

	require.NotNil(t, c.Get(context.Background()))
	assert.Equal(t, "Bearer tok-abc", auth)
}

func TestGetWithoutCredentials(t *testing.T) {
	c, calls := stubClient("", http.StatusOK, `{}`)
	assert.Nil(t, c.Get(context.Background()))
	assert.Equal(t, 0, *calls, "no request without a token")
}

func TestGetUpstreamError(t *testing.T) {
	c, _ := stubClient("tok", http.StatusForbidden, `{"error":"denied"}`)
	assert.Nil(t, c.Get(context.Background()))

	c, _ = stubClient("tok", http.StatusOK, `{not json`)
	assert.Nil(t, c.Get(context.Background()))
}

func TestFailuresAreNotCached(t *testing.T) {
	c, calls := stubClient("tok", http.StatusInternalServerError, `{}`)
	assert.Nil(t, c.Get(context.Background()))
	assert.Nil(t, c.Get(context.Background()))
	assert.Equal(t, 2, *calls, "errors must be retried, not memoized")
}
