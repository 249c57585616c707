// Package usage polls the upstream account quota endpoint with locally
// stored credentials. Results are memoized for 30 s; every failure path
// returns nil rather than an error, the caller treats missing data as
// "unknown".
package usage

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

const (
	endpointURL    = "https://api.anthropic.com/api/oauth/usage"
	requestTimeout = 10 * time.Second
	cacheTTL       = 30 * time.Second
	cacheKey       = "limits"

	// EnvToken is the last-resort credential source.
	EnvToken = "CLAUDE_CODE_OAUTH_TOKEN"
)

// Window is one rate-limit window as reported upstream.
type Window struct {
	Utilization float64 `json:"utilization"`
	ResetsAt    string  `json:"resets_at,omitempty"`
}

// Limits is the account quota snapshot.
type Limits struct {
	FiveHour     *Window `json:"five_hour,omitempty"`
	SevenDay     *Window `json:"seven_day,omitempty"`
	SevenDayOpus *Window `json:"seven_day_opus,omitempty"`
}

// Client fetches usage limits. Safe for concurrent use.
type Client struct {
	httpClient *http.Client
	cache      *gocache.Cache
	// tokenFunc is overridable in tests.
	tokenFunc func() string
}

// NewClient creates a memoizing usage client.
func NewClient() *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: requestTimeout},
		cache:      gocache.New(cacheTTL, time.Minute),
	}
	c.tokenFunc = c.lookupToken
	return c
}

// Get returns the current limits, from cache when fresh. Nil means the
// credentials or the endpoint were unavailable.
func (c *Client) Get(ctx context.Context) *Limits {
	if cached, ok := c.cache.Get(cacheKey); ok {
		return cached.(*Limits)
	}

	token := c.tokenFunc()
	if token == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpointURL, nil)
	if err != nil {
		return nil
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Printf("[usage] fetch failed: %v", err)
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Printf("[usage] upstream returned %d", resp.StatusCode)
		return nil
	}

	var limits Limits
	if err := json.NewDecoder(resp.Body).Decode(&limits); err != nil {
		log.Printf("[usage] decode failed: %v", err)
		return nil
	}
	c.cache.SetDefault(cacheKey, &limits)
	return &limits
}

// lookupToken walks the credential chain: credentials file, macOS keychain,
// then the environment variable.
func (c *Client) lookupToken() string {
	if token := tokenFromCredentialsFile(); token != "" {
		return token
	}
	if runtime.GOOS == "darwin" {
		if token := tokenFromKeychain(); token != "" {
			return token
		}
	}
	return os.Getenv(EnvToken)
}

type credentialsFile struct {
	ClaudeAiOauth struct {
		AccessToken string `json:"accessToken"`
	} `json:"claudeAiOauth"`
}

func tokenFromCredentialsFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	data, err := os.ReadFile(filepath.Join(home, ".claude", ".credentials.json"))
	if err != nil {
		return ""
	}
	var creds credentialsFile
	if err := json.Unmarshal(data, &creds); err != nil {
		return ""
	}
	return creds.ClaudeAiOauth.AccessToken
}

func tokenFromKeychain() string {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, "security", "find-generic-password",
		"-s", "Claude Code-credentials", "-w").Output()
	if err != nil {
		return ""
	}
	raw := strings.TrimSpace(string(out))
	if raw == "" {
		return ""
	}
	// The keychain item holds the same JSON document as the file.
	var creds credentialsFile
	if err := json.Unmarshal([]byte(raw), &creds); err != nil {
		return raw
	}
	return creds.ClaudeAiOauth.AccessToken
}
