package main

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

const (
	e2eToken = "gho_e2e"

	codeBody  = `{"device_code":"dc-e2e","user_code":"WDJBMJHT","verification_uri":"https://github.com/login/device","expires_in":900,"interval":5}`
	usageBody = `{
		"copilot_plan": "individual",
		"quota_reset_date": "2026-11-01",
		"quota_snapshots": {
			"premium_interactions": {"entitlement": 300, "remaining": 210, "percent_remaining": 70, "unlimited": false},
			"chat": {"entitlement": 0, "remaining": 0, "percent_remaining": 100, "unlimited": true}
		}
	}`
)

// fakeGitHub serves the device code, token and usage endpoints
type fakeGitHub struct {
	*httptest.Server
	tokenReply string
	usageHits  atomic.Int32
}

func newFakeGitHub(t *testing.T, tokenReply string) *fakeGitHub {
	t.Helper()
	g := &fakeGitHub{tokenReply: tokenReply}

	mux := http.NewServeMux()
	mux.HandleFunc("/login/device/code", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, codeBody)
	})
	mux.HandleFunc("/login/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, g.tokenReply)
	})
	mux.HandleFunc("/copilot_internal/user", func(w http.ResponseWriter, r *http.Request) {
		g.usageHits.Add(1)
		if r.Header.Get("Authorization") != "Bearer "+e2eToken {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"message":"Bad credentials"}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, usageBody)
	})

	g.Server = httptest.NewServer(mux)
	t.Cleanup(g.Close)
	return g
}

// testConfig points every endpoint at g. A nil mr keeps credentials in
// memory.
func testConfig(g *fakeGitHub, mr *miniredis.Miniredis) Config {
	cfg := Config{
		Account:         "github",
		DeviceAuthURL:   g.URL + "/login/device/code",
		TokenURL:        g.URL + "/login/oauth/access_token",
		UsageURL:        g.URL + "/copilot_internal/user",
		RefreshInterval: time.Hour,
		FetchTimeout:    5 * time.Second,
		MaxPollInterval: time.Minute,
		SnapshotTTL:     time.Hour,
	}
	if mr != nil {
		cfg.RedisURL = "redis://" + mr.Addr()
	}
	return cfg
}
