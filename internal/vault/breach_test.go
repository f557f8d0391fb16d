package vault

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func digest(password string) string {
	sum := sha1.Sum([]byte(password))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

func newTestChecker(url string) *BreachChecker {
	c := NewBreachChecker(url, time.Second, zerolog.Nop())
	c.backoff = retry.WithMaxRetries(1, retry.NewConstant(time.Millisecond))
	return c
}

func TestBreachCheckSendsOnlyPrefix(t *testing.T) {
	pwned := digest("password123")

	var gotPath, gotPadding string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotPadding = r.Header.Get("Add-Padding")
		fmt.Fprintf(w, "0018A45C4D1DEF81644B54AB7F969B88D65:1\r\n%s:24230577\r\n%s:0\r\n", pwned[5:], digest("padding")[5:])
	}))
	defer srv.Close()

	c := newTestChecker(srv.URL)
	assert.True(t, c.Check(context.Background(), "password123"))
	assert.Equal(t, "/range/"+pwned[:5], gotPath)
	assert.Equal(t, "true", gotPadding)
	assert.NotContains(t, gotPath, pwned[5:])
}

func TestBreachCheckNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "0018A45C4D1DEF81644B54AB7F969B88D65:1\n00D4F6E8FA6EECAD2A3AA415EEC418D38EC:2\n")
	}))
	defer srv.Close()

	assert.False(t, newTestChecker(srv.URL).Check(context.Background(), "Un1que-And-Long-Passphrase"))
}

func TestBreachCheckIgnoresPaddingEntries(t *testing.T) {
	pw := "padded-password"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "%s:0\n", digest(pw)[5:])
	}))
	defer srv.Close()

	assert.False(t, newTestChecker(srv.URL).Check(context.Background(), pw))
}

func TestBreachCheckFailsOpen(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	assert.False(t, newTestChecker(srv.URL).Check(context.Background(), "password123"))
	assert.Equal(t, int32(2), calls.Load(), "server errors are retried once")
}

func TestBreachCheckClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	assert.False(t, newTestChecker(srv.URL).Check(context.Background(), "password123"))
	assert.Equal(t, int32(1), calls.Load())
}

func TestBreachCheckUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	assert.False(t, newTestChecker(url).Check(context.Background(), "password123"))
}

func TestVaultCheckForBreaches(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "%s:3\n", digest("p1")[5:])
	}))
	defer srv.Close()

	clock := &fakeClock{now: time.Now()}
	v := New(openDB(t), newEngine(t), WithClock(clock.Now), WithBreachChecker(newTestChecker(srv.URL)))
	require.True(t, v.CheckForBreaches(context.Background(), "p1"))
	require.False(t, v.CheckForBreaches(context.Background(), "p2"))
}
