package vault

import (
	"bufio"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
)

const (
	DefaultBreachAPI     = "https://api.pwnedpasswords.com"
	DefaultBreachTimeout = 5 * time.Second

	prefixLen = 5
)

// BreachChecker queries a k-anonymity password range API. Only the first
// five hex characters of the SHA-1 digest leave the process.
type BreachChecker struct {
	baseURL string
	client  *http.Client
	backoff retry.Backoff
	log     zerolog.Logger
}

// NewBreachChecker creates a checker against baseURL
func NewBreachChecker(baseURL string, timeout time.Duration, log zerolog.Logger) *BreachChecker {
	return &BreachChecker{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		backoff: retry.WithMaxRetries(2, retry.NewExponential(200*time.Millisecond)),
		log:     log,
	}
}

// Check reports whether password appears in the corpus. Any lookup failure
// is logged and reported as not breached.
func (b *BreachChecker) Check(ctx context.Context, password string) bool {
	sum := sha1.Sum([]byte(password))
	digest := strings.ToUpper(hex.EncodeToString(sum[:]))
	prefix, suffix := digest[:prefixLen], digest[prefixLen:]

	var found bool
	err := retry.Do(ctx, b.backoff, func(ctx context.Context) error {
		var err error
		found, err = b.lookup(ctx, prefix, suffix)
		return err
	})
	if err != nil {
		b.log.Warn().Err(err).Msg("breach lookup failed")
		return false
	}
	return found
}

func (b *BreachChecker) lookup(ctx context.Context, prefix, suffix string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/range/"+prefix, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Add-Padding", "true")
	req.Header.Set("User-Agent", "privkeep")

	resp, err := b.client.Do(req)
	if err != nil {
		return false, retry.RetryableError(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return false, retry.RetryableError(fmt.Errorf("range query failed: %s", resp.Status))
	case resp.StatusCode != http.StatusOK:
		return false, fmt.Errorf("range query failed: %s", resp.Status)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		hashSuffix, count, ok := strings.Cut(line, ":")
		if !ok || !strings.EqualFold(hashSuffix, suffix) {
			continue
		}
		// padding entries carry a zero count
		if strings.TrimSpace(count) == "0" {
			continue
		}
		return true, nil
	}
	if err := scanner.Err(); err != nil {
		return false, retry.RetryableError(err)
	}
	return false, nil
}
