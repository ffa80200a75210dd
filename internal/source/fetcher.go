package source

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	netfilterHelper "blockips/netfilter-helper"

	"github.com/miekg/dns"
	"github.com/rs/zerolog/log"
)

const DefaultTimeout = 30 * time.Second

// FetchError reports a failed retrieval; nothing downstream has been touched.
type FetchError struct {
	URL   string
	Cause error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to fetch %s: %v", e.URL, e.Cause)
}

func (e *FetchError) Unwrap() error {
	return e.Cause
}

type Fetcher struct {
	client  *http.Client
	timeout time.Duration
}

func New(client *http.Client, timeout time.Duration) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Fetcher{client: client, timeout: timeout}
}

func (f *Fetcher) get(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{URL: url, Cause: err}
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: url, Cause: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FetchError{URL: url, Cause: fmt.Errorf("unexpected status %s", resp.Status)}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{URL: url, Cause: fmt.Errorf("failed to read body: %w", err)}
	}
	return body, nil
}

// FetchIPs downloads a newline-delimited list of addresses and networks.
// A single line that is neither rejects the whole payload.
func (f *Fetcher) FetchIPs(ctx context.Context, url string) ([]string, error) {
	body, err := f.get(ctx, url)
	if err != nil {
		return nil, err
	}

	var entries []string
	scanner := bufio.NewScanner(bytes.NewReader(body))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if _, err := netfilterHelper.ParseEntry(line); err != nil {
			return nil, &FetchError{URL: url, Cause: fmt.Errorf("malformed payload: line %d: %w", lineNo, err)}
		}
		entries = append(entries, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, &FetchError{URL: url, Cause: fmt.Errorf("malformed payload: %w", err)}
	}
	log.Debug().Str("url", url).Int("entries", len(entries)).Msg("fetched ip list")
	return entries, nil
}

type ruleSet struct {
	Rules []struct {
		Domain []string `json:"domain"`
	} `json:"rules"`
}

// FetchDomains downloads a rule-set document and flattens the domain lists of
// every rule. Only names with a label separator survive.
func (f *Fetcher) FetchDomains(ctx context.Context, url string) ([]string, error) {
	body, err := f.get(ctx, url)
	if err != nil {
		return nil, err
	}

	var rs ruleSet
	if err := json.Unmarshal(body, &rs); err != nil {
		return nil, &FetchError{URL: url, Cause: fmt.Errorf("malformed payload: %w", err)}
	}

	var domains []string
	for _, rule := range rs.Rules {
		domains = append(domains, rule.Domain...)
	}
	domains = FilterDomains(domains)
	log.Debug().Str("url", url).Int("domains", len(domains)).Msg("fetched domain list")
	return domains, nil
}

// FilterDomains keeps names that contain a dot and are valid domain names,
// preserving order.
func FilterDomains(domains []string) []string {
	out := make([]string, 0, len(domains))
	for _, d := range domains {
		d = strings.TrimSpace(d)
		if !strings.Contains(d, ".") {
			continue
		}
		if strings.ContainsAny(d, "\"\\ \t") {
			log.Trace().Str("domain", d).Msg("skipping domain with unsafe characters")
			continue
		}
		if _, ok := dns.IsDomainName(d); !ok {
			log.Trace().Str("domain", d).Msg("skipping invalid domain")
			continue
		}
		out = append(out, d)
	}
	return out
}
