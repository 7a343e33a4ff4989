package scan

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"

	"newsrun/internal/resilience/circuitbreaker"
)

// Sentinel errors for content extraction, mirrored from the teacher's
// fetch package so the scan pipeline's failure classification
// (spec §4.2 step 5) can switch on them directly.
var (
	ErrInvalidURL        = errors.New("invalid URL or unsupported scheme")
	ErrPrivateIP         = errors.New("private IP access denied (SSRF prevention)")
	ErrTooManyRedirects  = errors.New("too many redirects")
	ErrBodyTooLarge      = errors.New("response body too large")
	ErrExtractTimeout    = errors.New("request timeout")
	ErrReadabilityFailed = errors.New("content extraction failed")
)

// ExtractConfig controls the content extractor's security and
// performance envelope (spec §6: "request_timeout_seconds", plus the
// SSRF/size/redirect knobs supplemented from the teacher's
// fetcher.ContentFetchConfig).
type ExtractConfig struct {
	Timeout        time.Duration
	MaxBodySize    int64
	MaxRedirects   int
	DenyPrivateIPs bool
}

// DefaultExtractConfig returns the spec's documented 30s per-request
// timeout (§5 "Per-request timeouts") plus the teacher's SSRF/size defaults.
func DefaultExtractConfig() ExtractConfig {
	return ExtractConfig{
		Timeout:        30 * time.Second,
		MaxBodySize:    10 * 1024 * 1024,
		MaxRedirects:   5,
		DenyPrivateIPs: true,
	}
}

// ExtractedContent is the result of extracting one article's content.
type ExtractedContent struct {
	Text  string
	Title string
	// PublishedAt and DateFound ground the date_extraction_service.py
	// HTML-meta-tag fallback (SPEC_FULL.md §D): set only when the fetched
	// page carries a recognizable date meta tag, for the pipeline to use
	// when the feed entry itself had no usable date.
	PublishedAt time.Time
	DateFound   bool
}

// ContentFetcher fetches and extracts article content from a URL. This
// is the per-article extraction step of spec §4.2 step 3 (out of core
// scope per spec.md §1, consumed here as a thin interface).
type ContentFetcher interface {
	FetchContent(ctx context.Context, articleURL string) (ExtractedContent, error)
}

// ReadabilityExtractor implements ContentFetcher with Mozilla
// Readability (go-shiori/go-readability), SSRF-safe URL validation, and
// a circuit breaker, adapted from the teacher's fetcher.ReadabilityFetcher.
type ReadabilityExtractor struct {
	client         *http.Client
	circuitBreaker *circuitbreaker.CircuitBreaker
	config         ExtractConfig
}

// NewReadabilityExtractor builds a ReadabilityExtractor with a
// redirect-validating HTTP client and the teacher's WebScraperConfig
// circuit breaker tuning (higher tolerance than an API call: articles
// fail for many benign reasons).
func NewReadabilityExtractor(cfg ExtractConfig) *ReadabilityExtractor {
	cb := circuitbreaker.New(circuitbreaker.WebScraperConfig())
	extractor := &ReadabilityExtractor{circuitBreaker: cb, config: cfg}

	extractor.client = &http.Client{
		Timeout: cfg.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= extractor.config.MaxRedirects {
				return fmt.Errorf("%w: %d redirects", ErrTooManyRedirects, len(via))
			}
			if err := validateURL(req.URL.String(), extractor.config.DenyPrivateIPs); err != nil {
				return fmt.Errorf("redirect target validation failed: %w", err)
			}
			return nil
		},
	}
	return extractor
}

// FetchContent validates articleURL, fetches it through the circuit
// breaker, and extracts clean text plus a title (falling back to the
// page's <title> tag via goquery when Readability finds none).
func (e *ReadabilityExtractor) FetchContent(ctx context.Context, articleURL string) (ExtractedContent, error) {
	if err := validateURL(articleURL, e.config.DenyPrivateIPs); err != nil {
		return ExtractedContent{}, err
	}

	result, err := e.circuitBreaker.Execute(func() (interface{}, error) {
		return e.doFetch(ctx, articleURL)
	})
	if err != nil {
		return ExtractedContent{}, err
	}
	return result.(ExtractedContent), nil
}

func (e *ReadabilityExtractor) doFetch(ctx context.Context, articleURL string) (ExtractedContent, error) {
	reqCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, articleURL, nil)
	if err != nil {
		return ExtractedContent{}, fmt.Errorf("%w: failed to create request: %v", ErrInvalidURL, err)
	}
	req.Header.Set("User-Agent", "NewsRunScanBot/1.0")

	resp, err := e.client.Do(req)
	if err != nil {
		if reqCtx.Err() == context.DeadlineExceeded {
			return ExtractedContent{}, fmt.Errorf("%w: request exceeded %v", ErrExtractTimeout, e.config.Timeout)
		}
		var urlErr *url.Error
		if errors.As(err, &urlErr) && urlErr.Err != nil {
			return ExtractedContent{}, urlErr.Err
		}
		return ExtractedContent{}, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ExtractedContent{}, httpStatusError(resp.StatusCode)
	}

	limited := io.LimitReader(resp.Body, e.config.MaxBodySize+1)
	htmlBytes, err := io.ReadAll(limited)
	if err != nil {
		return ExtractedContent{}, fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(htmlBytes)) > e.config.MaxBodySize {
		return ExtractedContent{}, fmt.Errorf("%w: response size %d bytes exceeds limit %d bytes",
			ErrBodyTooLarge, len(htmlBytes), e.config.MaxBodySize)
	}

	parsedURL := resp.Request.URL
	article, err := readability.FromReader(bytes.NewReader(htmlBytes), parsedURL)
	if err != nil {
		return ExtractedContent{}, fmt.Errorf("%w: %v", ErrReadabilityFailed, err)
	}

	text := article.TextContent
	if text == "" {
		text = article.Content
	}
	if text == "" {
		return ExtractedContent{}, fmt.Errorf("%w: no readable content found", ErrReadabilityFailed)
	}

	title := article.Title
	if title == "" {
		title = fallbackTitle(htmlBytes)
	}

	publishedAt, dateFound := extractPublishedTime(htmlBytes)

	return ExtractedContent{Text: text, Title: title, PublishedAt: publishedAt, DateFound: dateFound}, nil
}

// fallbackTitle extracts the document's <title> tag with goquery when
// Readability's own title heuristic comes up empty.
func fallbackTitle(htmlBytes []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(htmlBytes))
	if err != nil {
		return ""
	}
	return doc.Find("title").First().Text()
}

// metaDateSelectors are the article-date meta tags probed in order,
// grounded in date_extraction_service.py's strategy 2
// (_extract_date_from_html): OpenGraph/article first, then the common
// fallbacks other publishing platforms use.
var metaDateSelectors = []string{
	`meta[property="article:published_time"]`,
	`meta[name="article:published_time"]`,
	`meta[name="publish-date"]`,
	`meta[name="publication_date"]`,
	`meta[name="date"]`,
	`meta[itemprop="datePublished"]`,
	`time[datetime]`,
}

// extractPublishedTime probes htmlBytes for a publication-date meta tag
// when the feed entry itself carried none (spec §4.2 step 2 falls back
// straight to time.Now(); this tightens that fallback before giving up).
func extractPublishedTime(htmlBytes []byte) (time.Time, bool) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(htmlBytes))
	if err != nil {
		return time.Time{}, false
	}
	for _, selector := range metaDateSelectors {
		sel := doc.Find(selector).First()
		if sel.Length() == 0 {
			continue
		}
		value, ok := sel.Attr("content")
		if !ok {
			value, ok = sel.Attr("datetime")
		}
		if !ok || value == "" {
			continue
		}
		if t, ok := parseDate(value); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

// httpStatusError wraps a non-200 HTTP response status in a sentinel
// the scan pipeline's failure classifier recognizes.
func httpStatusError(status int) error {
	switch {
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("HTTP %d: %w", status, ErrHTTP429)
	case status == http.StatusForbidden:
		return fmt.Errorf("HTTP %d: %w", status, ErrHTTP403)
	case status >= 500:
		return fmt.Errorf("HTTP %d: %w", status, ErrHTTP500)
	default:
		return fmt.Errorf("HTTP %d", status)
	}
}

// Sentinel HTTP-class errors the scan pipeline's failure classifier
// (spec §4.2 step 5) matches on directly.
var (
	ErrHTTP429 = errors.New("too many requests")
	ErrHTTP403 = errors.New("forbidden")
	ErrHTTP500 = errors.New("upstream server error")
)

// validateURL is the SSRF guard shared by the extractor's initial
// fetch and every redirect hop, ported from the teacher's
// fetcher.validateURL/isPrivateIP.
func validateURL(urlStr string, denyPrivateIPs bool) error {
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("%w: parse error: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme %q not allowed (only http/https)", ErrInvalidURL, u.Scheme)
	}
	hostname := u.Hostname()
	if hostname == "" {
		return fmt.Errorf("%w: empty hostname", ErrInvalidURL)
	}
	if !denyPrivateIPs {
		return nil
	}

	ips, err := net.LookupIP(hostname)
	if err != nil {
		return fmt.Errorf("%w: DNS lookup failed for %s: %v", ErrInvalidURL, hostname, err)
	}
	for _, ip := range ips {
		if isPrivateIP(ip) {
			return fmt.Errorf("%w: hostname %q resolves to private IP %s", ErrPrivateIP, hostname, ip.String())
		}
	}
	return nil
}

func isPrivateIP(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast()
}
