// Package crawl implements the minimal URL queue the experiment
// controller consumes: a per-run URL budget, a per-run domain cap,
// a visited set, and link extraction from fetched HTML.
package crawl

import (
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// ExcludedExtensions are skipped by Enqueue — static assets that are
// never worth attacking or crawling further.
var ExcludedExtensions = []string{
	".png", ".jpg", ".jpeg", ".gif", ".svg", ".ico", ".woff", ".woff2",
	".ttf", ".eot", ".mp4", ".webm", ".pdf", ".zip",
}

// Queue is the crawler interface the experiment controller consumes.
type Queue interface {
	ShouldContinue() bool
	NextURL() (string, bool)
	Enqueue(rawURL string) error
	MarkVisited(rawURL string)
	Visited(rawURL string) bool
	VisitedList() []string
	Pending() []string
	ExtractLinks(base, htmlBody string) []string
}

// memQueue is an in-memory Queue implementation: a FIFO of pending
// URLs, a visited set, and budget counters.
type memQueue struct {
	pending []string
	visited map[string]bool
	domains map[string]int

	maxURLs    int
	maxDomains int
	seenCount  int

	exclude []*regexp.Regexp
}

// New returns an empty Queue bounded by maxURLs total fetches and
// maxDomains distinct domains, excluding any URL matching one of the
// exclude regexes or ending in an ExcludedExtensions suffix.
func New(maxURLs, maxDomains int, exclude []string) (Queue, error) {
	q := &memQueue{
		visited:    make(map[string]bool),
		domains:    make(map[string]int),
		maxURLs:    maxURLs,
		maxDomains: maxDomains,
	}
	for _, pattern := range exclude {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, err
		}
		q.exclude = append(q.exclude, re)
	}
	return q, nil
}

func (q *memQueue) ShouldContinue() bool {
	if q.maxURLs > 0 && q.seenCount >= q.maxURLs {
		return false
	}
	if q.maxDomains > 0 && len(q.domains) >= q.maxDomains && len(q.pending) == 0 {
		return false
	}
	return len(q.pending) > 0 || q.seenCount == 0
}

func (q *memQueue) NextURL() (string, bool) {
	if len(q.pending) == 0 {
		return "", false
	}
	next := q.pending[0]
	q.pending = q.pending[1:]
	q.seenCount++
	return next, true
}

func (q *memQueue) Enqueue(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	if hasExcludedExtension(u.Path) {
		return nil
	}
	for _, re := range q.exclude {
		if re.MatchString(rawURL) {
			return nil
		}
	}
	if q.visited[rawURL] {
		return nil
	}
	if q.maxDomains > 0 {
		if _, seen := q.domains[u.Host]; !seen && len(q.domains) >= q.maxDomains {
			return nil
		}
	}

	q.domains[u.Host]++
	q.pending = append(q.pending, rawURL)
	return nil
}

func (q *memQueue) MarkVisited(rawURL string) {
	q.visited[rawURL] = true
}

func (q *memQueue) Visited(rawURL string) bool {
	return q.visited[rawURL]
}

// VisitedList returns every URL marked visited, for crawl-log persistence.
func (q *memQueue) VisitedList() []string {
	out := make([]string, 0, len(q.visited))
	for u := range q.visited {
		out = append(out, u)
	}
	return out
}

// Pending returns a snapshot of the still-queued URLs without
// consuming them, for crawl-log persistence.
func (q *memQueue) Pending() []string {
	out := make([]string, len(q.pending))
	copy(out, q.pending)
	return out
}

// ExtractLinks parses htmlBody and returns every same-origin absolute
// link it finds, resolved against base.
func (q *memQueue) ExtractLinks(base, htmlBody string) []string {
	return extractLinks(base, htmlBody)
}

func hasExcludedExtension(path string) bool {
	lower := strings.ToLower(path)
	for _, ext := range ExcludedExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

func extractLinks(base, htmlBody string) []string {
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil
	}

	tokenizer := html.NewTokenizer(strings.NewReader(htmlBody))
	var links []string
	seen := make(map[string]bool)

	for {
		tt := tokenizer.Next()
		if tt == html.ErrorToken {
			break
		}
		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			continue
		}
		token := tokenizer.Token()
		if token.Data != "a" {
			continue
		}
		for _, attr := range token.Attr {
			if attr.Key != "href" {
				continue
			}
			resolved, err := baseURL.Parse(attr.Val)
			if err != nil {
				continue
			}
			if resolved.Host != baseURL.Host {
				continue
			}
			resolved.Fragment = ""
			s := resolved.String()
			if !seen[s] {
				seen[s] = true
				links = append(links, s)
			}
		}
	}
	return links
}
