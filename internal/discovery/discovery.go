// Package discovery finds the current schedule document for every facility
// by scraping the public facility pages.
package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path"
	"sort"
	"strings"

	"golang.org/x/net/html"

	"github.com/fwextensions/sf-pools/internal/domain"
	"github.com/fwextensions/sf-pools/internal/fetcher"
	"github.com/fwextensions/sf-pools/internal/fileutil"
	"github.com/fwextensions/sf-pools/internal/registry"
)

// ErrStructuralDrift means the listing page no longer agrees with the registry
var ErrStructuralDrift = errors.New("structural drift")

// Discoverer produces one source per registered facility
type Discoverer interface {
	Discover(ctx context.Context) ([]domain.DiscoveredSource, error)
}

// Getter is the subset of fetcher.Client used for scraping
type Getter interface {
	Get(ctx context.Context, rawURL string, headers map[string]string) (*fetcher.Response, error)
}

// HTMLDiscoverer scrapes the facility listing page and each facility page
type HTMLDiscoverer struct {
	client     Getter
	registry   *registry.Registry
	listingURL string
	logger     *slog.Logger
}

// NewHTML creates an HTMLDiscoverer
func NewHTML(client Getter, reg *registry.Registry, listingURL string, logger *slog.Logger) *HTMLDiscoverer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &HTMLDiscoverer{client: client, registry: reg, listingURL: listingURL, logger: logger}
}

// Link is an anchor found on a page, with its href resolved against the page URL
type Link struct {
	Href string
	Text string
}

// Discover validates the listing page against the registry, then picks the
// best-scoring document link on every facility page
func (d *HTMLDiscoverer) Discover(ctx context.Context) ([]domain.DiscoveredSource, error) {
	pages, err := d.facilityPages(ctx)
	if err != nil {
		return nil, err
	}

	sources := make([]domain.DiscoveredSource, 0, len(pages))
	for _, id := range d.registry.AllIDs() {
		src := domain.DiscoveredSource{FacilityID: id, FacilityPageURL: pages[id]}

		resp, err := d.client.Get(ctx, src.FacilityPageURL, nil)
		if err != nil {
			d.logger.Warn("facility page fetch failed", "facility", id, "url", src.FacilityPageURL, "error", err)
			sources = append(sources, src)
			continue
		}

		links, err := ParseLinks(resp.Body, resp.URL)
		if err != nil {
			d.logger.Warn("facility page parse failed", "facility", id, "error", err)
			sources = append(sources, src)
			continue
		}

		entry, _ := d.registry.Lookup(id)
		if best, ok := BestDocument(links, entry.ShortName); ok {
			src.DocumentURL = best.Href
			d.logger.Info("document discovered", "facility", id, "url", best.Href)
		} else {
			d.logger.Warn("no schedule document found", "facility", id, "page", src.FacilityPageURL)
		}
		sources = append(sources, src)
	}
	return sources, nil
}

// facilityPages maps every registry id to its facility page URL as linked
// from the listing page. Missing or unrecognized pool links are drift.
func (d *HTMLDiscoverer) facilityPages(ctx context.Context) (map[string]string, error) {
	resp, err := d.client.Get(ctx, d.listingURL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch listing: %w", err)
	}
	links, err := ParseLinks(resp.Body, resp.URL)
	if err != nil {
		return nil, fmt.Errorf("parse listing: %w", err)
	}

	pages := make(map[string]string)
	var unresolved []string
	for _, l := range links {
		if !isFacilityLink(l) {
			continue
		}
		id, ok := d.registry.Resolve(l.Text)
		if !ok {
			unresolved = append(unresolved, l.Text)
			continue
		}
		if _, seen := pages[id]; !seen {
			pages[id] = l.Href
		}
	}

	var missing []string
	for _, id := range d.registry.AllIDs() {
		if _, ok := pages[id]; !ok {
			missing = append(missing, id)
		}
	}

	if len(missing) > 0 || len(unresolved) > 0 {
		return nil, fmt.Errorf("%w: listing has %d facilities, registry has %d (missing %v, unrecognized %q)",
			ErrStructuralDrift, len(pages)+len(unresolved), d.registry.Len(), missing, unresolved)
	}
	return pages, nil
}

func isFacilityLink(l Link) bool {
	text := strings.ToLower(l.Text)
	href := strings.ToLower(l.Href)
	return strings.Contains(text, "pool") && strings.Contains(href, "facilit")
}

// ParseLinks returns every anchor in an HTML document
func ParseLinks(body []byte, pageURL string) ([]Link, error) {
	doc, err := html.Parse(strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid page URL: %w", err)
	}

	var links []Link
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			href := attr(n, "href")
			if href != "" && !strings.HasPrefix(href, "#") && !strings.HasPrefix(strings.ToLower(href), "javascript:") {
				if ref, err := url.Parse(strings.TrimSpace(href)); err == nil {
					text := strings.Join(strings.Fields(nodeText(n)), " ")
					if text == "" {
						text = attr(n, "title")
					}
					links = append(links, Link{Href: base.ResolveReference(ref).String(), Text: text})
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return links, nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func nodeText(n *html.Node) string {
	var sb strings.Builder
	var collect func(*html.Node)
	collect = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteString(" ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			collect(c)
		}
	}
	collect(n)
	return sb.String()
}

// Score rates how likely a link is to be the facility's current schedule PDF
func Score(l Link, shortName string) int {
	text := strings.ToLower(l.Text)
	href := strings.ToLower(l.Href)
	both := text + " " + href

	score := 0
	if u, err := url.Parse(href); err == nil && strings.EqualFold(path.Ext(u.Path), ".pdf") {
		score += 5
	} else if !strings.Contains(href, "documentcenter") && !strings.Contains(href, "showpublisheddocument") {
		// not a document at all
		return 0
	}
	if strings.Contains(both, "schedule") {
		score += 3
	}
	if strings.Contains(both, "pool") || strings.Contains(both, "swim") {
		score += 2
	}
	if strings.Contains(both, "aquatic") {
		score++
	}
	if name := strings.ToLower(strings.TrimSpace(shortName)); name != "" && strings.Contains(both, name) {
		score += 2
	}
	for _, stale := range []string{"archive", "previous", "past", "old schedule"} {
		if strings.Contains(both, stale) {
			score -= 4
		}
	}
	return score
}

// BestDocument picks the highest scoring link; the first one wins ties
func BestDocument(links []Link, shortName string) (Link, bool) {
	var best Link
	bestScore := 0
	for _, l := range links {
		if s := Score(l, shortName); s > bestScore {
			best, bestScore = l, s
		}
	}
	return best, bestScore > 0
}

// SaveSources writes discovered sources to path as JSON
func SaveSources(path string, sources []domain.DiscoveredSource) error {
	sorted := append([]domain.DiscoveredSource(nil), sources...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].FacilityID < sorted[j].FacilityID })
	data, err := json.MarshalIndent(sorted, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal sources: %w", err)
	}
	if err := fileutil.WriteAtomic(path, append(data, '\n')); err != nil {
		return fmt.Errorf("write sources: %w", err)
	}
	return nil
}

// LoadSources reads sources written by SaveSources; a missing file is empty
func LoadSources(path string) ([]domain.DiscoveredSource, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read sources: %w", err)
	}
	var sources []domain.DiscoveredSource
	if err := json.Unmarshal(data, &sources); err != nil {
		return nil, fmt.Errorf("parse sources: %w", err)
	}
	return sources, nil
}
