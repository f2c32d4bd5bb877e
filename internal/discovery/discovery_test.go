package discovery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fwextensions/sf-pools/internal/domain"
	"github.com/fwextensions/sf-pools/internal/fetcher"
	"github.com/fwextensions/sf-pools/internal/registry"
)

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	r, err := registry.New([]registry.Entry{
		{ID: "balboa", DisplayName: "Balboa Pool", ShortName: "Balboa"},
		{ID: "rossi", DisplayName: "Rossi Pool", ShortName: "Rossi", Aliases: []string{"Angelo J. Rossi Pool"}},
	})
	require.NoError(t, err)
	return r
}

func siteServer(t *testing.T, listing string, pages map[string]string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/pools", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, listing)
	})
	for p, body := range pages {
		body := body
		mux.HandleFunc(p, func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, body)
		})
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

const listingHTML = `<html><body><ul>
<li><a href="/facilities/balboa">Balboa Pool</a></li>
<li><a href="/facilities/rossi"><span>Angelo J. Rossi</span> Pool</a></li>
<li><a href="/about">About Rec &amp; Park</a></li>
</ul></body></html>`

func TestDiscoverFindsBestDocument(t *testing.T) {
	srv := siteServer(t, listingHTML, map[string]string{
		"/facilities/balboa": `<a href="/docs/archive-balboa-2023.pdf">Old Balboa schedule</a>
			<a href="/docs/balboa-pool-schedule.pdf">Balboa Pool Schedule</a>
			<a href="/map">Map</a>`,
		"/facilities/rossi": `<p>No schedule posted.</p><a href="#top">Top</a>`,
	})

	d := NewHTML(fetcher.NewClient(0, 5*time.Second), testRegistry(t), srv.URL+"/pools", nil)
	sources, err := d.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, sources, 2)

	assert.Equal(t, "balboa", sources[0].FacilityID)
	assert.Equal(t, srv.URL+"/facilities/balboa", sources[0].FacilityPageURL)
	assert.Equal(t, srv.URL+"/docs/balboa-pool-schedule.pdf", sources[0].DocumentURL)

	assert.Equal(t, "rossi", sources[1].FacilityID)
	assert.Empty(t, sources[1].DocumentURL)
}

func TestDiscoverReportsDrift(t *testing.T) {
	missing := `<a href="/facilities/balboa">Balboa Pool</a>`
	srv := siteServer(t, missing, nil)
	d := NewHTML(fetcher.NewClient(0, 5*time.Second), testRegistry(t), srv.URL+"/pools", nil)
	_, err := d.Discover(context.Background())
	assert.True(t, errors.Is(err, ErrStructuralDrift))
	assert.ErrorContains(t, err, "rossi")

	extra := listingHTML + `<a href="/facilities/new">Brand New Lagoon Pool</a>`
	srv = siteServer(t, extra, nil)
	d = NewHTML(fetcher.NewClient(0, 5*time.Second), testRegistry(t), srv.URL+"/pools", nil)
	_, err = d.Discover(context.Background())
	assert.True(t, errors.Is(err, ErrStructuralDrift))
	assert.ErrorContains(t, err, "Brand New Lagoon Pool")
}

func TestScore(t *testing.T) {
	pdf := Link{Href: "https://example.com/docs/balboa-schedule.pdf", Text: "Balboa Pool Schedule"}
	doc := Link{Href: "https://example.com/DocumentCenter/View/123", Text: "Pool schedule"}
	page := Link{Href: "https://example.com/swim", Text: "Swim programs"}
	old := Link{Href: "https://example.com/docs/archive.pdf", Text: "Past pool schedule"}

	assert.Equal(t, 12, Score(pdf, "Balboa"))
	assert.Equal(t, 5, Score(doc, "Balboa"))
	assert.Equal(t, 0, Score(page, "Balboa"))
	assert.Less(t, Score(old, "Balboa"), Score(pdf, "Balboa"))

	best, ok := BestDocument([]Link{page, doc, pdf}, "Balboa")
	require.True(t, ok)
	assert.Equal(t, pdf, best)

	_, ok = BestDocument([]Link{page}, "Balboa")
	assert.False(t, ok)
}

func TestParseLinksResolvesRelative(t *testing.T) {
	links, err := ParseLinks([]byte(`<a href="a.pdf"> A   doc </a><a href="javascript:void(0)">x</a><a title="T" href="/b"></a>`), "https://example.com/dir/page")
	require.NoError(t, err)
	require.Len(t, links, 2)
	assert.Equal(t, Link{Href: "https://example.com/dir/a.pdf", Text: "A doc"}, links[0])
	assert.Equal(t, Link{Href: "https://example.com/b", Text: "T"}, links[1])
}

func TestSourcesRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "discovered.json")
	got, err := LoadSources(path)
	require.NoError(t, err)
	assert.Empty(t, got)

	in := []domain.DiscoveredSource{
		{FacilityID: "rossi"},
		{FacilityID: "balboa", DocumentURL: "https://example.com/b.pdf"},
	}
	require.NoError(t, SaveSources(path, in))
	got, err = LoadSources(path)
	require.NoError(t, err)
	assert.Equal(t, []domain.DiscoveredSource{in[1], in[0]}, got)
}
