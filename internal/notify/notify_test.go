package notify

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fwextensions/sf-pools/internal/changelog"
)

func sampleChangelog(severity changelog.Severity) changelog.Changelog {
	return changelog.Changelog{
		Severity: severity,
		Summary:  changelog.Summary{FacilitiesChanged: 1, ProgramsModified: 1, TotalChanges: 1},
		Changes: []changelog.FacilityChange{{
			ID:               "balboa",
			Name:             "Balboa Pool",
			ProgramsModified: 1,
		}},
		Warnings: []string{"entity removed: Old Pool"},
	}
}

func TestFromChangelog(t *testing.T) {
	msg := FromChangelog(sampleChangelog(changelog.SeverityMinor), "https://example.com/changelogs/2025-06-01.json")

	assert.Equal(t, "SF pools schedule update (minor)", msg.Title)
	assert.Equal(t, 0, msg.Priority)
	assert.Contains(t, msg.Message, "0 added, 0 removed, 1 modified across 1 facilities")
	assert.Contains(t, msg.Message, "Balboa Pool: +0 -0 ~1")
	assert.Contains(t, msg.Message, "warning: entity removed: Old Pool")
	assert.Equal(t, "View changelog", msg.URLTitle)

	assert.Equal(t, 1, FromChangelog(sampleChangelog(changelog.SeverityWholesale), "").Priority)
	assert.Empty(t, FromChangelog(sampleChangelog(changelog.SeverityMajor), "").URL)
}

func TestPushoverNotify(t *testing.T) {
	var mu sync.Mutex
	var got url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		mu.Lock()
		got = r.PostForm
		mu.Unlock()
		w.Write([]byte(`{"status":1,"request":"abc"}`))
	}))
	defer srv.Close()

	p, err := NewPushover("tok", "usr")
	require.NoError(t, err)
	p.WithEndpoint(srv.URL)

	err = p.Notify(context.Background(), Message{Title: "t", Message: "m", Priority: 1, URL: "https://x", URLTitle: "x"})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "tok", got.Get("token"))
	assert.Equal(t, "usr", got.Get("user"))
	assert.Equal(t, "1", got.Get("priority"))
	assert.Equal(t, "https://x", got.Get("url"))
}

func TestPushoverErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"status":0,"errors":["user identifier is invalid"]}`))
	}))
	defer srv.Close()

	p, err := NewPushover("tok", "usr")
	require.NoError(t, err)
	err = p.WithEndpoint(srv.URL).Notify(context.Background(), Message{Title: "t", Message: "m"})
	assert.ErrorContains(t, err, "user identifier is invalid")

	_, err = NewPushover("", "usr")
	assert.Error(t, err)
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := NewLogNotifier(slog.New(slog.NewTextHandler(&buf, nil)))

	require.NoError(t, n.Notify(context.Background(), Message{Title: "update", Message: "body", Priority: 1}))
	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), "update")
}
