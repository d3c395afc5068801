package render

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdholdren/wishsync/internal/wishsync"
)

func TestIdleTracker(t *testing.T) {
	tr := newIdleTracker()

	tr.observe(&network.EventRequestWillBeSent{RequestID: "1"})
	assert.Zero(t, tr.quietFor())

	tr.observe(&network.EventLoadingFinished{RequestID: "1"})
	time.Sleep(20 * time.Millisecond)
	assert.GreaterOrEqual(t, tr.quietFor(), 20*time.Millisecond)

	// Unrelated events don't count as activity
	before := tr.quietFor()
	tr.observe(&network.EventDataReceived{RequestID: "2"})
	assert.GreaterOrEqual(t, tr.quietFor(), before)
}

func TestIdleTrackerWaitIsBounded(t *testing.T) {
	tr := newIdleTracker()
	tr.observe(&network.EventRequestWillBeSent{RequestID: "hung"})

	start := time.Now()
	tr.waitIdle(context.Background(), 10*time.Millisecond, 150*time.Millisecond)
	assert.Less(t, time.Since(start), time.Second)
}

// Browser tests need a local Chrome; CHROME_PATH points at one explicitly.
func testRenderer(t *testing.T) *Renderer {
	t.Helper()

	path := os.Getenv("CHROME_PATH")
	if path == "" {
		for _, name := range []string{"google-chrome", "chromium", "chromium-browser", "headless-shell"} {
			if p, err := exec.LookPath(name); err == nil {
				path = p
				break
			}
		}
	}
	if path == "" {
		t.Skip("no chrome binary available")
	}

	return New(Options{ExecPath: path, IdleTimeout: time.Second, QuietWindow: 200 * time.Millisecond})
}

const lazyPage = `<!doctype html>
<html><head><title>List</title></head>
<body style="margin:0">
<div id="list" style="height:3000px"><p>First product</p></div>
<script>
window.addEventListener('scroll', function () {
  if (document.getElementById('lazy')) return;
  var p = document.createElement('p');
  p.id = 'lazy';
  p.textContent = 'Lazy product';
  document.getElementById('list').appendChild(p);
});
</script>
</body></html>`

func TestRender(t *testing.T) {
	r := testRenderer(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path == "/missing" {
			http.NotFound(w, req)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(lazyPage))
	}))
	defer srv.Close()

	t.Run("ok", func(t *testing.T) {
		html, err := r.Render(context.Background(), srv.URL+"/list", false)
		require.NoError(t, err)
		assert.Contains(t, html, "First product")
		assert.NotContains(t, html, "Lazy product")
	})

	t.Run("scroll loads lazy content", func(t *testing.T) {
		html, err := r.Render(context.Background(), srv.URL+"/list", true)
		require.NoError(t, err)
		assert.Contains(t, html, "Lazy product")
	})

	t.Run("not found", func(t *testing.T) {
		_, err := r.Render(context.Background(), srv.URL+"/missing", false)
		require.Error(t, err)

		syncErr, ok := wishsync.AsSyncError(err)
		require.True(t, ok)
		assert.Equal(t, wishsync.ReasonCannotRender, syncErr.Reason)
	})
}
