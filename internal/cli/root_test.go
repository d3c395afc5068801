package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdholdren/wishsync/internal/syncer"
	"github.com/jdholdren/wishsync/internal/wishsync"
)

type fakeSyncer struct {
	res syncer.Result
	err error
	got string
}

func (f *fakeSyncer) Sync(_ context.Context, id string) (syncer.Result, error) {
	f.got = id
	return f.res, f.err
}

type fakeGenerator struct {
	c   wishsync.Candidate
	err error
}

func (f fakeGenerator) Generate(context.Context, string) (wishsync.Candidate, error) {
	return f.c, f.err
}

type fakeRenderer struct {
	html       string
	err        error
	gotScroll  bool
	renderedAt string
}

func (f *fakeRenderer) Render(_ context.Context, pageURL string, scroll bool) (string, error) {
	f.renderedAt, f.gotScroll = pageURL, scroll
	return f.html, f.err
}

type fakeConnections struct {
	errored   []wishsync.Connection
	stale     []wishsync.Connection
	gotBefore time.Time
}

func (f *fakeConnections) ErroredConnections(context.Context) ([]wishsync.Connection, error) {
	return f.errored, nil
}

func (f *fakeConnections) StaleConnections(_ context.Context, before time.Time) ([]wishsync.Connection, error) {
	f.gotBefore = before
	return f.stale, nil
}

// Runs syncctl with args against app and returns what it wrote.
func run(t *testing.T, app *App, args ...string) (stdout, stderr string, err error) {
	t.Helper()

	cmd := NewRootCommand(func(context.Context, *RootOptions) (*App, error) {
		return app, nil
	})
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)

	err = cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand(nil)

	assert.Equal(t, "syncctl", cmd.Use)

	expectedCommands := []string{"sync", "generate", "distill", "errored", "stale"}
	for _, name := range expectedCommands {
		found := false
		for _, sub := range cmd.Commands() {
			if sub.Name() == name {
				found = true
				break
			}
		}
		assert.True(t, found, "expected subcommand %q", name)
	}
}

func TestRootCommandGlobalFlags(t *testing.T) {
	cmd := NewRootCommand(nil)

	for name, def := range map[string]string{
		"verbose":  "false",
		"format":   "text",
		"db":       "wishsync.db",
		"temporal": "",
	} {
		flag := cmd.PersistentFlags().Lookup(name)
		require.NotNil(t, flag, "flag %q", name)
		assert.Equal(t, def, flag.DefValue)
	}

	assert.NotNil(t, cmd.PersistentFlags().ShorthandLookup("v"))
}

func TestInvalidFormat(t *testing.T) {
	_, _, err := run(t, &App{}, "errored", "--format", "yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid format "yaml"`)
}

func TestOpenFailure(t *testing.T) {
	cmd := NewRootCommand(func(context.Context, *RootOptions) (*App, error) {
		return nil, errors.New("unable to open database file")
	})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"errored"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestOpenerSeesGlobalFlags(t *testing.T) {
	var got RootOptions
	cmd := NewRootCommand(func(_ context.Context, opts *RootOptions) (*App, error) {
		got = *opts
		return &App{Connections: &fakeConnections{}}, nil
	})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"errored", "--db", "/tmp/other.db", "--temporal", "localhost:7233"})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, "/tmp/other.db", got.DB)
	assert.Equal(t, "localhost:7233", got.Temporal)
}

func TestClosesApp(t *testing.T) {
	closed := false
	app := &App{
		Connections: &fakeConnections{},
		Close: func() error {
			closed = true
			return nil
		},
	}

	_, _, err := run(t, app, "errored")
	require.NoError(t, err)
	assert.True(t, closed)
}

func testConnections() []wishsync.Connection {
	synced := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	return []wishsync.Connection{
		{ID: "a1-ns", WishlistID: "w1-ns", URL: "https://shop.test/lists/jane", LastSyncedAt: &synced, SyncError: true},
		{ID: "b22-ns", WishlistID: "w1-ns", URL: "https://registry.test/r/42", SyncError: true},
	}
}

func TestErroredText(t *testing.T) {
	stdout, _, err := run(t, &App{Connections: &fakeConnections{errored: testConnections()}}, "errored")
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "errored_text", []byte(stdout))
}

func TestErroredJSON(t *testing.T) {
	stdout, _, err := run(t, &App{Connections: &fakeConnections{errored: testConnections()}}, "errored", "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Status string             `json:"status"`
		Data   []connectionOutput `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data, 2)
	assert.Equal(t, "a1-ns", resp.Data[0].ID)
	assert.True(t, resp.Data[0].SyncError)
	assert.Nil(t, resp.Data[1].LastSyncedAt)
}

func TestErroredEmpty(t *testing.T) {
	stdout, _, err := run(t, &App{Connections: &fakeConnections{}}, "errored")
	require.NoError(t, err)
	assert.Equal(t, "No connections.\n", stdout)
}

func TestStale(t *testing.T) {
	conns := &fakeConnections{stale: testConnections()[:1]}

	start := time.Now()
	stdout, _, err := run(t, &App{Connections: conns}, "stale", "--older-than", "2h")
	require.NoError(t, err)

	assert.Contains(t, stdout, "a1-ns")
	assert.WithinDuration(t, start.Add(-2*time.Hour), conns.gotBefore, time.Minute)
}

func TestSync(t *testing.T) {
	tests := []struct {
		name       string
		syncer     *fakeSyncer
		args       []string
		wantStdout string
		wantStderr string
		wantCode   int
	}{
		{
			name:       "synced",
			syncer:     &fakeSyncer{res: syncer.Result{Items: 4, Added: 1, Removed: 2}},
			wantStdout: "Synced a1-ns: 4 items (1 added, 2 removed)\n",
		},
		{
			name:       "synced json",
			syncer:     &fakeSyncer{res: syncer.Result{Items: 4, Added: 1, Removed: 2}},
			args:       []string{"--format", "json"},
			wantStdout: `{"status":"ok","data":{"items":4,"added":1,"removed":2}}` + "\n",
		},
		{
			name:       "sync failure",
			syncer:     &fakeSyncer{err: wishsync.Fail(wishsync.ReasonNoProducts, nil)},
			wantStderr: "Error [no_products]: No products found, is the list private?\n",
			wantCode:   ExitFailure,
		},
		{
			name:       "sync failure json",
			syncer:     &fakeSyncer{err: wishsync.Fail(wishsync.ReasonNoProducts, nil)},
			args:       []string{"--format", "json"},
			wantStdout: `{"status":"error","error":{"reason":"no_products","message":"No products found, is the list private?"}}` + "\n",
			wantCode:   ExitFailure,
		},
		{
			name:       "unexpected failure",
			syncer:     &fakeSyncer{err: errors.New("database is locked")},
			wantStderr: "Error [internal]: database is locked\n",
			wantCode:   ExitFailure,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"sync", "a1-ns"}, tt.args...)
			stdout, stderr, err := run(t, &App{Syncer: tt.syncer}, args...)

			if tt.wantCode == ExitSuccess {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Equal(t, tt.wantCode, GetExitCode(err))
			}
			assert.Equal(t, "a1-ns", tt.syncer.got)
			assert.Equal(t, tt.wantStdout, stdout)
			assert.Equal(t, tt.wantStderr, stderr)
		})
	}
}

func TestSyncNeedsConnectionID(t *testing.T) {
	_, _, err := run(t, &App{Syncer: &fakeSyncer{}}, "sync")
	assert.Error(t, err)
}

func TestGenerate(t *testing.T) {
	price := 12.5
	app := &App{Generator: fakeGenerator{c: wishsync.Candidate{
		Valid:    true,
		Name:     "Blue mug",
		Price:    &price,
		Currency: "USD",
		URL:      "https://shop.test/p/1",
	}}}

	stdout, _, err := run(t, app, "generate", "https://shop.test/p/1")
	require.NoError(t, err)
	assert.Equal(t, "Name:  Blue mug\nPrice: 12.50 USD\nImage: -\nURL:   https://shop.test/p/1\n", stdout)
}

const productPage = `<!doctype html>
<html>
<head><title>Blue mug</title></head>
<body>
  <nav><a href="/home">Home</a></nav>
  <main>
    <h1>Blue mug</h1>
    <p>A sturdy stoneware mug that holds a generous amount of coffee. <a href="/p/2">See the green one</a></p>
    <span>$12.50</span>
  </main>
</body>
</html>`

func TestDistill(t *testing.T) {
	tests := []struct {
		name         string
		args         []string
		wantScroll   bool
		wantContains []string
		wantMissing  []string
	}{
		{
			name:         "defaults",
			wantContains: []string{"title: Blue mug", "$12.50", "See the green one"},
			wantMissing:  []string{"Home", "https://shop.test/p/2"},
		},
		{
			name:         "list page",
			args:         []string{"--scroll", "--keep-relative"},
			wantScroll:   true,
			wantContains: []string{"[See the green one](https://shop.test/p/2)"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			renderer := &fakeRenderer{html: productPage}
			args := append([]string{"distill", "https://shop.test/p/1"}, tt.args...)

			stdout, _, err := run(t, &App{Renderer: renderer}, args...)
			require.NoError(t, err)

			assert.Equal(t, "https://shop.test/p/1", renderer.renderedAt)
			assert.Equal(t, tt.wantScroll, renderer.gotScroll)
			for _, s := range tt.wantContains {
				assert.Contains(t, stdout, s)
			}
			for _, s := range tt.wantMissing {
				assert.NotContains(t, stdout, s)
			}
		})
	}
}

func TestDistillRenderFailure(t *testing.T) {
	renderer := &fakeRenderer{err: wishsync.Fail(wishsync.ReasonCannotRender, errors.New("net::ERR_NAME_NOT_RESOLVED"))}

	_, stderr, err := run(t, &App{Renderer: renderer}, "distill", "https://nowhere.test")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, stderr, "Error [cannot_render]")
}

func TestVerboseLogGoesToStderr(t *testing.T) {
	stdout, stderr, err := run(t, &App{Syncer: &fakeSyncer{}}, "sync", "a1-ns", "-v", "--format", "json")
	require.NoError(t, err)

	assert.Contains(t, stderr, "syncing connection a1-ns")
	var resp CLIResponse
	assert.NoError(t, json.Unmarshal([]byte(stdout), &resp))
}

