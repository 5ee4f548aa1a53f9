package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/wesm/tagmail/internal/api"
	"github.com/wesm/tagmail/internal/config"
	"github.com/wesm/tagmail/internal/engine"
	"github.com/wesm/tagmail/internal/store"
	"github.com/wesm/tagmail/internal/testutil"
)

// startRemote serves an engine holding two messages and points the CLI
// config at it.
func startRemote(t *testing.T, home string) {
	t.Helper()
	st := testutil.NewTestStore(t)
	for _, m := range []*store.Message{
		testutil.NewMessage("r1@example.com").WithFrom("alice@example.com").WithTo("bob@example.com").
			WithSubject("Remote report").WithBody("numbers").WithDate(2024, 2, 1).WithTags("inbox").Build(),
		testutil.NewMessage("r2@example.com").WithFrom("carol@example.com").WithTo("bob@example.com").
			WithSubject("Remote lunch").WithBody("noon").WithDate(2024, 2, 2).WithTags("inbox").Build(),
	} {
		testutil.MustNoErr(t, st.InsertMessage(m), "insert "+m.ID)
	}
	eng, err := engine.New(st)
	testutil.MustNoErr(t, err, "engine.New")

	srvCfg := &config.Config{}
	srvCfg.Server.APIKey = "remote-key"
	srv := api.NewServer(srvCfg, eng, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	conf := fmt.Sprintf("[remote]\nurl = %q\napi_key = \"remote-key\"\n", ts.URL)
	testutil.MustNoErr(t, os.WriteFile(filepath.Join(home, "config.toml"), []byte(conf), 0600), "write config")
}

func TestCLIRemoteMode(t *testing.T) {
	home := setupHome(t)
	startRemote(t, home)

	out := mustRun(t, "search", "from:alice")
	testutil.AssertContainsAll(t, out, "r1@example.com", "Remote report")

	out = mustRun(t, "tag", "+todo", "subject:remote")
	if !strings.Contains(out, "+todo: 2 messages changed") {
		t.Errorf("tag output = %q", out)
	}
	if out := mustRun(t, "count", "tag:todo"); strings.TrimSpace(out) != "2" {
		t.Errorf("count = %q, want 2", out)
	}
	out = mustRun(t, "tags")
	testutil.AssertContainsAll(t, out, "inbox", "todo")

	out = mustRun(t, "show", "r2@example.com")
	testutil.AssertContainsAll(t, out, "Subject: Remote lunch", "noon")

	out = mustRun(t, "stats")
	testutil.AssertContainsAll(t, out, "Remote: http://127.0.0.1", "Messages:    2")

	// The local database is untouched.
	if out := mustRun(t, "--local", "count"); strings.TrimSpace(out) != "0" {
		t.Errorf("local count = %q, want 0", out)
	}
}

func TestCLIRemoteRejectsLocalOnlyCommands(t *testing.T) {
	home := setupHome(t)
	startRemote(t, home)

	for _, args := range [][]string{
		{"import", "mail.mbox"},
		{"export-attachments", "r1@example.com"},
	} {
		_, err := runCLI(t, args...)
		if err == nil || !strings.Contains(err.Error(), "requires local database") {
			t.Errorf("%v err = %v, want local-only refusal", args, err)
		}
	}
}

func TestCLIRemoteNotFound(t *testing.T) {
	home := setupHome(t)
	startRemote(t, home)

	_, err := runCLI(t, "show", "missing@example.com")
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("show err = %v, want not found", err)
	}
}
