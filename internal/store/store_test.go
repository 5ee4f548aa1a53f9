package store_test

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/wesm/tagmail/internal/store"
	"github.com/wesm/tagmail/internal/tagset"
	"github.com/wesm/tagmail/internal/testutil"
)

func mustInsert(t *testing.T, st *store.Store, msg *store.Message) {
	t.Helper()
	testutil.MustNoErr(t, st.InsertMessage(msg), "InsertMessage "+msg.ID)
}

func TestInsertAndGet(t *testing.T) {
	st := testutil.NewTestStore(t)
	msg := testutil.NewMessage("m1@example.com").
		WithSubject("Quarterly numbers").
		WithCc("carol@example.com").
		WithHTML("<p>hi</p>").
		WithTags("inbox", "unread").
		WithAttachment("report.pdf", "application/pdf", 1234).
		WithAttachment("chart.png", "image/png", 99).
		Build()
	mustInsert(t, st, msg)

	got, err := st.GetMessage("m1@example.com")
	testutil.MustNoErr(t, err, "GetMessage")

	if diff := cmp.Diff(msg, got); diff != "" {
		t.Errorf("round-tripped message mismatch (-want +got):\n%s", diff)
	}
}

func TestInsertDuplicate(t *testing.T) {
	st := testutil.NewTestStore(t)
	mustInsert(t, st, testutil.NewMessage("dup").Build())

	err := st.InsertMessage(testutil.NewMessage("dup").WithSubject("other").Build())
	if !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("InsertMessage duplicate: got %v, want ErrDuplicate", err)
	}
	var dup *store.DuplicateMessageError
	if !errors.As(err, &dup) || dup.ID != "dup" {
		t.Errorf("expected DuplicateMessageError for dup, got %#v", err)
	}

	// The failed insert must not have touched the original record.
	got, err := st.GetMessage("dup")
	testutil.MustNoErr(t, err, "GetMessage")
	if got.Header(store.HeaderSubject) != "Test Subject" {
		t.Errorf("subject = %q, original record was modified", got.Header(store.HeaderSubject))
	}
}

func TestGetMessageNotFound(t *testing.T) {
	st := testutil.NewTestStore(t)
	_, err := st.GetMessage("nope")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("GetMessage: got %v, want ErrNotFound", err)
	}
}

func TestMissingDateRoundTrips(t *testing.T) {
	st := testutil.NewTestStore(t)
	mustInsert(t, st, testutil.NewMessage("nodate").WithTime(time.Time{}).Build())

	got, err := st.GetMessage("nodate")
	testutil.MustNoErr(t, err, "GetMessage")
	if !got.Date.IsZero() {
		t.Errorf("Date = %v, want zero", got.Date)
	}
}

func TestUpdateTags(t *testing.T) {
	st := testutil.NewTestStore(t)
	mustInsert(t, st, testutil.NewMessage("a").WithTags("inbox").Build())
	mustInsert(t, st, testutil.NewMessage("b").WithTags("inbox", "unread").Build())

	err := st.UpdateTags([]store.TagUpdate{
		{ID: "a", Tags: tagset.New("inbox", "seen")},
		{ID: "b", Tags: tagset.New()},
	})
	testutil.MustNoErr(t, err, "UpdateTags")

	a, _ := st.GetMessage("a")
	b, _ := st.GetMessage("b")
	testutil.AssertStrings(t, a.Tags.Sorted(), "inbox", "seen")
	testutil.AssertStrings(t, b.Tags.Sorted())
}

func TestUpdateTagsIsAtomic(t *testing.T) {
	st := testutil.NewTestStore(t)
	mustInsert(t, st, testutil.NewMessage("a").WithTags("inbox").Build())

	err := st.UpdateTags([]store.TagUpdate{
		{ID: "a", Tags: tagset.New("changed")},
		{ID: "missing", Tags: tagset.New("x")},
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("UpdateTags: got %v, want ErrNotFound", err)
	}

	a, _ := st.GetMessage("a")
	testutil.AssertStrings(t, a.Tags.Sorted(), "inbox")
}

func TestDeleteMessage(t *testing.T) {
	st := testutil.NewTestStore(t)
	mustInsert(t, st, testutil.NewMessage("a").WithTags("x").WithAttachment("f", "text/plain", 1).Build())

	testutil.MustNoErr(t, st.DeleteMessage("a"), "DeleteMessage")
	if _, err := st.GetMessage("a"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetMessage after delete: got %v, want ErrNotFound", err)
	}
	if err := st.DeleteMessage("a"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("second DeleteMessage: got %v, want ErrNotFound", err)
	}

	stats, err := st.GetStats()
	testutil.MustNoErr(t, err, "GetStats")
	if stats.TagCount != 0 || stats.AttachmentCount != 0 {
		t.Errorf("cascade left rows behind: %+v", stats)
	}
}

func TestGetSummariesPreservesOrder(t *testing.T) {
	st := testutil.NewTestStore(t)
	for _, id := range []string{"a", "b", "c"} {
		mustInsert(t, st, testutil.NewMessage(id).WithSubject("subject "+id).Build())
	}

	sums, err := st.GetSummaries([]string{"c", "a", "b"})
	testutil.MustNoErr(t, err, "GetSummaries")
	var ids []string
	for _, s := range sums {
		ids = append(ids, s.ID)
	}
	testutil.AssertStrings(t, ids, "c", "a", "b")
	if sums[0].Subject != "subject c" {
		t.Errorf("summary subject = %q", sums[0].Subject)
	}

	if _, err := st.GetSummaries([]string{"a", "zzz"}); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetSummaries with unknown id: got %v, want ErrNotFound", err)
	}
}

func TestScan(t *testing.T) {
	st := testutil.NewTestStore(t)
	for _, id := range []string{"c", "a", "b"} {
		mustInsert(t, st, testutil.NewMessage(id).WithTags("t-"+id).Build())
	}

	var ids []string
	err := st.Scan(func(m *store.Message) error {
		ids = append(ids, m.ID)
		if !m.Tags.Has("t-" + m.ID) {
			t.Errorf("scanned %s without its tags", m.ID)
		}
		return nil
	})
	testutil.MustNoErr(t, err, "Scan")
	testutil.AssertStrings(t, ids, "a", "b", "c")

	stop := errors.New("stop")
	if err := st.Scan(func(*store.Message) error { return stop }); !errors.Is(err, stop) {
		t.Errorf("Scan callback error not propagated: %v", err)
	}
}

func TestGetStats(t *testing.T) {
	st := testutil.NewTestStore(t)
	mustInsert(t, st, testutil.NewMessage("a").WithTags("x", "y").Build())
	mustInsert(t, st, testutil.NewMessage("b").WithTags("y").WithAttachment("f", "text/plain", 1).Build())

	stats, err := st.GetStats()
	testutil.MustNoErr(t, err, "GetStats")
	if stats.MessageCount != 2 || stats.TagCount != 2 || stats.AttachmentCount != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.DatabaseSize == 0 {
		t.Error("DatabaseSize should be non-zero")
	}
}

func TestBlobStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "attachments")
	bs := store.NewBlobStore(dir)

	data := []byte("attachment bytes")
	h, err := bs.Put(data)
	testutil.MustNoErr(t, err, "Put")
	if h != store.Handle(data) {
		t.Errorf("Put handle = %s, want %s", h, store.Handle(data))
	}
	if _, err := os.Stat(filepath.Join(dir, h[:2], h)); err != nil {
		t.Errorf("blob not written at content-addressed path: %v", err)
	}

	// Idempotent.
	h2, err := bs.Put(data)
	testutil.MustNoErr(t, err, "second Put")
	if h2 != h {
		t.Errorf("second Put handle = %s, want %s", h2, h)
	}

	got, err := bs.Get(h)
	testutil.MustNoErr(t, err, "Get")
	if string(got) != string(data) {
		t.Errorf("Get = %q, want %q", got, data)
	}

	if _, err := bs.Get("../etc/passwd"); err == nil {
		t.Error("Get accepted an invalid handle")
	}
}

func TestBlobStoreRefusesSymlinkedBlob(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("O_NOFOLLOW not available")
	}
	dir := t.TempDir()
	bs := store.NewBlobStore(dir)

	secret := filepath.Join(t.TempDir(), "secret")
	testutil.MustNoErr(t, os.WriteFile(secret, []byte("secret"), 0600), "write secret")

	h := store.Handle([]byte("planted"))
	testutil.MustNoErr(t, os.MkdirAll(filepath.Join(dir, h[:2]), 0700), "mkdir")
	if err := os.Symlink(secret, filepath.Join(dir, h[:2], h)); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	if _, err := bs.Get(h); err == nil {
		t.Error("Get followed a symlinked blob")
	}
}
