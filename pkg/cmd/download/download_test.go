package download

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rhythmiq/rhythmiq/pkg/pipeline"
	"github.com/rhythmiq/rhythmiq/pkg/song"
	"github.com/rhythmiq/rhythmiq/pkg/storage"
	"github.com/rhythmiq/rhythmiq/pkg/suno"
)

func TestDownload(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		switch r.URL.Path {
		case "/a1.mp3":
			_, _ = w.Write([]byte("audio"))
		case "/a1":
			_, _ = w.Write([]byte("image"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	dir := t.TempDir()
	gen := &storage.Generation{
		ID:         "01",
		ExternalID: "a1",
		Audio:      srv.URL + "/a1.mp3",
		Image:      srv.URL + "/a1",
	}
	if err := download(context.Background(), srv.Client(), gen, dir); err != nil {
		t.Fatalf("download() err = %v; want nil", err)
	}
	b, err := os.ReadFile(filepath.Join(dir, "a1.mp3"))
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "audio" {
		t.Errorf("audio = %q; want %q", b, "audio")
	}
	if _, err := os.Stat(filepath.Join(dir, "a1.jpeg")); err != nil {
		t.Errorf("image not downloaded: %v", err)
	}

	// Existing files aren't downloaded again
	if err := download(context.Background(), srv.Client(), gen, dir); err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Errorf("calls = %d; want 2", calls)
	}

	gen.Audio = srv.URL + "/missing.mp3"
	gen.ExternalID = "a2"
	if err := download(context.Background(), srv.Client(), gen, dir); err == nil {
		t.Error("download() err = nil; want error")
	}
	if _, err := os.Stat(filepath.Join(dir, "a2.mp3.tmp")); !os.IsNotExist(err) {
		t.Error("temp file wasn't removed")
	}
}

func TestDownloadName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("audio"))
	}))
	defer srv.Close()

	tests := []struct {
		id   string
		want string
	}{
		{"../../evil", "evil.mp3"},
		{"a/b", "b.mp3"},
		{"..", "01.mp3"},
		{"", "01.mp3"},
	}
	for _, tt := range tests {
		root := t.TempDir()
		output := filepath.Join(root, "out")
		if err := os.MkdirAll(output, 0755); err != nil {
			t.Fatal(err)
		}
		gen := &storage.Generation{ID: "01", ExternalID: tt.id, Audio: srv.URL + "/x.mp3"}
		if err := download(context.Background(), srv.Client(), gen, output); err != nil {
			t.Fatalf("download(%q) err = %v", tt.id, err)
		}
		if _, err := os.Stat(filepath.Join(output, tt.want)); err != nil {
			t.Errorf("download(%q): %s not found in output", tt.id, tt.want)
		}
		entries, err := os.ReadDir(root)
		if err != nil {
			t.Fatal(err)
		}
		if len(entries) != 1 {
			t.Errorf("download(%q) wrote outside the output folder", tt.id)
		}
	}
}

func TestRun(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(r.URL.Path))
	}))
	defer srv.Close()

	ctx := context.Background()
	dir := t.TempDir()
	conn := filepath.Join(dir, "test.db")
	store, err := storage.New("sqlite", conn, false)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatal(err)
	}
	err = store.Record(ctx, &pipeline.Outcome{
		Drafts:  []song.Draft{{Title: "Rise Again", Lyrics: "[Verse]"}},
		Batches: []suno.Batch{{IDs: []string{"a1", "a2"}}},
		Jobs: []suno.Job{
			{ID: "a1", Status: suno.StatusComplete, Media: suno.Media{Audio: srv.URL + "/a1.mp3", Image: srv.URL + "/a1.png"}},
			{ID: "a2", Status: suno.StatusPending},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Stop(ctx); err != nil {
		t.Fatal(err)
	}

	output := filepath.Join(dir, "media")
	if err := Run(ctx, &Config{DBType: "sqlite", DBConn: conn, Output: output}); err != nil {
		t.Fatalf("Run() err = %v; want nil", err)
	}
	entries, err := os.ReadDir(output)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	want := []string{"a1.mp3", "a1.png"}
	if len(names) != len(want) || names[0] != want[0] || names[1] != want[1] {
		t.Errorf("files = %v; want %v", names, want)
	}
}
