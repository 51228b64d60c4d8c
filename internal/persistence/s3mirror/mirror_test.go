package s3mirror

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestClientPutFileSigned(t *testing.T) {
	body := []byte("snapshot-bytes")
	var (
		gotMethod, gotPath, gotAuth, gotHash string
		gotBody                              []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotHash = r.Header.Get("x-amz-content-sha256")
		gotBody, _ = io.ReadAll(r.Body)
		rw.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := NewClient(Config{Endpoint: srv.URL, Bucket: "snaps", AccessKeyID: "AK", SecretAccessKey: "SK"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	c.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	local := filepath.Join(t.TempDir(), "40.snap.zst")
	if err := os.WriteFile(local, body, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := c.PutFile(context.Background(), "/worlds/w1/snapshots/40.snap.zst", local); err != nil {
		t.Fatalf("PutFile: %v", err)
	}

	sum := sha256.Sum256(body)
	if gotMethod != http.MethodPut || gotPath != "/snaps/worlds/w1/snapshots/40.snap.zst" {
		t.Fatalf("request=%s %s", gotMethod, gotPath)
	}
	if gotHash != hex.EncodeToString(sum[:]) || string(gotBody) != string(body) {
		t.Fatalf("payload hash=%s body=%q", gotHash, gotBody)
	}
	if !strings.HasPrefix(gotAuth, "AWS4-HMAC-SHA256 Credential=AK/20260102/auto/s3/aws4_request") {
		t.Fatalf("auth=%q", gotAuth)
	}
}

func TestClientPutFileErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		http.Error(rw, "denied", http.StatusForbidden)
	}))
	defer srv.Close()

	c, err := NewClient(Config{Endpoint: srv.URL, Bucket: "b", AccessKeyID: "a", SecretAccessKey: "s"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	local := filepath.Join(t.TempDir(), "f")
	_ = os.WriteFile(local, []byte("x"), 0o644)
	err = c.PutFile(context.Background(), "k", local)
	if err == nil || !strings.Contains(err.Error(), "status=403") {
		t.Fatalf("err=%v, want status=403", err)
	}
}

func TestNewClientRequiresCredentials(t *testing.T) {
	if _, err := NewClient(Config{Endpoint: "r2.example", Bucket: "b"}); err == nil {
		t.Fatalf("expected error without credentials")
	}
}

func TestCleanKey(t *testing.T) {
	cases := map[string]string{
		"/a/b":      "a/b",
		`a\b\c`:     "a/b/c",
		"../../etc": "etc",
		"  ":        "",
	}
	for in, want := range cases {
		if got := cleanKey(in); got != want {
			t.Fatalf("cleanKey(%q)=%q, want %q", in, got, want)
		}
	}
}

type fakeUploader struct {
	mu    sync.Mutex
	keys  []string
	fails int
}

func (f *fakeUploader) PutFile(_ context.Context, key, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails > 0 {
		f.fails--
		return errors.New("boom")
	}
	f.keys = append(f.keys, key)
	return nil
}

func newTestMirror(up Uploader, dataDir string) *Mirror {
	m := NewMirror(up, dataDir, "prod/", 1, 4, nil)
	m.backoff = func(int) time.Duration { return 0 }
	return m
}

func TestMirrorUploadsRelativeKeys(t *testing.T) {
	dataDir := t.TempDir()
	snapDir := filepath.Join(dataDir, "worlds", "w1", "snapshots")
	_ = os.MkdirAll(snapDir, 0o755)
	local := filepath.Join(snapDir, "100.snap.zst")
	_ = os.WriteFile(local, []byte("x"), 0o644)

	up := &fakeUploader{fails: 2}
	m := newTestMirror(up, dataDir)
	m.Enqueue(100, local)
	m.Close()

	if len(up.keys) != 1 || up.keys[0] != "prod/worlds/w1/snapshots/100.snap.zst" {
		t.Fatalf("keys=%v", up.keys)
	}
	st := m.Stats()
	if st.UploadedTotal != 1 || st.FailedTotal != 0 || st.LastUploadTick != 100 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestMirrorRejectsOutsideDataDir(t *testing.T) {
	outside := filepath.Join(t.TempDir(), "1.snap.zst")
	_ = os.WriteFile(outside, []byte("x"), 0o644)

	up := &fakeUploader{}
	m := newTestMirror(up, t.TempDir())
	m.Enqueue(1, outside)
	m.Close()

	if len(up.keys) != 0 || m.Stats().FailedTotal != 1 {
		t.Fatalf("keys=%v stats=%+v", up.keys, m.Stats())
	}
}

func TestMirrorGivesUpAfterAttempts(t *testing.T) {
	dataDir := t.TempDir()
	local := filepath.Join(dataDir, "2.snap.zst")
	_ = os.WriteFile(local, []byte("x"), 0o644)

	up := &fakeUploader{fails: 10}
	m := newTestMirror(up, dataDir)
	m.Enqueue(2, local)
	m.Close()

	if st := m.Stats(); st.FailedTotal != 1 || st.UploadedTotal != 0 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestNilMirrorIsSafe(t *testing.T) {
	var m *Mirror
	m.Enqueue(1, "x")
	m.Close()
	if st := m.Stats(); st != (Stats{}) {
		t.Fatalf("stats=%+v", st)
	}
}
