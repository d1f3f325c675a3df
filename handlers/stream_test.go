package handlers

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"lunastream/internal/database"
	"lunastream/models"
	"lunastream/services/probe"
	"lunastream/services/protocols"
	"lunastream/services/transcoder"
)

func TestParseRange(t *testing.T) {
	const size = 1000
	tests := []struct {
		name    string
		header  string
		start   int64
		end     int64
		partial bool
		ok      bool
	}{
		{name: "no header", header: "", start: 0, end: 999, partial: false, ok: true},
		{name: "first byte", header: "bytes=0-0", start: 0, end: 0, partial: true, ok: true},
		{name: "open ended", header: "bytes=500-", start: 500, end: 999, partial: true, ok: true},
		{name: "bounded", header: "bytes=100-199", start: 100, end: 199, partial: true, ok: true},
		{name: "end clamped", header: "bytes=900-5000", start: 900, end: 999, partial: true, ok: true},
		{name: "suffix", header: "bytes=-100", start: 900, end: 999, partial: true, ok: true},
		{name: "suffix larger than file", header: "bytes=-5000", start: 0, end: 999, partial: true, ok: true},
		{name: "start at size", header: "bytes=1000-", ok: false},
		{name: "start past size", header: "bytes=2000-", ok: false},
		{name: "inverted", header: "bytes=200-100", ok: false},
		{name: "garbage start", header: "bytes=abc-", ok: false},
		{name: "multi range uses first", header: "bytes=0-0,100-199", start: 0, end: 0, partial: true, ok: true},
		{name: "not bytes unit", header: "lines=0-10", start: 0, end: 999, partial: false, ok: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			start, end, partial, ok := parseRange(tc.header, size)
			if ok != tc.ok {
				t.Fatalf("parseRange(%q) ok = %v, want %v", tc.header, ok, tc.ok)
			}
			if !tc.ok {
				return
			}
			if start != tc.start || end != tc.end || partial != tc.partial {
				t.Errorf("parseRange(%q) = (%d, %d, %v), want (%d, %d, %v)",
					tc.header, start, end, partial, tc.start, tc.end, tc.partial)
			}
		})
	}
}

func TestParseRangeEmptyFile(t *testing.T) {
	for _, header := range []string{"", "bytes=0-0", "bytes=0-", "bytes=-5"} {
		start, end, partial, ok := parseRange(header, 0)
		if !ok || partial {
			t.Fatalf("parseRange(%q, 0) = (%d, %d, %v, %v), want full-file response", header, start, end, partial, ok)
		}
		if length := end - start + 1; length != 0 {
			t.Fatalf("parseRange(%q, 0) content length = %d, want 0", header, length)
		}
	}
}

type fakeStreamStore struct {
	item models.MediaItem
}

func (f *fakeStreamStore) GetByID(id int64) (models.MediaItem, error) {
	if id != f.item.ID {
		return models.MediaItem{}, database.ErrNotFound
	}
	return f.item, nil
}

func (f *fakeStreamStore) UpdateProbeInfo(id int64, duration float64, qualityLabel string) error {
	return nil
}

type fakeSourceGetter struct{}

func (fakeSourceGetter) GetByID(id int64) (models.Source, error) {
	return models.Source{}, database.ErrNotFound
}

type nopCache struct{}

func (nopCache) Touch(string) {}

// newStreamTestServer builds a handler over a real on-disk file served
// through the local protocol client. No encoder binary is present, so only
// the raw byte path is reachable.
func newStreamTestServer(t *testing.T, content []byte) (*httptest.Server, models.MediaItem) {
	t.Helper()
	dir := t.TempDir()

	filePath := filepath.Join(dir, "clip.mp4")
	require.NoError(t, os.WriteFile(filePath, content, 0o644))

	item := models.MediaItem{
		ID:         1,
		Type:       models.MediaTypeMovie,
		Title:      "Clip",
		FilePath:   filePath,
		FileSize:   int64(len(content)),
		SourceKind: models.SourceKindLocal,
	}

	cipher, err := protocols.NewCredentialCipher("stream-test-secret")
	require.NoError(t, err)
	pool := protocols.NewPool(cipher)
	t.Cleanup(pool.Shutdown)

	tc := transcoder.NewService(filepath.Join(dir, "no-such-ffmpeg"), dir, 10, nil)
	h := NewStreamHandler(&fakeStreamStore{item: item}, fakeSourceGetter{}, pool, probe.NewProber(filepath.Join(dir, "no-such-ffprobe")), tc, nopCache{}, "720p")

	router := mux.NewRouter()
	router.HandleFunc("/stream/{id:[0-9]+}/direct", h.Direct).Methods("GET", "HEAD")
	router.HandleFunc("/stream/{id:[0-9]+}/hls/{segment}", h.HLSSegment).Methods("GET")

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server, item
}

func TestDirectFullFile(t *testing.T) {
	content := []byte("0123456789abcdef")
	server, _ := newStreamTestServer(t, content)

	resp, err := http.Get(server.URL + "/stream/1/direct")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "bytes", resp.Header.Get("Accept-Ranges"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, content, body)
}

func TestDirectSingleByteRange(t *testing.T) {
	content := []byte("0123456789abcdef")
	server, _ := newStreamTestServer(t, content)

	req, _ := http.NewRequest("GET", server.URL+"/stream/1/direct", nil)
	req.Header.Set("Range", "bytes=0-0")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusPartialContent, resp.StatusCode)
	require.Equal(t, fmt.Sprintf("bytes 0-0/%d", len(content)), resp.Header.Get("Content-Range"))
	require.Equal(t, "1", resp.Header.Get("Content-Length"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, []byte("0"), body)
}

func TestDirectSuffixRange(t *testing.T) {
	content := []byte("0123456789abcdef")
	server, _ := newStreamTestServer(t, content)

	req, _ := http.NewRequest("GET", server.URL+"/stream/1/direct", nil)
	req.Header.Set("Range", "bytes=-4")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusPartialContent, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, []byte("cdef"), body)
}

func TestDirectRangeAtEOFIsUnsatisfiable(t *testing.T) {
	content := []byte("0123456789abcdef")
	server, _ := newStreamTestServer(t, content)

	req, _ := http.NewRequest("GET", server.URL+"/stream/1/direct", nil)
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-", len(content)))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusRequestedRangeNotSatisfiable, resp.StatusCode)
	require.Equal(t, fmt.Sprintf("bytes */%d", len(content)), resp.Header.Get("Content-Range"))
}

func TestDirectEmptyFile(t *testing.T) {
	server, _ := newStreamTestServer(t, []byte{})

	req, _ := http.NewRequest("GET", server.URL+"/stream/1/direct", nil)
	req.Header.Set("Range", "bytes=-4")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "0", resp.Header.Get("Content-Length"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Empty(t, body)
}

func TestDirectHeadSendsNoBody(t *testing.T) {
	content := []byte("0123456789abcdef")
	server, _ := newStreamTestServer(t, content)

	resp, err := http.Head(server.URL + "/stream/1/direct")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, fmt.Sprintf("%d", len(content)), resp.Header.Get("Content-Length"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Empty(t, body)
}

func TestDirectUnknownItem(t *testing.T) {
	server, _ := newStreamTestServer(t, []byte("x"))

	resp, err := http.Get(server.URL + "/stream/99/direct")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHLSSegmentRejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	item := models.MediaItem{ID: 1, FilePath: filepath.Join(dir, "clip.mp4"), SourceKind: models.SourceKindLocal}

	cipher, err := protocols.NewCredentialCipher("stream-test-secret")
	require.NoError(t, err)
	pool := protocols.NewPool(cipher)
	t.Cleanup(pool.Shutdown)
	tc := transcoder.NewService(filepath.Join(dir, "no-such-ffmpeg"), dir, 10, nil)
	h := NewStreamHandler(&fakeStreamStore{item: item}, fakeSourceGetter{}, pool, probe.NewProber(""), tc, nopCache{}, "720p")

	for _, segment := range []string{"../../secret.ts", "sub/segment.ts", "..", "seg..%2F.ts"} {
		req := httptest.NewRequest("GET", "/stream/1/hls/x", nil)
		req = mux.SetURLVars(req, map[string]string{"id": "1", "segment": segment})
		rec := httptest.NewRecorder()
		h.HLSSegment(rec, req)
		require.Equal(t, http.StatusBadRequest, rec.Code, "segment %q", segment)
	}
}

func TestHLSSegmentMissing(t *testing.T) {
	server, _ := newStreamTestServer(t, []byte("x"))

	resp, err := http.Get(server.URL + "/stream/1/hls/segment000.ts")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}
