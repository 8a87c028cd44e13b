package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/updownhft/updownbot/internal/domain"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(ctx context.Context) error { return p.err }

func TestReadyzReportsFailingDependency(t *testing.T) {
	h := NewHealthHandler(map[string]Pinger{
		"postgres": fakePinger{},
		"redis":    fakePinger{err: errors.New("connection refused")},
	}, discard())

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Checks["postgres"] != "ok" {
		t.Fatalf("postgres check = %q, want ok", body.Checks["postgres"])
	}
	if body.Checks["redis"] == "ok" {
		t.Fatal("redis check reported ok despite ping failure")
	}
}

type fakeBook struct {
	open []domain.Position
}

func (b fakeBook) Open() []domain.Position { return b.open }
func (b fakeBook) GetByID(id string) (domain.Position, bool) {
	for _, p := range b.open {
		if p.ID == id {
			return p, true
		}
	}
	return domain.Position{}, false
}

func (b fakeBook) OpenCount() int         { return len(b.open) }
func (b fakeBook) TotalExposure() float64 { return 123.45 }
func (b fakeBook) FatalExits() int        { return 0 }

func TestListOpenPositions(t *testing.T) {
	book := fakeBook{open: []domain.Position{
		{ID: "pos-1", InstrumentID: "mkt-1", Status: domain.PositionOpen},
	}}
	h := NewPositionHandler(book, nil, nil, discard())

	rec := httptest.NewRecorder()
	h.ListOpen(rec, httptest.NewRequest(http.MethodGet, "/api/positions", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Positions []domain.Position `json:"positions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Positions) != 1 || body.Positions[0].ID != "pos-1" {
		t.Fatalf("positions = %+v, want the one open position", body.Positions)
	}
}

func TestGetPositionNotFoundWithoutStore(t *testing.T) {
	h := NewPositionHandler(fakeBook{}, nil, nil, discard())

	req := httptest.NewRequest(http.MethodGet, "/api/positions/missing", nil)
	req.SetPathValue("id", "missing")
	rec := httptest.NewRecorder()
	h.GetPosition(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestStatusIncludesExposure(t *testing.T) {
	h := NewStatusHandler("trade", fakeBook{open: []domain.Position{{ID: "p"}}}, time.Now().Add(-time.Minute))

	rec := httptest.NewRecorder()
	h.GetStatus(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["mode"] != "trade" {
		t.Fatalf("mode = %v, want trade", body["mode"])
	}
	if body["open_positions"].(float64) != 1 {
		t.Fatalf("open_positions = %v, want 1", body["open_positions"])
	}
	if body["total_exposure"].(float64) != 123.45 {
		t.Fatalf("total_exposure = %v, want 123.45", body["total_exposure"])
	}
	if body["health"] != "ok" {
		t.Fatalf("health = %v, want ok", body["health"])
	}
}

func TestParseListOptsClampsLimit(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/api/audit?limit=9999&offset=20", nil)
	opts := parseListOpts(r)
	if opts.Limit != 500 {
		t.Fatalf("limit = %d, want clamp to 500", opts.Limit)
	}
	if opts.Offset != 20 {
		t.Fatalf("offset = %d, want 20", opts.Offset)
	}
}

// fakeBlobs is a canned domain.BlobReader backed by a path map.
type fakeBlobs struct {
	objects map[string]string
}

func (f fakeBlobs) Get(_ context.Context, path string) (io.ReadCloser, error) {
	body, ok := f.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func (f fakeBlobs) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	var infos []domain.BlobInfo
	for path, body := range f.objects {
		if strings.HasPrefix(path, prefix) {
			infos = append(infos, domain.BlobInfo{Path: path, Size: int64(len(body))})
		}
	}
	return infos, nil
}

func (f fakeBlobs) Exists(_ context.Context, path string) (bool, error) {
	_, ok := f.objects[path]
	return ok, nil
}

func TestArchiveListFiltersByKind(t *testing.T) {
	h := NewArchiveHandler(fakeBlobs{objects: map[string]string{
		"archive/positions/2026-07.jsonl": "{}\n",
		"archive/fills/2026-07.jsonl":     "{}\n{}\n",
	}}, discard())

	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/api/archive?kind=fills", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Objects []domain.BlobInfo `json:"objects"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Objects) != 1 || body.Objects[0].Path != "archive/fills/2026-07.jsonl" {
		t.Fatalf("objects = %+v, want the fills export only", body.Objects)
	}

	rec = httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/api/archive?kind=trades", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown kind: status = %d, want 400", rec.Code)
	}
}

func TestArchiveDownloadStreamsObject(t *testing.T) {
	h := NewArchiveHandler(fakeBlobs{objects: map[string]string{
		"archive/positions/2026-07.jsonl": `{"id":"pos-1"}` + "\n",
	}}, discard())

	req := httptest.NewRequest(http.MethodGet, "/api/archive/positions/2026-07.jsonl", nil)
	req.SetPathValue("kind", "positions")
	req.SetPathValue("name", "2026-07.jsonl")
	rec := httptest.NewRecorder()
	h.Download(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "application/x-ndjson" {
		t.Fatalf("content type = %q, want application/x-ndjson", got)
	}
	if !strings.Contains(rec.Body.String(), "pos-1") {
		t.Fatalf("body = %q, want the archived record", rec.Body.String())
	}
}

func TestArchiveDownloadRejectsBadPaths(t *testing.T) {
	h := NewArchiveHandler(fakeBlobs{}, discard())

	cases := []struct {
		kind, name string
		want       int
	}{
		{"positions", "2026-01.jsonl", http.StatusNotFound},
		{"secrets", "2026-01.jsonl", http.StatusBadRequest},
		{"positions", "../config.toml", http.StatusBadRequest},
		{"positions", "", http.StatusBadRequest},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/api/archive/x/y", nil)
		req.SetPathValue("kind", tc.kind)
		req.SetPathValue("name", tc.name)
		rec := httptest.NewRecorder()
		h.Download(rec, req)
		if rec.Code != tc.want {
			t.Fatalf("kind=%q name=%q: status = %d, want %d", tc.kind, tc.name, rec.Code, tc.want)
		}
	}
}
