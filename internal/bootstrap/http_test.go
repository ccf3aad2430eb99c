package bootstrap

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Lllllllleong/imagepipeline/internal/common"
	"github.com/Lllllllleong/imagepipeline/internal/models"
	"github.com/Lllllllleong/imagepipeline/internal/services"
)

func TestDecodeQuery(t *testing.T) {
	cases := []struct {
		name   string
		req    *http.Request
		route  string
		names  []string
		direct string
		params map[string]string
	}{
		{
			name:   "path segments",
			req:    httptest.NewRequest(http.MethodGet, "/match/src-1/tgt-2", nil),
			route:  "match",
			names:  []string{"source", "target"},
			params: map[string]string{"source": "src-1", "target": "tgt-2"},
		},
		{
			name:   "function root",
			req:    httptest.NewRequest(http.MethodGet, "/job-4", nil),
			route:  "download",
			names:  []string{"jobid"},
			params: map[string]string{"jobid": "job-4"},
		},
		{
			name:   "query string wins over path",
			req:    httptest.NewRequest(http.MethodGet, "/download/ignored?jobid=j9", nil),
			route:  "download",
			names:  []string{"jobid"},
			params: map[string]string{"jobid": "j9"},
		},
		{
			name:   "json body",
			req:    httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"jobid":"j1"}`)),
			route:  "download",
			names:  []string{"jobid"},
			direct: "j1",
			params: map[string]string{},
		},
	}
	for _, tc := range cases {
		q, err := DecodeQuery(tc.req, tc.route, tc.names...)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if q.JobID != tc.direct {
			t.Fatalf("%s: jobid = %q", tc.name, q.JobID)
		}
		for k, v := range tc.params {
			if q.PathParameters[k] != v {
				t.Fatalf("%s: %s = %q, want %q", tc.name, k, q.PathParameters[k], v)
			}
		}
	}
}

func TestDecodeQuery_MissingSegmentsAreNotBound(t *testing.T) {
	cases := []struct {
		path  string
		route string
		names []string
	}{
		{"/download", "download", []string{"jobid"}},
		{"/", "download", []string{"jobid"}},
		{"/match/job-a", "match", []string{"source", "target"}},
		{"/match", "match", []string{"source", "target"}},
		{"/match/a/b/c", "match", []string{"source", "target"}},
	}
	for _, tc := range cases {
		q, err := DecodeQuery(httptest.NewRequest(http.MethodGet, tc.path, nil), tc.route, tc.names...)
		if err != nil {
			t.Fatalf("%s: %v", tc.path, err)
		}
		if len(q.PathParameters) != 0 {
			t.Fatalf("%s: path parameters = %v, want none", tc.path, q.PathParameters)
		}
	}
}

func TestDecodeQuery_MissingJobIDReachesResolver(t *testing.T) {
	q, err := DecodeQuery(httptest.NewRequest(http.MethodGet, "/download", nil), "download", "jobid")
	if err != nil {
		t.Fatalf("DecodeQuery: %v", err)
	}
	_, err = services.ResolveParam(q, "jobid")
	if !common.IsKind(err, common.KindMissingParameter) {
		t.Fatalf("expected MissingParameter, got %v", err)
	}
}

func TestDecodeQuery_BadJSON(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{`))
	if _, err := DecodeQuery(req, "download", "jobid"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestWriteResponse(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteResponse(rec, models.BadRequest("pending"))
	if rec.Code != http.StatusBadRequest || rec.Body.String() != `"pending"` {
		t.Fatalf("got %d %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content type = %q", ct)
	}
}
