package bootstrap

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Lllllllleong/imagepipeline/internal/models"
)

// WriteResponse writes the status+body envelope to w.
func WriteResponse(w http.ResponseWriter, resp models.Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	if _, err := io.WriteString(w, resp.Body); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}

// DecodeQuery builds a QueryEvent from an HTTP request. A JSON body supplies
// direct fields and the query string supplies path parameters. Path segments,
// after an optional leading route segment, are bound to pathNames only when
// there is exactly one segment per name.
func DecodeQuery(r *http.Request, route string, pathNames ...string) (models.QueryEvent, error) {
	var q models.QueryEvent
	if r.Body != nil && r.Method == http.MethodPost {
		if err := json.NewDecoder(r.Body).Decode(&q); err != nil && !errors.Is(err, io.EOF) {
			return q, err
		}
	}
	if q.PathParameters == nil {
		q.PathParameters = map[string]string{}
	}
	for name, values := range r.URL.Query() {
		if len(values) > 0 {
			q.PathParameters[name] = values[0]
		}
	}

	var segments []string
	for _, s := range strings.Split(r.URL.Path, "/") {
		if s != "" {
			segments = append(segments, s)
		}
	}
	if len(segments) > 0 && segments[0] == route {
		segments = segments[1:]
	}
	if len(segments) != len(pathNames) {
		return q, nil
	}
	for i, name := range pathNames {
		if _, ok := q.PathParameters[name]; !ok {
			q.PathParameters[name] = segments[i]
		}
	}
	return q, nil
}
