package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
	"testing"

	"github.com/Lllllllleong/imagepipeline/internal/config"
	"github.com/Lllllllleong/imagepipeline/internal/models"
)

type storedObject struct {
	data []byte
	opts PutOptions
}

type memBlobs struct {
	mu      sync.Mutex
	objects map[string]storedObject
	getErr  map[string]error
	putErr  map[string]error
	puts    []string
}

func newMemBlobs() *memBlobs {
	return &memBlobs{
		objects: map[string]storedObject{},
		getErr:  map[string]error{},
		putErr:  map[string]error{},
	}
}

func (m *memBlobs) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.getErr[key]; err != nil {
		return nil, err
	}
	obj, ok := m.objects[key]
	if !ok {
		return nil, ErrObjectNotFound
	}
	return append([]byte(nil), obj.data...), nil
}

func (m *memBlobs) Put(_ context.Context, key string, data []byte, opts PutOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.putErr[key]; err != nil {
		return err
	}
	m.objects[key] = storedObject{data: append([]byte(nil), data...), opts: opts}
	m.puts = append(m.puts, key)
	return nil
}

func (m *memBlobs) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok, nil
}

func (m *memBlobs) object(t *testing.T, key string) storedObject {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	if !ok {
		t.Fatalf("object %q was not stored", key)
	}
	return obj
}

type memJobs struct {
	mu   sync.Mutex
	jobs map[string]models.Job
}

func newMemJobs(jobs ...*models.Job) *memJobs {
	m := &memJobs{jobs: map[string]models.Job{}}
	for _, j := range jobs {
		m.jobs[j.JobID] = *j
	}
	return m
}

func (m *memJobs) Get(_ context.Context, jobID string) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	return &j, nil
}

func (m *memJobs) FindBySourceKey(_ context.Context, sourceKey string) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.jobs {
		if j.SourceKey == sourceKey {
			return &j, nil
		}
	}
	return nil, ErrJobNotFound
}

func (m *memJobs) Update(_ context.Context, jobID string, mutate func(*models.Job) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	if err := mutate(&j); err != nil {
		return err
	}
	m.jobs[jobID] = j
	return nil
}

func (m *memJobs) job(t *testing.T, jobID string) models.Job {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		t.Fatalf("job %q not found", jobID)
	}
	return j
}

type fakeDetector struct {
	labels []string
	err    error
}

func (d *fakeDetector) DetectLabels(context.Context, []byte) ([]string, error) {
	return d.labels, d.err
}

type triggered struct {
	stage   models.Stage
	payload models.StagePayload
}

type recordingTrigger struct {
	mu    sync.Mutex
	calls []triggered
	err   error
}

func (r *recordingTrigger) Trigger(_ context.Context, stage models.Stage, payload models.StagePayload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.calls = append(r.calls, triggered{stage: stage, payload: payload})
	return nil
}

type harness struct {
	cfg      *config.Config
	blobs    *memBlobs
	jobs     *memJobs
	detector *fakeDetector
	trigger  *recordingTrigger
}

func newHarness(jobs ...*models.Job) *harness {
	return &harness{
		cfg:      &config.Config{BucketName: "photos"},
		blobs:    newMemBlobs(),
		jobs:     newMemJobs(jobs...),
		detector: &fakeDetector{labels: []string{"Cat", "Animal"}},
		trigger:  &recordingTrigger{},
	}
}

func (h *harness) deps() Deps {
	return Deps{Blobs: h.blobs, Jobs: h.jobs, Detector: h.detector, Trigger: h.trigger}
}

func (h *harness) compress(t *testing.T) *CompressFunction {
	t.Helper()
	f, err := NewCompress(h.cfg, h.deps())
	if err != nil {
		t.Fatalf("NewCompress: %v", err)
	}
	return f
}

func (h *harness) labels(t *testing.T) *LabelsFunction {
	t.Helper()
	f, err := NewLabels(h.cfg, h.deps())
	if err != nil {
		t.Fatalf("NewLabels: %v", err)
	}
	return f
}

func (h *harness) metadata(t *testing.T) *MetadataFunction {
	t.Helper()
	f, err := NewMetadata(h.cfg, h.deps())
	if err != nil {
		t.Fatalf("NewMetadata: %v", err)
	}
	return f
}

func (h *harness) download(t *testing.T) *DownloadFunction {
	t.Helper()
	f, err := NewDownload(h.deps())
	if err != nil {
		t.Fatalf("NewDownload: %v", err)
	}
	return f
}

func (h *harness) match(t *testing.T) *MatchFunction {
	t.Helper()
	f, err := NewMatch(h.deps())
	if err != nil {
		t.Fatalf("NewMatch: %v", err)
	}
	return f
}

func testJPEG(t *testing.T, w, h int, shade uint8) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x * 4), G: shade, B: uint8(y * 4), A: 0xff})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

// bodyString decodes a JSON string body.
func bodyString(t *testing.T, resp models.Response) string {
	t.Helper()
	var s string
	if err := json.Unmarshal([]byte(resp.Body), &s); err != nil {
		t.Fatalf("body %q is not a JSON string: %v", resp.Body, err)
	}
	return s
}

var errBoom = errors.New("boom")
