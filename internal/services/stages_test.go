package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/Lllllllleong/imagepipeline/internal/common"
	"github.com/Lllllllleong/imagepipeline/internal/imaging"
	"github.com/Lllllllleong/imagepipeline/internal/models"
)

// runChain drives one upload through the three stages, following the
// triggers the way the dispatcher would.
func runChain(t *testing.T, h *harness, key string) {
	t.Helper()
	ctx := context.Background()

	resp := h.compress(t).Process(ctx, models.StorageEvent{Bucket: "photos", Key: key})
	if !resp.IsSuccess() {
		t.Fatalf("compress failed: %s", resp.Body)
	}
	if len(h.trigger.calls) != 1 || h.trigger.calls[0].stage != models.StageDetectLabels {
		t.Fatalf("compress should trigger detect-labels once, got %+v", h.trigger.calls)
	}

	resp = h.labels(t).Process(ctx, h.trigger.calls[0].payload)
	if !resp.IsSuccess() {
		t.Fatalf("detect-labels failed: %s", resp.Body)
	}
	if len(h.trigger.calls) != 2 || h.trigger.calls[1].stage != models.StageExtractMetadata {
		t.Fatalf("detect-labels should trigger extract-metadata once, got %+v", h.trigger.calls)
	}

	resp = h.metadata(t).Process(ctx, h.trigger.calls[1].payload)
	if !resp.IsSuccess() {
		t.Fatalf("extract-metadata failed: %s", resp.Body)
	}
}

func TestPipeline_HappyPath(t *testing.T) {
	h := newHarness(models.NewPendingJob("job-1", "photo.jpg", "photo.jpg"))
	if err := h.blobs.Put(context.Background(), "photo.jpg", testJPEG(t, 32, 24, 90), PutOptions{}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	runChain(t, h, "photo.jpg")

	compressed := h.blobs.object(t, "photo-compressed.jpg")
	if compressed.opts.ContentType != "image/jpeg" || !compressed.opts.PublicRead {
		t.Fatalf("compressed artifact options = %+v", compressed.opts)
	}
	decoded, err := imaging.Decode(compressed.data)
	if err != nil {
		t.Fatalf("compressed artifact does not decode: %v", err)
	}
	if decoded.Bounds().Dx() != 32 || decoded.Bounds().Dy() != 24 {
		t.Fatalf("compressed artifact is %v, want 32x24", decoded.Bounds())
	}

	if got := string(h.blobs.object(t, "photo-labels.txt").data); got != "Cat\nAnimal" {
		t.Fatalf("labels artifact = %q", got)
	}
	if md := string(h.blobs.object(t, "photo-metadata.txt").data); !strings.HasPrefix(md, imaging.MetadataHeader) {
		t.Fatalf("metadata artifact = %q", md)
	}

	job := h.jobs.job(t, "job-1")
	if job.Status != models.StatusCompleted || job.ResultsKey != "photo-compressed.jpg" {
		t.Fatalf("job = %+v", job)
	}
	if job.CompressedKey != "photo-compressed.jpg" || job.LabelsKey != "photo-labels.txt" || job.MetadataKey != "photo-metadata.txt" {
		t.Fatalf("artifact pointers = %+v", job)
	}

	resp := h.download(t).Process(context.Background(), models.QueryEvent{JobID: "job-1"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("download = %+v", resp)
	}
	var result models.DownloadResult
	if err := json.Unmarshal([]byte(resp.Body), &result); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if result.OriginalName != "photo.jpg" {
		t.Fatalf("orig_name = %q", result.OriginalName)
	}
	labels, _ := base64.StdEncoding.DecodeString(result.Labels)
	if string(labels) != "Cat\nAnimal" {
		t.Fatalf("labels_str decodes to %q", labels)
	}
	img, _ := base64.StdEncoding.DecodeString(result.Image)
	if string(img) != string(compressed.data) {
		t.Fatalf("img_str does not match the compressed artifact")
	}
}

func TestCompress_RecursionGuard(t *testing.T) {
	for _, key := range []string{"photo-compressed.jpg", "dir/photo-compressed.JPEG"} {
		h := newHarness()
		resp := h.compress(t).Process(context.Background(), models.StorageEvent{Bucket: "photos", Key: key})
		if !resp.IsSuccess() || bodyString(t, resp) != SkippedBody {
			t.Fatalf("%s: expected skipped, got %+v", key, resp)
		}
		if len(h.blobs.puts) != 0 || len(h.trigger.calls) != 0 {
			t.Fatalf("%s: guard must have no side effects", key)
		}
	}
}

func TestCompress_UnsupportedFormat(t *testing.T) {
	h := newHarness()
	resp := h.compress(t).Process(context.Background(), models.StorageEvent{Bucket: "photos", Key: "doc.png"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %+v", resp)
	}
	if len(h.blobs.puts) != 0 || len(h.trigger.calls) != 0 {
		t.Fatalf("no artifact or trigger expected, puts=%v calls=%v", h.blobs.puts, h.trigger.calls)
	}
}

func TestCompress_DecodesKey(t *testing.T) {
	h := newHarness()
	if err := h.blobs.Put(context.Background(), "my photo(1).jpg", testJPEG(t, 8, 8, 10), PutOptions{}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	resp := h.compress(t).Process(context.Background(), models.StorageEvent{Bucket: "photos", Key: "my+photo%281%29.jpg"})
	if !resp.IsSuccess() {
		t.Fatalf("compress failed: %s", resp.Body)
	}
	h.blobs.object(t, "my photo(1)-compressed.jpg")
	if got := h.trigger.calls[0].payload; got.BucketKey != "my photo(1).jpg" || got.Bucket != "photos" {
		t.Fatalf("payload = %+v", got)
	}
}

func TestCompress_RawObjectNames(t *testing.T) {
	cases := []struct {
		name       string
		compressed string
	}{
		{"my+photo-abc.jpg", "my+photo-abc-compressed.jpg"},
		{"100%-abc.jpg", "100%-abc-compressed.jpg"},
		{"trips/a b+c%2F.JPEG", "trips/a b+c%2F-compressed.JPEG"},
	}
	for _, tc := range cases {
		h := newHarness()
		if err := h.blobs.Put(context.Background(), tc.name, testJPEG(t, 8, 8, 10), PutOptions{}); err != nil {
			t.Fatalf("seed: %v", err)
		}
		resp := h.compress(t).Process(context.Background(), models.NewStorageEvent("photos", tc.name))
		if !resp.IsSuccess() {
			t.Fatalf("%s: compress failed: %s", tc.name, resp.Body)
		}
		h.blobs.object(t, tc.compressed)
		if got := h.trigger.calls[0].payload.BucketKey; got != tc.name {
			t.Fatalf("%s: bucketkey = %q", tc.name, got)
		}
	}
}

func TestCompress_FailureWritesDiagnostic(t *testing.T) {
	h := newHarness()
	if err := h.blobs.Put(context.Background(), "broken.jpg", []byte("not a jpeg"), PutOptions{}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	resp := h.compress(t).Process(context.Background(), models.StorageEvent{Bucket: "photos", Key: "broken.jpg"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %+v", resp)
	}
	diag := h.blobs.object(t, "broken-compressed.jpg")
	if !strings.Contains(string(diag.data), "failed to re-encode image") {
		t.Fatalf("diagnostic = %q", diag.data)
	}
	if !strings.HasPrefix(diag.opts.ContentType, "text/plain") {
		t.Fatalf("diagnostic content type = %q", diag.opts.ContentType)
	}
	if len(h.trigger.calls) != 0 {
		t.Fatalf("failed compress must not trigger the next stage")
	}
}

func TestCompress_MissingSourceObject(t *testing.T) {
	h := newHarness()
	resp := h.compress(t).Process(context.Background(), models.StorageEvent{Bucket: "photos", Key: "gone.jpg"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %+v", resp)
	}
	if len(h.trigger.calls) != 0 {
		t.Fatalf("failed compress must not trigger the next stage")
	}
}

func TestLabels_Failures(t *testing.T) {
	cases := []struct {
		name     string
		payload  models.StagePayload
		detector *fakeDetector
		wantKind common.Kind
	}{
		{"missing key", models.StagePayload{Bucket: "photos"}, &fakeDetector{}, common.KindInvalidEvent},
		{"bad extension", models.StagePayload{Bucket: "photos", BucketKey: "a.gif"}, &fakeDetector{}, common.KindUnsupportedFormat},
		{"detector error", models.StagePayload{Bucket: "photos", BucketKey: "a.jpg"}, &fakeDetector{err: errBoom}, common.KindExternalFailure},
	}
	for _, tc := range cases {
		h := newHarness()
		h.detector = tc.detector
		_ = h.blobs.Put(context.Background(), "a.jpg", testJPEG(t, 4, 4, 1), PutOptions{})

		resp := h.labels(t).Process(context.Background(), tc.payload)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %+v", tc.name, resp)
		}
		var body models.StageError
		if err := json.Unmarshal([]byte(resp.Body), &body); err != nil {
			t.Fatalf("%s: body %q: %v", tc.name, resp.Body, err)
		}
		if body.Error != string(tc.wantKind) || body.ErrorMessage == "" {
			t.Fatalf("%s: body = %+v", tc.name, body)
		}
		if len(h.trigger.calls) != 0 {
			t.Fatalf("%s: failed stage must not trigger", tc.name)
		}
	}
}

func TestLabels_EmptyLabelList(t *testing.T) {
	h := newHarness()
	h.detector = &fakeDetector{}
	_ = h.blobs.Put(context.Background(), "a.jpg", testJPEG(t, 4, 4, 1), PutOptions{})

	resp := h.labels(t).Process(context.Background(), models.StagePayload{Bucket: "photos", BucketKey: "a.jpg"})
	if !resp.IsSuccess() {
		t.Fatalf("expected success, got %+v", resp)
	}
	if got := h.blobs.object(t, "a-labels.txt").data; len(got) != 0 {
		t.Fatalf("labels artifact = %q, want empty", got)
	}
}

func TestMetadata_FailureMarksJobError(t *testing.T) {
	h := newHarness(models.NewPendingJob("job-2", "bad.jpg", "bad.jpg"))
	_ = h.blobs.Put(context.Background(), "bad.jpg", []byte("garbage"), PutOptions{})

	resp := h.metadata(t).Process(context.Background(), models.StagePayload{Bucket: "photos", BucketKey: "bad.jpg"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %+v", resp)
	}

	job := h.jobs.job(t, "job-2")
	if job.Status != models.StatusError || job.ResultsKey != "bad-compressed.jpg" || job.ErrorDetails == "" {
		t.Fatalf("job = %+v", job)
	}
	diag := string(h.blobs.object(t, "bad-metadata.txt").data)
	if !strings.HasPrefix(diag, "failed to extract metadata") {
		t.Fatalf("diagnostic = %q", diag)
	}

	resp = h.download(t).Process(context.Background(), models.QueryEvent{JobID: "job-2"})
	if got := bodyString(t, resp); got != "ERROR: "+strings.SplitN(diag, "\n", 2)[0] {
		t.Fatalf("download body = %q", got)
	}
}

func TestMetadata_TerminalJobIsNotRewritten(t *testing.T) {
	done := models.NewPendingJob("job-3", "x.jpg", "x.jpg")
	if err := done.Finish(models.StatusCompleted, "x-compressed.jpg", ""); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	h := newHarness(done)
	_ = h.blobs.Put(context.Background(), "x.jpg", []byte("garbage"), PutOptions{})

	h.metadata(t).Process(context.Background(), models.StagePayload{Bucket: "photos", BucketKey: "x.jpg"})

	job := h.jobs.job(t, "job-3")
	if job.Status != models.StatusCompleted || job.ErrorDetails != "" || job.MetadataKey != "" {
		t.Fatalf("terminal job was modified: %+v", job)
	}
}

func TestMetadata_UnsupportedFormatWritesNothing(t *testing.T) {
	h := newHarness(models.NewPendingJob("job-4", "a.bmp", "a.bmp"))
	resp := h.metadata(t).Process(context.Background(), models.StagePayload{Bucket: "photos", BucketKey: "a.bmp"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %+v", resp)
	}
	if len(h.blobs.puts) != 0 {
		t.Fatalf("unexpected writes %v", h.blobs.puts)
	}
	if job := h.jobs.job(t, "job-4"); job.Status != models.StatusPending {
		t.Fatalf("job = %+v", job)
	}
}

func TestMetadata_MissingJobStillSucceeds(t *testing.T) {
	h := newHarness()
	_ = h.blobs.Put(context.Background(), "orphan.jpg", testJPEG(t, 4, 4, 1), PutOptions{})
	resp := h.metadata(t).Process(context.Background(), models.StagePayload{Bucket: "photos", BucketKey: "orphan.jpg"})
	if !resp.IsSuccess() {
		t.Fatalf("expected success, got %+v", resp)
	}
}

func TestResolveParam(t *testing.T) {
	q := models.QueryEvent{JobID: "direct", PathParameters: map[string]string{"jobid": "path", "source": "src"}}
	if v, _ := ResolveParam(q, "jobid"); v != "direct" {
		t.Fatalf("direct field should win, got %q", v)
	}
	if v, _ := ResolveParam(q, "source"); v != "src" {
		t.Fatalf("path parameter fallback, got %q", v)
	}
	_, err := ResolveParam(q, "target")
	if !common.IsKind(err, common.KindMissingParameter) || common.Text(err) != "requires target parameter" {
		t.Fatalf("err = %v", err)
	}
}
