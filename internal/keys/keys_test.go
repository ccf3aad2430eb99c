package keys

import (
	"errors"
	"testing"

	"github.com/Lllllllleong/imagepipeline/internal/common"
)

func TestDerive(t *testing.T) {
	cases := []struct {
		key    string
		suffix Suffix
		want   string
	}{
		{"photo.jpg", Compressed, "photo-compressed.jpg"},
		{"photo.jpeg", Compressed, "photo-compressed.jpeg"},
		{"photo.JPG", Compressed, "photo-compressed.JPG"},
		{"y_li/gourds-454e.jpg", Compressed, "y_li/gourds-454e-compressed.jpg"},
		{"photo.jpg", Labels, "photo-labels.txt"},
		{"photo.jpeg", Labels, "photo-labels.txt"},
		{"photo.jpeg", Metadata, "photo-metadata.txt"},
		{"dir.v2/shot.Jpeg", Metadata, "dir.v2/shot-metadata.txt"},
	}

	for _, tc := range cases {
		got, err := Derive(tc.key, tc.suffix)
		if err != nil {
			t.Fatalf("Derive(%q, %q): %v", tc.key, tc.suffix, err)
		}
		if got != tc.want {
			t.Fatalf("Derive(%q, %q) = %q, want %q", tc.key, tc.suffix, got, tc.want)
		}
	}
}

func TestDerive_RejectsUnsupportedExtensions(t *testing.T) {
	for _, key := range []string{"photo.png", "photo", "archive.jpg.zip", ".jpg", "dir/.jpeg", ""} {
		_, err := Derive(key, Compressed)
		if !common.IsKind(err, common.KindUnsupportedFormat) {
			t.Fatalf("Derive(%q): expected UnsupportedFormat, got %v", key, err)
		}
	}
}

func TestDerive_RejectsRecompression(t *testing.T) {
	for _, key := range []string{"photo.jpg", "photo.jpeg", "a/b/c.JPG"} {
		compressed, err := Derive(key, Compressed)
		if err != nil {
			t.Fatalf("Derive(%q): %v", key, err)
		}
		if !IsCompressed(compressed) {
			t.Fatalf("IsCompressed(%q) = false", compressed)
		}
		if _, err := Derive(compressed, Compressed); !errors.Is(err, ErrAlreadyCompressed) {
			t.Fatalf("Derive(%q) again: expected ErrAlreadyCompressed, got %v", compressed, err)
		}
	}
}

func TestIsCompressed(t *testing.T) {
	cases := map[string]bool{
		"photo-compressed.jpg":  true,
		"photo-compressed.jpeg": true,
		"photo-compressed.JPEG": true,
		"photo.jpg":             false,
		"compressed.jpg":        false,
		"photo-compressed.png":  false,
		"photo-labels.txt":      false,
	}
	for key, want := range cases {
		if got := IsCompressed(key); got != want {
			t.Fatalf("IsCompressed(%q) = %v, want %v", key, got, want)
		}
	}
}

func TestFromResultsKey(t *testing.T) {
	set, err := FromResultsKey("uploads/photo-compressed.jpeg")
	if err != nil {
		t.Fatalf("FromResultsKey: %v", err)
	}
	want := Set{
		Source:     "uploads/photo.jpeg",
		Compressed: "uploads/photo-compressed.jpeg",
		Labels:     "uploads/photo-labels.txt",
		Metadata:   "uploads/photo-metadata.txt",
	}
	if set != want {
		t.Fatalf("FromResultsKey = %+v, want %+v", set, want)
	}

	set, err = FromResultsKey("photo.jpg")
	if err != nil {
		t.Fatalf("FromResultsKey(source key): %v", err)
	}
	if set.Compressed != "photo-compressed.jpg" || set.Labels != "photo-labels.txt" {
		t.Fatalf("unexpected set %+v", set)
	}
}
