// Package keys derives the storage keys of the artifacts produced for a
// source image. The naming is part of the external contract: consumers
// re-derive every artifact key from a job's results key.
package keys

import (
	"errors"
	"path"
	"strings"

	"github.com/Lllllllleong/imagepipeline/internal/common"
)

// Suffix identifies one derived artifact.
type Suffix string

const (
	// Compressed keeps the source extension.
	Compressed Suffix = "-compressed"
	Labels     Suffix = "-labels.txt"
	Metadata   Suffix = "-metadata.txt"
)

// ErrAlreadyCompressed is returned when asked to derive a compressed key from
// a key that is itself a compressed artifact.
var ErrAlreadyCompressed = errors.New("key already bears the compressed suffix")

// Set holds every artifact key derived from one source key.
type Set struct {
	Source     string
	Compressed string
	Labels     string
	Metadata   string
}

// Extension returns the extension of key's filename component. Only .jpg and
// .jpeg (any case) are accepted.
func Extension(key string) (string, error) {
	base := path.Base(key)
	ext := path.Ext(base)
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg":
	default:
		return "", common.Errorf(common.KindUnsupportedFormat, "expecting %q to have a .jpg or .jpeg extension", key)
	}
	if key == "" || strings.HasSuffix(key, "/") || len(base) == len(ext) {
		return "", common.Errorf(common.KindUnsupportedFormat, "key %q has no file name before its extension", key)
	}
	return ext, nil
}

// IsCompressed reports whether key names a compressed artifact. Such keys must
// never re-enter the Compress stage.
func IsCompressed(key string) bool {
	ext, err := Extension(key)
	if err != nil {
		return false
	}
	return strings.HasSuffix(strings.TrimSuffix(key, ext), string(Compressed))
}

// Derive strips the extension of sourceKey and appends suffix.
func Derive(sourceKey string, suffix Suffix) (string, error) {
	ext, err := Extension(sourceKey)
	if err != nil {
		return "", err
	}
	stem := strings.TrimSuffix(sourceKey, ext)
	switch suffix {
	case Compressed:
		if strings.HasSuffix(stem, string(Compressed)) {
			return "", ErrAlreadyCompressed
		}
		return stem + string(Compressed) + ext, nil
	case Labels, Metadata:
		return stem + string(suffix), nil
	default:
		return "", common.Errorf(common.KindUnsupportedFormat, "unknown artifact suffix %q", suffix)
	}
}

// DeriveAll derives the full artifact set of sourceKey.
func DeriveAll(sourceKey string) (Set, error) {
	set := Set{Source: sourceKey}
	var err error
	if set.Compressed, err = Derive(sourceKey, Compressed); err != nil {
		return Set{}, err
	}
	if set.Labels, err = Derive(sourceKey, Labels); err != nil {
		return Set{}, err
	}
	if set.Metadata, err = Derive(sourceKey, Metadata); err != nil {
		return Set{}, err
	}
	return set, nil
}

// FromResultsKey recovers the artifact set from a job's results key, which
// names the compressed artifact.
func FromResultsKey(resultsKey string) (Set, error) {
	ext, err := Extension(resultsKey)
	if err != nil {
		return Set{}, err
	}
	stem := strings.TrimSuffix(resultsKey, ext)
	if !strings.HasSuffix(stem, string(Compressed)) {
		return DeriveAll(resultsKey)
	}
	return DeriveAll(strings.TrimSuffix(stem, string(Compressed)) + ext)
}
