package services

import (
	"github.com/Lllllllleong/imagepipeline/internal/common"
	"github.com/Lllllllleong/imagepipeline/internal/models"
)

// ResolveParam returns the named query parameter. A direct field wins over a
// path parameter of the same name.
func ResolveParam(q models.QueryEvent, name string) (string, error) {
	if v := q.Field(name); v != "" {
		return v, nil
	}
	if v := q.PathParameters[name]; v != "" {
		return v, nil
	}
	return "", common.Errorf(common.KindMissingParameter, "requires %s parameter", name)
}
