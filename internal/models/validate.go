package models

import (
	"fmt"
	"sync"

	"github.com/dmitrijs2005/attendkeeper/internal/common"
	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks the domain fields of a record. Tombstones are accepted as
// is, since a deletion must propagate even if the row predates a rule.
func Validate(e Entity) error {
	if e == nil {
		return fmt.Errorf("%w: nil entity", common.ErrValidation)
	}
	if e.SyncMeta().ID == "" {
		return fmt.Errorf("%w: %s row without id", common.ErrValidation, e.Table())
	}
	if e.SyncMeta().Deleted {
		return nil
	}
	if err := validatorInstance().Struct(e); err != nil {
		return fmt.Errorf("%w: %s %s: %v", common.ErrValidation, e.Table(), e.SyncMeta().ID, err)
	}
	return nil
}
