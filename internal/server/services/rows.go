package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/attendkeeper/internal/common"
	"github.com/dmitrijs2005/attendkeeper/internal/models"
	smodels "github.com/dmitrijs2005/attendkeeper/internal/server/models"
	"github.com/dmitrijs2005/attendkeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/attendkeeper/internal/rpc"
)

// RowService serves the per-table row store. Every call is scoped to the
// authenticated user; ids of other users' rows are invisible.
type RowService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	now         func() time.Time
}

func NewRowService(db *sql.DB, m repomanager.RepositoryManager) *RowService {
	return &RowService{db: db, repomanager: m, now: time.Now}
}

func (s *RowService) Select(ctx context.Context, userID, table string) ([]json.RawMessage, error) {
	t, err := models.ParseTable(table)
	if err != nil {
		return nil, err
	}
	rows, err := s.repomanager.Rows(s.db).Select(ctx, userID, string(t))
	if err != nil {
		return nil, fmt.Errorf("error selecting %s: %w", t, err)
	}
	return rows, nil
}

// Upsert writes each row independently. Rows that fail validation or belong
// to another user are reported back and do not stop the rest of the batch.
// Rows older than the stored version are skipped without a failure and are
// not counted as written.
func (s *RowService) Upsert(ctx context.Context, userID, table string, raws []json.RawMessage) (int, []rpc.RowFailure, error) {
	t, err := models.ParseTable(table)
	if err != nil {
		return 0, nil, err
	}
	repo := s.repomanager.Rows(s.db)

	written := 0
	failed := []rpc.RowFailure{}
	for _, raw := range raws {
		row, f := s.prepare(t, userID, raw)
		if f != nil {
			failed = append(failed, *f)
			continue
		}
		switch err := repo.Upsert(ctx, row); {
		case errors.Is(err, common.ErrStaleWrite):
			// the stored row is newer; the client adopts it on its next load
		case errors.Is(err, common.ErrOwnershipConflict):
			failed = append(failed, rpc.RowFailure{ID: row.ID, Code: rpc.CodeConflict, Message: err.Error()})
		case err != nil:
			failed = append(failed, rpc.RowFailure{ID: row.ID, Code: rpc.CodeInternal, Message: common.ErrorInternal.Error()})
		default:
			written++
		}
	}
	return written, failed, nil
}

// prepare decodes and validates one row and stamps the caller as its owner.
func (s *RowService) prepare(t models.TableName, userID string, raw json.RawMessage) (*smodels.Row, *rpc.RowFailure) {
	e, err := models.DecodeEntity(t, raw)
	if err != nil {
		return nil, &rpc.RowFailure{ID: rawID(raw), Code: rpc.CodeInvalid, Message: err.Error()}
	}
	meta := e.SyncMeta()
	if err := models.Validate(e); err != nil {
		return nil, &rpc.RowFailure{ID: meta.ID, Code: rpc.CodeInvalid, Message: err.Error()}
	}
	if owner := meta.Owner(); owner != "" && owner != userID {
		return nil, &rpc.RowFailure{ID: meta.ID, Code: rpc.CodeConflict, Message: common.ErrOwnershipConflict.Error()}
	}

	meta.SetOwner(userID)
	if meta.UpdatedAt.IsZero() {
		meta.UpdatedAt = s.now().UTC()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil, &rpc.RowFailure{ID: meta.ID, Code: rpc.CodeInvalid, Message: err.Error()}
	}
	return &smodels.Row{
		Table:     string(t),
		ID:        meta.ID,
		UserID:    userID,
		Data:      data,
		UpdatedAt: meta.UpdatedAt,
		Deleted:   meta.Deleted,
	}, nil
}

// rawID recovers the id of a row that failed to decode, if it has one.
func rawID(raw json.RawMessage) string {
	var head struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(raw, &head)
	return head.ID
}

// SoftDelete tombstones the user's rows. A zero at means now.
func (s *RowService) SoftDelete(ctx context.Context, userID, table string, ids []string, at time.Time) (int64, error) {
	t, err := models.ParseTable(table)
	if err != nil {
		return 0, err
	}
	if at.IsZero() {
		at = s.now()
	}
	n, err := s.repomanager.Rows(s.db).SoftDelete(ctx, userID, string(t), ids, at)
	if err != nil {
		return 0, fmt.Errorf("error deleting %s: %w", t, err)
	}
	return n, nil
}

func (s *RowService) DeleteByProfiles(ctx context.Context, userID, table string, profileIDs []string) (int64, error) {
	t, err := models.ParseTable(table)
	if err != nil {
		return 0, err
	}
	n, err := s.repomanager.Rows(s.db).DeleteByProfiles(ctx, userID, string(t), profileIDs)
	if err != nil {
		return 0, fmt.Errorf("error removing %s: %w", t, err)
	}
	return n, nil
}
