// Package merge implements last-writer-wins reconciliation of entity tables.
//
// updated_at is the only signal: a remote row replaces a local one only when
// it is strictly newer. A local row that is at least as new is presumed to be
// waiting in the outbox and is kept.
package merge

import (
	"time"

	"github.com/dmitrijs2005/attendkeeper/internal/models"
)

// Resolve picks the survivor for an id present on both sides. When the remote
// row wins its metadata is the union of both bags, remote keys first.
func Resolve[T any, P models.Ptr[T]](local, remote T) T {
	return ResolveWithin[T, P](local, remote, 0)
}

// ResolveWithin is Resolve with a tolerance: a remote row whose timestamp is
// at most window older than the local one is treated as the same state and
// preferred. A zero window is plain strictly-newer resolution.
func ResolveWithin[T any, P models.Ptr[T]](local, remote T, window time.Duration) T {
	lm, rm := P(&local).SyncMeta(), P(&remote).SyncMeta()
	if !remoteWins(lm.UpdatedAt, rm.UpdatedAt, window) {
		return local
	}
	out := remote
	P(&out).SyncMeta().Metadata = models.UnionMetadata(lm.Metadata, rm.Metadata)
	return out
}

func remoteWins(local, remote time.Time, window time.Duration) bool {
	if remote.After(local) {
		return true
	}
	return window > 0 && local.Sub(remote) <= window
}

// Reconcile unions two versions of a table by id. Local rows keep their
// order, remote-only rows are appended in remote order. Tombstones survive,
// so the result is suitable for persisting. The result never holds fewer
// rows than local.
func Reconcile[T any, P models.Ptr[T]](local, remote []T) []T {
	out := make([]T, len(local), len(local)+len(remote))
	copy(out, local)

	index := make(map[string]int, len(local))
	for i := range out {
		index[P(&out[i]).SyncMeta().ID] = i
	}

	for _, r := range remote {
		id := P(&r).SyncMeta().ID
		if i, ok := index[id]; ok {
			out[i] = Resolve[T, P](out[i], r)
			continue
		}
		index[id] = len(out)
		out = append(out, r)
	}
	return out
}

// Entities is the UI-facing merge: Reconcile with tombstones filtered out.
func Entities[T any, P models.Ptr[T]](local, remote []T) []T {
	return models.Live[T, P](Reconcile[T, P](local, remote))
}

// Tables reconciles every table of two documents.
func Tables(local, remote models.Tables) models.Tables {
	out := models.Tables{
		Profiles:                Reconcile(local.Profiles, remote.Profiles),
		Students:                Reconcile(local.Students, remote.Students),
		Groups:                  Reconcile(local.Groups, remote.Groups),
		AttendanceRecords:       Reconcile(local.AttendanceRecords, remote.AttendanceRecords),
		MakeupSessions:          Reconcile(local.MakeupSessions, remote.MakeupSessions),
		CompletedMakeupSessions: Reconcile(local.CompletedMakeupSessions, remote.CompletedMakeupSessions),
		ArchivedTerms:           Reconcile(local.ArchivedTerms, remote.ArchivedTerms),
	}
	out.Normalize()
	return out
}
