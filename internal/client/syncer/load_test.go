package syncer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dmitrijs2005/attendkeeper/internal/client/remote"
	"github.com/dmitrijs2005/attendkeeper/internal/client/store"
	"github.com/dmitrijs2005/attendkeeper/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func owned(m models.Meta) models.Meta {
	m.SetOwner("u1")
	return m
}

func TestLoadFromCloud_EmptyRemoteKeepsLocal(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	f.upsert(t, student("s1", "Ann"))
	f.upsert(t, student("s2", "Bob"))
	before := f.store.Load(ctx, user).Entities

	doc, err := f.engine.LoadFromCloud(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, before.Students, doc.Entities.Students)
	assert.Len(t, f.remote.CallsOf("Select"), len(models.AllTables))
}

func TestLoadFromCloud_RemoteNewerWins(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	doc := store.NewDocument()
	doc.Entities.Students = []models.Student{{
		Meta:      owned(models.Meta{ID: "s1", UpdatedAt: ts("2024-01-01T00:00:00Z"), Version: 1, ClientID: "c", Metadata: map[string]any{}}),
		ProfileID: "p1",
		Name:      "Old",
	}}
	require.NoError(t, f.store.Save(ctx, doc, user))

	f.remote.Seed(&models.Student{
		Meta:      owned(models.Meta{ID: "s1", UpdatedAt: ts("2024-06-01T00:00:00Z"), Version: 3, ClientID: "r"}),
		ProfileID: "p1",
		Name:      "Updated",
	})

	got, err := f.engine.LoadFromCloud(ctx, user)
	require.NoError(t, err)
	require.Len(t, got.Entities.Students, 1)
	assert.Equal(t, "Updated", got.Entities.Students[0].Name)

	persisted := f.store.Load(ctx, user)
	assert.Equal(t, "Updated", persisted.Entities.Students[0].Name)
}

func TestLoadFromCloud_AddsRemoteOnlyRowsAndIgnoresOtherUsers(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	f.upsert(t, student("s1", "Ann"))

	other := models.Meta{ID: "s9", UpdatedAt: t0}
	other.SetOwner("someone-else")
	f.remote.Seed(
		&models.Group{Meta: owned(models.Meta{ID: "g1", UpdatedAt: t0}), ProfileID: "p1", Name: "Mon"},
		&models.Student{Meta: other, ProfileID: "p9", Name: "Stranger"},
	)

	doc, err := f.engine.LoadFromCloud(ctx, user)
	require.NoError(t, err)
	assert.Len(t, doc.Entities.Students, 1)
	assert.Len(t, doc.Entities.Groups, 1)
}

func TestLoadFromCloud_ErrorLeavesLocalUntouched(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	f.upsert(t, student("s1", "Ann"))
	f.remote.SelectErr = errors.New("boom")

	_, err := f.engine.LoadFromCloud(ctx, user)
	require.Error(t, err)

	doc := f.store.Load(ctx, user)
	assert.Len(t, doc.Entities.Students, 1)
	assert.Equal(t, "load from cloud failed", doc.SyncLog[len(doc.SyncLog)-1].Message)
}

func TestLoadFromCloud_GuestRejected(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	_, err := f.engine.LoadFromCloud(context.Background(), store.Guest())
	require.ErrorIs(t, err, remote.ErrNoSession)
}

func TestLoadFromCloud_NewerRemoteSupersedesQueuedWrite(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	f.upsert(t, student("s1", "LocalOld"))
	f.upsert(t, student("s2", "LocalOnly"))
	f.remote.Seed(&models.Student{
		Meta:      owned(models.Meta{ID: "s1", UpdatedAt: t0.Add(time.Hour)}),
		ProfileID: "p1",
		Name:      "RemoteNewer",
	})

	doc, err := f.engine.LoadFromCloud(ctx, user)
	require.NoError(t, err)
	s1, ok := doc.Entities.Find(models.TableStudents, "s1")
	require.True(t, ok)
	assert.Equal(t, "RemoteNewer", s1.(*models.Student).Name)
	require.Len(t, doc.Outbox, 1, "only the write that is still current stays queued")
	queued, err := doc.Outbox[0].Entity()
	require.NoError(t, err)
	assert.Equal(t, "s2", queued.SyncMeta().ID)

	res, err := f.engine.Flush(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)

	row, ok := f.remote.Row(models.TableStudents, "s1")
	require.True(t, ok)
	assert.Equal(t, "RemoteNewer", row.(*models.Student).Name)
	assert.True(t, row.SyncMeta().UpdatedAt.Equal(t0.Add(time.Hour)))
}

func TestFlush_StaleWriteLeavesNewerRemoteRow(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	f.upsert(t, student("s1", "LocalOld"))
	f.remote.Seed(&models.Student{
		Meta:      owned(models.Meta{ID: "s1", UpdatedAt: t0.Add(time.Hour)}),
		ProfileID: "p1",
		Name:      "RemoteNewer",
	})

	_, err := f.engine.Flush(ctx, user)
	require.NoError(t, err)

	row, ok := f.remote.Row(models.TableStudents, "s1")
	require.True(t, ok)
	assert.Equal(t, "RemoteNewer", row.(*models.Student).Name)
}
