package store

import (
	"context"
	"testing"
	"time"

	"github.com/d1618033/simplechat/internal/db"
	"github.com/d1618033/simplechat/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *GormStore {
	t.Helper()
	gdb, err := db.Connect(db.DriverSQLite, "file:"+uuid.NewString()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb))
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return New(gdb)
}

func mustRoom(t *testing.T, s *GormStore) *models.Room {
	t.Helper()
	room := &models.Room{}
	require.NoError(t, s.CreateRoom(context.Background(), room))
	return room
}

func mustParticipant(t *testing.T, s *GormStore, roomID uint, name string) *models.Participant {
	t.Helper()
	p := &models.Participant{Name: name, RoomID: roomID, Active: true}
	require.NoError(t, s.CreateParticipant(context.Background(), p))
	return p
}

func TestGormStore_RoomLifecycle(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	r1 := mustRoom(t, s)
	r2 := mustRoom(t, s)
	assert.Less(t, r1.ID, r2.ID)

	got, err := s.GetRoom(ctx, r1.ID)
	require.NoError(t, err)
	assert.Equal(t, r1.ID, got.ID)

	_, err = s.GetRoom(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)

	rooms, err := s.ListRooms(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rooms, 2)
	assert.Equal(t, r2.ID, rooms[0].ID, "newest first")
}

func TestGormStore_FilterMessages(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	room := mustRoom(t, s)
	other := mustRoom(t, s)
	p := mustParticipant(t, s, room.ID, "david")
	q := mustParticipant(t, s, other.ID, "bro")

	var ids []uint
	for i, text := range []string{"a", "b", "c"} {
		m := &models.Message{RoomID: room.ID, ParticipantID: p.ID, Text: text}
		require.NoError(t, s.CreateMessage(ctx, m))
		ids = append(ids, m.ID)
		// interleave a message in another room so ids are not contiguous
		require.NoError(t, s.CreateMessage(ctx, &models.Message{RoomID: other.ID, ParticipantID: q.ID, Text: "x" + string(rune('0'+i))}))
	}

	all, err := s.FilterMessages(ctx, room.ID, MessageFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	for i, m := range all {
		assert.Equal(t, ids[i], m.ID)
		assert.Equal(t, room.ID, m.RoomID)
	}

	since := ids[1]
	tail, err := s.FilterMessages(ctx, room.ID, MessageFilter{SinceID: &since})
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, ids[1], tail[0].ID)
	assert.Equal(t, ids[2], tail[1].ID)

	beyond := ids[2] + 100
	empty, err := s.FilterMessages(ctx, room.ID, MessageFilter{SinceID: &beyond})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestGormStore_ParticipantsActiveFilter(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	room := mustRoom(t, s)
	david := mustParticipant(t, s, room.ID, "david")
	bro := mustParticipant(t, s, room.ID, "bro")

	require.NoError(t, s.DeactivateParticipant(ctx, bro.ID))

	active, err := s.FilterParticipants(ctx, room.ID, ParticipantFilter{ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, david.ID, active[0].ID)

	everyone, err := s.FilterParticipants(ctx, room.ID, ParticipantFilter{})
	require.NoError(t, err)
	assert.Len(t, everyone, 2)

	got, err := s.GetParticipant(ctx, bro.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)

	assert.ErrorIs(t, s.DeactivateParticipant(ctx, 999), ErrNotFound)
}

func TestGormStore_CreateParticipantKeepsActiveFlag(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	room := mustRoom(t, s)

	for _, active := range []bool{true, false} {
		p := &models.Participant{Name: "david", RoomID: room.ID, Active: active}
		require.NoError(t, s.CreateParticipant(ctx, p))
		assert.Equal(t, active, p.Active)

		got, err := s.GetParticipant(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, active, got.Active)
	}
}

func TestGormStore_FindParticipants(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	room := mustRoom(t, s)
	a := mustParticipant(t, s, room.ID, "a")
	b := mustParticipant(t, s, room.ID, "b")

	none, err := s.FindParticipants(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, none)

	found, err := s.FindParticipants(ctx, []uint{b.ID, a.ID, 999})
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, a.ID, found[0].ID)
	assert.Equal(t, b.ID, found[1].ID)
}

func TestGormStore_Sessions(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	room := mustRoom(t, s)
	p := mustParticipant(t, s, room.ID, "david")

	sess := &models.Session{ID: uuid.NewString(), ParticipantID: p.ID, RoomID: room.ID, ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, s.CreateSession(ctx, sess))

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Nil(t, got.RevokedAt)

	require.NoError(t, s.RevokeSessions(ctx, p.ID))
	got, err = s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.RevokedAt)

	_, err = s.GetSession(ctx, uuid.NewString())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGormStore_MessageTextVerbatim(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	room := mustRoom(t, s)
	p := mustParticipant(t, s, room.ID, "<")

	text := "<script>alert('x')</script> &amp; <"
	m := &models.Message{RoomID: room.ID, ParticipantID: p.ID, Text: text}
	require.NoError(t, s.CreateMessage(ctx, m))

	got, err := s.GetMessage(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, text, got.Text)

	author, err := s.GetParticipant(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "<", author.Name)
}
