package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedUser(t *testing.T, s *SQLiteStore, username string) *User {
	t.Helper()
	u := &User{
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: "x",
	}
	require.NoError(t, s.CreateUser(context.Background(), u))
	return u
}

func seedRoom(t *testing.T, s *SQLiteStore, owner *User, members ...*User) *ChatRoom {
	t.Helper()
	ctx := context.Background()
	room := &ChatRoom{Name: "room", IsGroup: len(members) > 1}
	require.NoError(t, s.CreateRoom(ctx, room, owner.ID))
	for _, m := range members {
		require.NoError(t, s.AddParticipant(ctx, &Participant{
			ChatRoomID: room.ID,
			UserID:     m.ID,
		}))
	}
	return room
}

func TestCreateUserDefaultsAndConflicts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u := seedUser(t, s, "alice")
	assert.Equal(t, UserRoleUser, u.Role)
	assert.Equal(t, PlanFree, u.Plan)
	assert.Equal(t, "en", u.PreferredLanguage)
	assert.NotZero(t, u.ID)

	dup := &User{Username: "alice", Email: "other@example.com", PasswordHash: "x"}
	assert.ErrorIs(t, s.CreateUser(ctx, dup), ErrConflict)

	// Email uniqueness is case-insensitive.
	dup2 := &User{Username: "alice2", Email: "ALICE@example.com", PasswordHash: "x"}
	assert.ErrorIs(t, s.CreateUser(ctx, dup2), ErrConflict)

	got, err := s.GetUserByEmail(ctx, "ALICE@Example.COM")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
}

func TestCreateRoomInsertsOwnerParticipant(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	alice := seedUser(t, s, "alice")
	room := seedRoom(t, s, alice)

	p, err := s.GetParticipant(ctx, room.ID, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, RoleOwner, p.Role)

	bob := seedUser(t, s, "bob")
	require.NoError(t, s.AddParticipant(ctx, &Participant{ChatRoomID: room.ID, UserID: bob.ID}))
	assert.ErrorIs(t, s.AddParticipant(ctx, &Participant{ChatRoomID: room.ID, UserID: bob.ID}), ErrConflict)

	infos, err := s.ListParticipants(ctx, room.ID)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "alice", infos[0].Username)
	assert.Equal(t, "bob", infos[1].Username)
}

func TestClientMessageIDIdempotencyIndex(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	alice := seedUser(t, s, "alice")
	bob := seedUser(t, s, "bob")
	room := seedRoom(t, s, alice, bob)

	clientID := "c-123"
	m1 := &Message{ChatRoomID: room.ID, SenderID: alice.ID, ClientMessageID: &clientID, RawContent: "hi"}
	require.NoError(t, s.CreateMessage(ctx, m1, nil, nil))

	dup := &Message{ChatRoomID: room.ID, SenderID: alice.ID, ClientMessageID: &clientID, RawContent: "hi again"}
	assert.ErrorIs(t, s.CreateMessage(ctx, dup, nil, nil), ErrConflict)

	found, err := s.GetMessageByClientID(ctx, room.ID, alice.ID, clientID)
	require.NoError(t, err)
	assert.Equal(t, m1.ID, found.ID)

	// Same client id from a different sender is a different message.
	m2 := &Message{ChatRoomID: room.ID, SenderID: bob.ID, ClientMessageID: &clientID, RawContent: "mine"}
	require.NoError(t, s.CreateMessage(ctx, m2, nil, nil))

	// NULL client ids never collide.
	require.NoError(t, s.CreateMessage(ctx, &Message{ChatRoomID: room.ID, SenderID: alice.ID, RawContent: "a"}, nil, nil))
	require.NoError(t, s.CreateMessage(ctx, &Message{ChatRoomID: room.ID, SenderID: alice.ID, RawContent: "b"}, nil, nil))
}

func TestCreateMessageWithKeysAndAttachments(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	alice := seedUser(t, s, "alice")
	bob := seedUser(t, s, "bob")
	room := seedRoom(t, s, alice, bob)

	ct := `{"v":1,"ct":"abc"}`
	msg := &Message{
		ChatRoomID:        room.ID,
		SenderID:          alice.ID,
		ContentCiphertext: &ct,
		Translations:      map[string]string{"es": "hola"},
	}
	keys := map[int64]string{alice.ID: "sealed-a", bob.ID: "sealed-b"}
	atts := []*Attachment{{Kind: AttachmentImage, URL: "/files/x.png", MimeType: "image/png"}}
	require.NoError(t, s.CreateMessage(ctx, msg, keys, atts))

	got, err := s.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ContentCiphertext)
	assert.Equal(t, ct, *got.ContentCiphertext)
	assert.Equal(t, map[string]string{"es": "hola"}, got.Translations)

	key, err := s.GetMessageKey(ctx, msg.ID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, "sealed-b", key)

	_, err = s.GetMessageKey(ctx, msg.ID, 999)
	assert.ErrorIs(t, err, ErrNotFound)

	listed, err := s.ListAttachments(ctx, msg.ID)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, AttachmentImage, listed[0].Kind)
}

func TestListMessagesPagingAndVisibility(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	alice := seedUser(t, s, "alice")
	room := seedRoom(t, s, alice)

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	var ids []int64
	for i := 0; i < 5; i++ {
		m := &Message{
			ChatRoomID: room.ID,
			SenderID:   alice.ID,
			RawContent: "m",
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, s.CreateMessage(ctx, m, nil, nil))
		ids = append(ids, m.ID)
	}

	now := base.Add(time.Hour)

	// Newest first, full page.
	page, err := s.ListMessages(ctx, room.ID, 10, 0, nil, now)
	require.NoError(t, err)
	require.Len(t, page, 5)
	assert.Equal(t, ids[4], page[0].ID)

	// beforeID pages older.
	page, err = s.ListMessages(ctx, room.ID, 2, ids[3], nil, now)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, ids[2], page[0].ID)
	assert.Equal(t, ids[1], page[1].ID)

	// visibleAfter hides the first three (strictly-after cutoff).
	cutoff := base.Add(2 * time.Minute)
	page, err = s.ListMessages(ctx, room.ID, 10, 0, &cutoff, now)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, ids[4], page[0].ID)
	assert.Equal(t, ids[3], page[1].ID)

	// An expired message is hidden even before the worker tombstones it.
	exp := now.Add(-time.Second)
	expired := &Message{ChatRoomID: room.ID, SenderID: alice.ID, RawContent: "gone", ExpiresAt: &exp, CreatedAt: base}
	require.NoError(t, s.CreateMessage(ctx, expired, nil, nil))
	page, err = s.ListMessages(ctx, room.ID, 10, 0, nil, now)
	require.NoError(t, err)
	assert.Len(t, page, 5)
}

func TestTombstoneMessageClearsContent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	alice := seedUser(t, s, "alice")
	room := seedRoom(t, s, alice)

	ct := "cipher"
	m := &Message{
		ChatRoomID:        room.ID,
		SenderID:          alice.ID,
		RawContent:        "secret",
		ContentCiphertext: &ct,
		Translations:      map[string]string{"es": "secreto"},
	}
	require.NoError(t, s.CreateMessage(ctx, m, nil, nil))

	at := time.Now().UTC()
	require.NoError(t, s.TombstoneMessage(ctx, m.ID, alice.ID, at))

	got, err := s.GetMessage(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, got.DeletedForAll)
	assert.Empty(t, got.RawContent)
	assert.Nil(t, got.ContentCiphertext)
	assert.Nil(t, got.Translations)
	require.NotNil(t, got.DeletedByID)
	assert.Equal(t, alice.ID, *got.DeletedByID)

	// Second tombstone is a no-op success.
	require.NoError(t, s.TombstoneMessage(ctx, m.ID, alice.ID, at.Add(time.Minute)))
	again, err := s.GetMessage(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, got.DeletedAt.UnixMilli(), again.DeletedAt.UnixMilli())

	assert.ErrorIs(t, s.TombstoneMessage(ctx, 9999, alice.ID, at), ErrNotFound)

	// Tombstoned rows refuse edits.
	assert.ErrorIs(t, s.UpdateMessageContent(ctx, m.ID, "edit", at), ErrNotFound)
}

func TestExpireCandidatesAndBatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	alice := seedUser(t, s, "alice")
	room := seedRoom(t, s, alice)

	now := time.Now().UTC()
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	var dueIDs []int64
	for i := 0; i < 3; i++ {
		m := &Message{ChatRoomID: room.ID, SenderID: alice.ID, RawContent: "ttl", ExpiresAt: &past}
		require.NoError(t, s.CreateMessage(ctx, m, nil, nil))
		dueIDs = append(dueIDs, m.ID)
	}
	keep := &Message{ChatRoomID: room.ID, SenderID: alice.ID, RawContent: "later", ExpiresAt: &future}
	require.NoError(t, s.CreateMessage(ctx, keep, nil, nil))
	forever := &Message{ChatRoomID: room.ID, SenderID: alice.ID, RawContent: "forever"}
	require.NoError(t, s.CreateMessage(ctx, forever, nil, nil))

	ids, err := s.ExpireCandidates(ctx, now, 2)
	require.NoError(t, err)
	assert.Equal(t, dueIDs[:2], ids)

	at := now.Truncate(time.Millisecond)
	require.NoError(t, s.TombstoneBatch(ctx, ids, at))

	claimed, err := s.ListTombstonedAt(ctx, at)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	assert.True(t, claimed[0].DeletedForAll)
	assert.Nil(t, claimed[0].DeletedByID)

	// Remaining candidate picked up on the next pass.
	ids, err = s.ExpireCandidates(ctx, now, 10)
	require.NoError(t, err)
	assert.Equal(t, dueIDs[2:], ids)
}

func TestTombstoneRoom(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	alice := seedUser(t, s, "alice")
	room := seedRoom(t, s, alice)
	other := seedRoom(t, s, alice)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.CreateMessage(ctx, &Message{ChatRoomID: room.ID, SenderID: alice.ID, RawContent: "x"}, nil, nil))
	}
	outside := &Message{ChatRoomID: other.ID, SenderID: alice.ID, RawContent: "keep"}
	require.NoError(t, s.CreateMessage(ctx, outside, nil, nil))

	ids, err := s.TombstoneRoom(ctx, room.ID, alice.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.Len(t, ids, 3)

	got, err := s.GetMessage(ctx, outside.ID)
	require.NoError(t, err)
	assert.False(t, got.DeletedForAll)

	// Empty second pass.
	ids, err = s.TombstoneRoom(ctx, room.ID, alice.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestPruneMessagesBeforeByPlan(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	free := seedUser(t, s, "free")
	premium := &User{Username: "prem", Email: "prem@example.com", PasswordHash: "x", Plan: PlanPremium}
	require.NoError(t, s.CreateUser(ctx, premium))
	room := seedRoom(t, s, free, premium)

	old := time.Now().UTC().Add(-40 * 24 * time.Hour)
	oldFree := &Message{ChatRoomID: room.ID, SenderID: free.ID, RawContent: "old", CreatedAt: old}
	require.NoError(t, s.CreateMessage(ctx, oldFree, map[int64]string{free.ID: "k"},
		[]*Attachment{{Kind: AttachmentFile, URL: "/f"}}))
	oldPrem := &Message{ChatRoomID: room.ID, SenderID: premium.ID, RawContent: "old-prem", CreatedAt: old}
	require.NoError(t, s.CreateMessage(ctx, oldPrem, nil, nil))
	fresh := &Message{ChatRoomID: room.ID, SenderID: free.ID, RawContent: "fresh"}
	require.NoError(t, s.CreateMessage(ctx, fresh, nil, nil))

	_, err := s.AddReaction(ctx, oldFree.ID, premium.ID, "👍")
	require.NoError(t, err)

	cutoff := time.Now().UTC().Add(-30 * 24 * time.Hour)
	n, err := s.PruneMessagesBefore(ctx, PlanFree, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.GetMessage(ctx, oldFree.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetMessage(ctx, oldPrem.ID)
	assert.NoError(t, err)
	_, err = s.GetMessage(ctx, fresh.ID)
	assert.NoError(t, err)

	// Dependent rows are gone with the message.
	_, err = s.GetMessageKey(ctx, oldFree.ID, free.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	atts, err := s.ListAttachments(ctx, oldFree.ID)
	require.NoError(t, err)
	assert.Empty(t, atts)
}

func TestReactions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	alice := seedUser(t, s, "alice")
	bob := seedUser(t, s, "bob")
	room := seedRoom(t, s, alice, bob)
	m := &Message{ChatRoomID: room.ID, SenderID: alice.ID, RawContent: "hi"}
	require.NoError(t, s.CreateMessage(ctx, m, nil, nil))

	added, err := s.AddReaction(ctx, m.ID, bob.ID, "🔥")
	require.NoError(t, err)
	assert.True(t, added)

	// Duplicate is a no-op.
	added, err = s.AddReaction(ctx, m.ID, bob.ID, "🔥")
	require.NoError(t, err)
	assert.False(t, added)

	_, err = s.AddReaction(ctx, m.ID, alice.ID, "🔥")
	require.NoError(t, err)
	_, err = s.AddReaction(ctx, m.ID, alice.ID, "👍")
	require.NoError(t, err)

	n, err := s.CountReactions(ctx, m.ID, "🔥")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	summaries, err := s.ReactionSummaries(ctx, []int64{m.ID})
	require.NoError(t, err)
	require.Len(t, summaries[m.ID], 2)

	mine, err := s.UserReactions(ctx, alice.ID, []int64{m.ID})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"🔥", "👍"}, mine[m.ID])

	removed, err := s.RemoveReaction(ctx, m.ID, bob.ID, "🔥")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = s.RemoveReaction(ctx, m.ID, bob.ID, "🔥")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestReadReceipts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	alice := seedUser(t, s, "alice")
	bob := seedUser(t, s, "bob")
	room := seedRoom(t, s, alice, bob)
	m := &Message{ChatRoomID: room.ID, SenderID: alice.ID, RawContent: "hi"}
	require.NoError(t, s.CreateMessage(ctx, m, nil, nil))

	other, err := s.HasReaderBesides(ctx, m.ID, alice.ID)
	require.NoError(t, err)
	assert.False(t, other)

	first := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	inserted, err := s.UpsertRead(ctx, m.ID, bob.ID, first)
	require.NoError(t, err)
	assert.True(t, inserted)
	// Re-reads keep the first timestamp and report no new receipt.
	inserted, err = s.UpsertRead(ctx, m.ID, bob.ID, first.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, inserted)

	readers, err := s.ReadersFor(ctx, []int64{m.ID})
	require.NoError(t, err)
	require.Len(t, readers[m.ID], 1)
	assert.Equal(t, "bob", readers[m.ID][0].Username)
	assert.Equal(t, first, readers[m.ID][0].ReadAt)

	other, err = s.HasReaderBesides(ctx, m.ID, alice.ID)
	require.NoError(t, err)
	assert.True(t, other)

	// The sender's own read does not count against them.
	_, err = s.UpsertRead(ctx, m.ID, alice.ID, first)
	require.NoError(t, err)
	other, err = s.HasReaderBesides(ctx, m.ID, bob.ID)
	require.NoError(t, err)
	assert.True(t, other)
}

func TestPerUserDeletionsAndThreadClears(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	alice := seedUser(t, s, "alice")
	bob := seedUser(t, s, "bob")
	room := seedRoom(t, s, alice, bob)
	m := &Message{ChatRoomID: room.ID, SenderID: alice.ID, RawContent: "hi"}
	require.NoError(t, s.CreateMessage(ctx, m, nil, nil))

	require.NoError(t, s.MarkDeletedForUser(ctx, m.ID, bob.ID))
	require.NoError(t, s.MarkDeletedForUser(ctx, m.ID, bob.ID)) // idempotent

	hidden, err := s.DeletedForUser(ctx, bob.ID, []int64{m.ID})
	require.NoError(t, err)
	assert.True(t, hidden[m.ID])

	hidden, err = s.DeletedForUser(ctx, alice.ID, []int64{m.ID})
	require.NoError(t, err)
	assert.False(t, hidden[m.ID])

	cut, err := s.GetThreadClear(ctx, bob.ID, room.ID)
	require.NoError(t, err)
	assert.Nil(t, cut)

	t1 := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.UpsertThreadClear(ctx, bob.ID, room.ID, t1))
	t2 := t1.Add(time.Hour)
	require.NoError(t, s.UpsertThreadClear(ctx, bob.ID, room.ID, t2))

	cut, err = s.GetThreadClear(ctx, bob.ID, room.ID)
	require.NoError(t, err)
	require.NotNil(t, cut)
	assert.Equal(t, t2, *cut)
}

func TestUploadDedup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	alice := seedUser(t, s, "alice")

	u := &Upload{OwnerID: alice.ID, Key: "2026/08/abc.png", SHA256: "deadbeef", Size: 42}
	require.NoError(t, s.CreateUpload(ctx, u))

	dup := &Upload{OwnerID: alice.ID, Key: "2026/08/other.png", SHA256: "deadbeef"}
	assert.ErrorIs(t, s.CreateUpload(ctx, dup), ErrConflict)

	found, err := s.FindUploadBySHA(ctx, alice.ID, "deadbeef")
	require.NoError(t, err)
	assert.Equal(t, u.ID, found.ID)

	_, err = s.FindUploadBySHA(ctx, alice.ID, "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	byKey, err := s.GetUploadByKey(ctx, "2026/08/abc.png")
	require.NoError(t, err)
	assert.Equal(t, "local", byKey.Driver)
}

func TestPasswordResetSingleUse(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	alice := seedUser(t, s, "alice")
	now := time.Now().UTC()

	r := &PasswordReset{Token: "tok", UserID: alice.ID, ExpiresAt: now.Add(time.Hour)}
	require.NoError(t, s.CreatePasswordReset(ctx, r))

	got, err := s.ConsumePasswordReset(ctx, "tok", now)
	require.NoError(t, err)
	assert.Equal(t, alice.ID, got.UserID)

	_, err = s.ConsumePasswordReset(ctx, "tok", now)
	assert.ErrorIs(t, err, ErrNotFound)

	expired := &PasswordReset{Token: "old", UserID: alice.ID, ExpiresAt: now.Add(-time.Minute)}
	require.NoError(t, s.CreatePasswordReset(ctx, expired))
	_, err = s.ConsumePasswordReset(ctx, "old", now)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestScheduledMessages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	alice := seedUser(t, s, "alice")
	room := seedRoom(t, s, alice)
	now := time.Now().UTC()

	due := &ScheduledMessage{ChatRoomID: room.ID, SenderID: alice.ID, Content: "later", ScheduledAt: now.Add(-time.Minute)}
	require.NoError(t, s.CreateScheduledMessage(ctx, due))
	future := &ScheduledMessage{ChatRoomID: room.ID, SenderID: alice.ID, Content: "much later", ScheduledAt: now.Add(time.Hour)}
	require.NoError(t, s.CreateScheduledMessage(ctx, future))

	rows, err := s.DueScheduledMessages(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, due.ID, rows[0].ID)

	require.NoError(t, s.DeleteScheduledMessage(ctx, due.ID))
	assert.ErrorIs(t, s.DeleteScheduledMessage(ctx, due.ID), ErrNotFound)
}

func TestInvites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	alice := seedUser(t, s, "alice")
	room := seedRoom(t, s, alice)

	inv := &Invite{Code: "abc123", ChatRoomID: room.ID, CreatedBy: alice.ID}
	require.NoError(t, s.CreateInvite(ctx, inv))
	assert.ErrorIs(t, s.CreateInvite(ctx, &Invite{Code: "abc123", ChatRoomID: room.ID, CreatedBy: alice.ID}), ErrConflict)

	got, err := s.GetInvite(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, room.ID, got.ChatRoomID)
	assert.Nil(t, got.ExpiresAt)

	_, err = s.GetInvite(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}
