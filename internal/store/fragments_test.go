package store

import (
	"context"
	"testing"
	"time"

	"github.com/kodapet/koda/internal/model"
	"github.com/m-mizutani/gt"
)

func mkFragment(petID, content string, ts time.Time, importance float64) *model.Fragment {
	return &model.Fragment{
		PetID:      petID,
		Content:    content,
		Timestamp:  ts.Truncate(time.Millisecond).UTC(),
		Importance: importance,
		Context:    model.ContextConversation,
	}
}

func TestFragmentRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)

	now := time.Now()
	f := mkFragment("pet-1", "第一次去海边", now, 0.7)
	f.Emotion = model.EmotionExcited
	f.Context = model.ContextBehavior
	gt.NoError(t, db.CreateFragment(ctx, f))
	gt.NotEqual(t, f.ID, "")

	got, err := db.GetFragment(ctx, f.ID)
	gt.NoError(t, err)
	gt.NotNil(t, got)
	gt.Equal(t, got.Content, "第一次去海边")
	gt.Equal(t, got.Emotion, model.EmotionExcited)
	gt.Equal(t, got.Context, model.ContextBehavior)
	gt.Equal(t, got.Importance, 0.7)
	gt.True(t, got.Timestamp.Equal(f.Timestamp))
	gt.A(t, got.References).Length(0)

	missing, err := db.GetFragment(ctx, "nope")
	gt.NoError(t, err)
	gt.Nil(t, missing)
}

func TestFragmentWithoutEmotion(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)

	f := mkFragment("pet-1", "吃了两碗饭", time.Now(), 0.5)
	gt.NoError(t, db.CreateFragment(ctx, f))

	got, err := db.GetFragment(ctx, f.ID)
	gt.NoError(t, err)
	gt.Equal(t, got.Emotion, model.Emotion(""))
}

func TestListFragmentsRange(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)

	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		gt.NoError(t, db.CreateFragment(ctx, mkFragment("pet-1", "day", base.AddDate(0, 0, i), 0.5)))
	}
	gt.NoError(t, db.CreateFragment(ctx, mkFragment("pet-2", "other pet", base, 0.5)))

	all, err := db.ListFragments(ctx, "pet-1", time.Time{}, time.Time{})
	gt.NoError(t, err)
	gt.A(t, all).Length(5)
	gt.True(t, all[0].Timestamp.After(all[4].Timestamp))

	window, err := db.ListFragments(ctx, "pet-1", base.AddDate(0, 0, 1), base.AddDate(0, 0, 3))
	gt.NoError(t, err)
	gt.A(t, window).Length(3)

	none, err := db.ListFragments(ctx, "pet-3", time.Time{}, time.Time{})
	gt.NoError(t, err)
	gt.A(t, none).Length(0)
}

func TestUpdateImportance(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)

	f := mkFragment("pet-1", "x", time.Now(), 0.4)
	gt.NoError(t, db.CreateFragment(ctx, f))

	ok, err := db.UpdateImportance(ctx, f.ID, 0.67)
	gt.NoError(t, err)
	gt.True(t, ok)

	got, _ := db.GetFragment(ctx, f.ID)
	gt.Equal(t, got.Importance, 0.67)

	ok, err = db.UpdateImportance(ctx, "missing", 0.1)
	gt.NoError(t, err)
	gt.False(t, ok)
}

func TestDeleteFragmentStripsReferences(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	now := time.Now()

	a := mkFragment("pet-1", "a", now, 0.5)
	b := mkFragment("pet-1", "b", now, 0.5)
	gt.NoError(t, db.CreateFragment(ctx, a))
	gt.NoError(t, db.CreateFragment(ctx, b))

	c := mkFragment("pet-1", "c", now, 0.5)
	c.References = []string{a.ID, b.ID}
	gt.NoError(t, db.CreateFragment(ctx, c))
	gt.NoError(t, db.UpsertIndex(ctx, model.Index{MemoryID: a.ID, Keywords: []string{"a"}, IndexedAt: now}))

	ok, err := db.DeleteFragment(ctx, a.ID)
	gt.NoError(t, err)
	gt.True(t, ok)

	got, err := db.GetFragment(ctx, c.ID)
	gt.NoError(t, err)
	gt.A(t, got.References).Length(1)
	gt.Equal(t, got.References[0], b.ID)

	idx, err := db.GetIndexes(ctx, []string{a.ID})
	gt.NoError(t, err)
	gt.Equal(t, len(idx), 0)

	ok, err = db.DeleteFragment(ctx, a.ID)
	gt.NoError(t, err)
	gt.False(t, ok)
}

func TestGetFragmentsSkipsMissing(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	base := time.Now()

	late := mkFragment("pet-1", "late", base, 0.5)
	early := mkFragment("pet-1", "early", base.Add(-time.Hour), 0.5)
	gt.NoError(t, db.CreateFragment(ctx, late))
	gt.NoError(t, db.CreateFragment(ctx, early))

	got, err := db.GetFragments(ctx, []string{late.ID, "ghost", early.ID})
	gt.NoError(t, err)
	gt.A(t, got).Length(2)
	gt.Equal(t, got[0].Content, "early")
}

func TestPetIDsAndDeletePet(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	now := time.Now()

	mine := mkFragment("pet-1", "mine", now, 0.5)
	gt.NoError(t, db.CreateFragment(ctx, mine))
	theirs := mkFragment("pet-2", "theirs", now, 0.5)
	theirs.References = []string{mine.ID}
	gt.NoError(t, db.CreateFragment(ctx, theirs))
	gt.NoError(t, db.CreateConversation(ctx, &model.Conversation{PetID: "pet-3", StartTime: now}))

	ids, err := db.PetIDs(ctx)
	gt.NoError(t, err)
	gt.A(t, ids).Length(3)

	gt.NoError(t, db.DeletePet(ctx, "pet-1"))

	left, err := db.ListFragments(ctx, "pet-1", time.Time{}, time.Time{})
	gt.NoError(t, err)
	gt.A(t, left).Length(0)

	got, err := db.GetFragment(ctx, theirs.ID)
	gt.NoError(t, err)
	gt.A(t, got.References).Length(0)
}

func TestIndexUpsert(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	now := time.Now().Truncate(time.Millisecond)

	f := mkFragment("pet-1", "去医院打疫苗", now, 0.6)
	gt.NoError(t, db.CreateFragment(ctx, f))

	gt.NoError(t, db.UpsertIndex(ctx, model.Index{MemoryID: f.ID, Keywords: []string{"医院"}, Importance: 0.6, IndexedAt: now}))
	gt.NoError(t, db.UpsertIndex(ctx, model.Index{MemoryID: f.ID, Keywords: []string{"医院", "疫苗"}, EmotionTags: []string{"anxious"}, Importance: 0.6, IndexedAt: now}))

	idx, err := db.GetIndexes(ctx, []string{f.ID, "other"})
	gt.NoError(t, err)
	gt.Equal(t, len(idx), 1)
	gt.A(t, idx[f.ID].Keywords).Length(2)
	gt.Equal(t, idx[f.ID].EmotionTags[0], "anxious")
	gt.True(t, idx[f.ID].IndexedAt.Equal(now))
}

func TestPostgresFragmentRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := testPostgres(t)

	a := mkFragment("pg-pet", "a", time.Now(), 0.5)
	gt.NoError(t, db.CreateFragment(ctx, a))
	b := mkFragment("pg-pet", "b", time.Now(), 0.5)
	b.References = []string{a.ID}
	gt.NoError(t, db.CreateFragment(ctx, b))
	gt.NoError(t, db.UpsertIndex(ctx, model.Index{MemoryID: a.ID, Keywords: []string{"a"}, IndexedAt: time.Now()}))

	ok, err := db.DeleteFragment(ctx, a.ID)
	gt.NoError(t, err)
	gt.True(t, ok)

	got, err := db.GetFragment(ctx, b.ID)
	gt.NoError(t, err)
	gt.A(t, got.References).Length(0)
}
