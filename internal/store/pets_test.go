package store

import (
	"context"
	"testing"
	"time"

	"github.com/kodapet/koda/internal/model"
	"github.com/m-mizutani/gt"
)

func TestPetUpsertKeepsCreatedAt(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)

	missing, err := db.GetPet(ctx, "pet-1")
	gt.NoError(t, err)
	gt.Nil(t, missing)

	p := &model.Pet{ID: "pet-1", Name: "小白", Species: "狗", Breed: "柴犬", Age: 2, Traits: []string{"活泼"}}
	gt.NoError(t, db.UpsertPet(ctx, p))
	first := p.CreatedAt

	time.Sleep(2 * time.Millisecond)
	again := &model.Pet{ID: "pet-1", Name: "小白", Species: "狗", Age: 3, Diet: "狗粮"}
	gt.NoError(t, db.UpsertPet(ctx, again))
	gt.True(t, again.CreatedAt.Equal(first))

	got, err := db.GetPet(ctx, "pet-1")
	gt.NoError(t, err)
	gt.Equal(t, got.Age, 3.0)
	gt.Equal(t, got.Breed, "")
	gt.Equal(t, got.Diet, "狗粮")
	gt.A(t, got.Traits).Length(0)
	gt.True(t, got.CreatedAt.Equal(first))
	gt.True(t, got.UpdatedAt.After(first))
}

func TestListPets(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	gt.NoError(t, db.UpsertPet(ctx, &model.Pet{ID: "b", Name: "豆豆"}))
	gt.NoError(t, db.UpsertPet(ctx, &model.Pet{ID: "a", Name: "Apple"}))

	pets, err := db.ListPets(ctx)
	gt.NoError(t, err)
	gt.A(t, pets).Length(2)
	gt.Equal(t, pets[0].ID, "a")
}

func TestLogsFilter(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	day := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	s := 0.4

	gt.NoError(t, db.CreateLog(ctx, &model.LogEntry{PetID: "pet-1", Type: model.LogHealth, Content: "打了疫苗", Date: day}))
	gt.NoError(t, db.CreateLog(ctx, &model.LogEntry{
		PetID: "pet-1", Type: model.LogEmotion, Content: "很开心", Date: day.Add(24 * time.Hour),
		Sentiment: &s, Emotion: model.EmotionHappy, FragmentID: "frag-1",
	}))
	gt.NoError(t, db.CreateLog(ctx, &model.LogEntry{PetID: "pet-2", Type: model.LogDiet, Content: "换了狗粮", Date: day}))

	all, err := db.ListLogs(ctx, "pet-1", "", time.Time{}, time.Time{})
	gt.NoError(t, err)
	gt.A(t, all).Length(2)
	gt.Equal(t, all[0].Type, model.LogEmotion)
	gt.Equal(t, *all[0].Sentiment, 0.4)
	gt.Equal(t, all[0].FragmentID, "frag-1")
	gt.Nil(t, all[1].Sentiment)
	gt.Equal(t, all[1].Emotion, model.Emotion(""))

	health, err := db.ListLogs(ctx, "pet-1", model.LogHealth, time.Time{}, time.Time{})
	gt.NoError(t, err)
	gt.A(t, health).Length(1)

	later, err := db.ListLogs(ctx, "pet-1", "", day.Add(time.Hour), time.Time{})
	gt.NoError(t, err)
	gt.A(t, later).Length(1)
	gt.Equal(t, later[0].Content, "很开心")
}

func TestDeletePetRemovesProfileAndLogs(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	gt.NoError(t, db.UpsertPet(ctx, &model.Pet{ID: "pet-1", Name: "小白"}))
	gt.NoError(t, db.CreateLog(ctx, &model.LogEntry{PetID: "pet-1", Type: model.LogDiet, Content: "吃了鸡胸肉", Date: time.Now()}))

	ids, err := db.PetIDs(ctx)
	gt.NoError(t, err)
	gt.A(t, ids).Length(1)

	gt.NoError(t, db.DeletePet(ctx, "pet-1"))

	p, err := db.GetPet(ctx, "pet-1")
	gt.NoError(t, err)
	gt.Nil(t, p)
	logs, err := db.ListLogs(ctx, "pet-1", "", time.Time{}, time.Time{})
	gt.NoError(t, err)
	gt.A(t, logs).Length(0)
}
