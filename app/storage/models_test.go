package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/mail-spam/lib/bayes"
)

func trainedModel(t *testing.T) *bayes.Model {
	t.Helper()
	m, err := bayes.NewTrainer(bayes.Config{}).Train(
		bayes.Sample{Text: "buy now cheap", Class: bayes.Spam},
		bayes.Sample{Text: "hello how are you", Class: bayes.Ham},
		bayes.Sample{Text: "cheap loans now", Class: bayes.Spam},
		bayes.Sample{Text: "lunch tomorrow", Class: bayes.Ham},
	)
	require.NoError(t, err)
	return m
}

func TestModels_SaveLoad(t *testing.T) {
	ctx := context.Background()
	ms, err := NewModels(ctx, newTestDB(t))
	require.NoError(t, err)

	model := trainedModel(t)
	require.NoError(t, ms.Save(ctx, "latest", model))

	restored, err := ms.Load(ctx, "latest")
	require.NoError(t, err)
	assert.Equal(t, model.Priors(), restored.Priors())
	assert.Equal(t, model.Vocabulary(), restored.Vocabulary())
	assert.Equal(t, bayes.Spam, restored.Classify("cheap now"))
	assert.Equal(t, model.Score("cheap now"), restored.Score("cheap now"))
}

func TestModels_SaveReplaces(t *testing.T) {
	ctx := context.Background()
	ms, err := NewModels(ctx, newTestDB(t))
	require.NoError(t, err)

	require.NoError(t, ms.Save(ctx, "latest", trainedModel(t)))

	updated, err := bayes.NewTrainer(bayes.Config{}).Train(
		bayes.Sample{Text: "other spam text", Class: bayes.Spam},
		bayes.Sample{Text: "other ham text", Class: bayes.Ham},
	)
	require.NoError(t, err)
	require.NoError(t, ms.Save(ctx, "latest", updated))

	restored, err := ms.Load(ctx, "latest")
	require.NoError(t, err)
	assert.Equal(t, updated.Vocabulary(), restored.Vocabulary())

	names, err := ms.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"latest"}, names, "replace keeps a single row")
}

func TestModels_Errors(t *testing.T) {
	ctx := context.Background()
	ms, err := NewModels(ctx, newTestDB(t))
	require.NoError(t, err)

	_, err = ms.Load(ctx, "nope")
	assert.ErrorIs(t, err, ErrModelNotFound)

	assert.ErrorIs(t, ms.Delete(ctx, "nope"), ErrModelNotFound)
	assert.Error(t, ms.Save(ctx, "", trainedModel(t)), "empty name")

	_, err = NewModels(ctx, nil)
	assert.Error(t, err, "nil db")
}

func TestModels_ListAndDelete(t *testing.T) {
	ctx := context.Background()
	ms, err := NewModels(ctx, newTestDB(t))
	require.NoError(t, err)

	model := trainedModel(t)
	require.NoError(t, ms.Save(ctx, "first", model))
	require.NoError(t, ms.Save(ctx, "second", model))

	names, err := ms.List(ctx)
	require.NoError(t, err)
	assert.Len(t, names, 2)
	assert.Contains(t, names, "first")
	assert.Contains(t, names, "second")

	require.NoError(t, ms.Delete(ctx, "first"))
	names, err = ms.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"second"}, names)
}
