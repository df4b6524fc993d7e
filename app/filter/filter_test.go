package filter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/mail-spam/app/storage"
	"github.com/umputun/mail-spam/app/storage/engine"
	"github.com/umputun/mail-spam/lib/bayes"
)

func presetSamples() []bayes.Sample {
	return []bayes.Sample{
		{Text: "win money now", Class: bayes.Spam},
		{Text: "cheap loans offer", Class: bayes.Spam},
		{Text: "lunch tomorrow at noon", Class: bayes.Ham},
		{Text: "project meeting notes", Class: bayes.Ham},
	}
}

func newTestStore(t *testing.T) *storage.Samples {
	t.Helper()
	db, err := engine.NewSqlite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	s, err := storage.NewSamples(context.Background(), db)
	require.NoError(t, err)
	return s
}

func TestNew(t *testing.T) {
	ctx := context.Background()

	f, err := New(ctx, bayes.Config{}, presetSamples(), nil)
	require.NoError(t, err)
	assert.NotNil(t, f.Model())

	_, err = New(ctx, bayes.Config{}, nil, nil)
	assert.ErrorIs(t, err, bayes.ErrInvalidTrainingData, "empty corpus can't train")

	_, err = New(ctx, bayes.Config{}, []bayes.Sample{{Text: "spam only", Class: bayes.Spam}}, nil)
	assert.ErrorIs(t, err, bayes.ErrInvalidTrainingData, "single-class corpus can't train")
}

func TestFilter_Check(t *testing.T) {
	ctx := context.Background()
	f, err := New(ctx, bayes.Config{}, presetSamples(), nil)
	require.NoError(t, err)

	res := f.Check("win cheap money")
	assert.True(t, res.Spam)
	assert.Equal(t, bayes.Spam, res.Class)
	assert.Greater(t, res.Scores[bayes.Spam], res.Scores[bayes.Ham])
	assert.Greater(t, res.Probability, 50.0)
	assert.LessOrEqual(t, res.Probability, 100.0)

	res = f.Check("lunch meeting tomorrow")
	assert.False(t, res.Spam)
	assert.Equal(t, bayes.Ham, res.Class)
}

func TestFilter_UpdateRetrains(t *testing.T) {
	ctx := context.Background()
	f, err := New(ctx, bayes.Config{}, presetSamples(), nil)
	require.NoError(t, err)

	assert.Equal(t, bayes.Ham, f.Check("crypto jackpot").Class, "unseen tokens fall back to ham prior")

	require.NoError(t, f.UpdateSpam(ctx, "crypto jackpot waiting"))
	require.NoError(t, f.UpdateSpam(ctx, "claim your crypto jackpot"))
	assert.Equal(t, bayes.Spam, f.Check("crypto jackpot").Class, "retrained on the new samples")

	require.NoError(t, f.UpdateHam(ctx, "quarterly\nreport attached"))
	spam, ham, err := f.DynamicSamples(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"crypto jackpot waiting", "claim your crypto jackpot"}, spam)
	assert.Equal(t, []string{"quarterly report attached"}, ham, "newlines flattened")
}

func TestFilter_UpdateErrors(t *testing.T) {
	ctx := context.Background()
	f, err := New(ctx, bayes.Config{}, presetSamples(), nil)
	require.NoError(t, err)

	assert.Error(t, f.UpdateSpam(ctx, ""), "empty message")
	assert.Error(t, f.UpdateHam(ctx, " \n "), "whitespace-only message")
}

func TestFilter_RemoveSample(t *testing.T) {
	ctx := context.Background()
	f, err := New(ctx, bayes.Config{}, presetSamples(), nil)
	require.NoError(t, err)

	require.NoError(t, f.UpdateSpam(ctx, "crypto jackpot waiting"))
	require.NoError(t, f.RemoveSample(ctx, "crypto jackpot waiting"))

	spam, _, err := f.DynamicSamples(ctx)
	require.NoError(t, err)
	assert.Empty(t, spam)

	assert.Error(t, f.RemoveSample(ctx, "crypto jackpot waiting"), "already removed")
	assert.Error(t, f.RemoveSample(ctx, ""), "empty message")
}

func TestFilter_WithStore(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	for _, s := range presetSamples() {
		require.NoError(t, store.Add(ctx, s.Class, storage.OriginPreset, s.Text))
	}

	f, err := New(ctx, bayes.Config{}, nil, store)
	require.NoError(t, err)
	assert.Equal(t, bayes.Spam, f.Check("win cheap money").Class)

	require.NoError(t, f.UpdateSpam(ctx, "crypto jackpot waiting"))
	spam, ham, err := f.DynamicSamples(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"crypto jackpot waiting"}, spam, "user sample persisted")
	assert.Empty(t, ham)

	// a fresh filter over the same store picks the user sample up
	f2, err := New(ctx, bayes.Config{}, nil, store)
	require.NoError(t, err)
	_, ok := f2.Model().TokenProbability("jackpot", bayes.Spam)
	assert.True(t, ok, "user sample made it into the vocabulary")
}

func TestFilter_ReloadKeepsModelOnFailure(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	for _, s := range presetSamples() {
		require.NoError(t, store.Add(ctx, s.Class, storage.OriginPreset, s.Text))
	}

	f, err := New(ctx, bayes.Config{}, nil, store)
	require.NoError(t, err)
	before := f.Model()

	// wipe the ham side, retraining has to fail and keep the old model
	require.NoError(t, store.DeleteMessage(ctx, "lunch tomorrow at noon"))
	require.NoError(t, store.DeleteMessage(ctx, "project meeting notes"))
	assert.ErrorIs(t, f.Reload(ctx), bayes.ErrInvalidTrainingData)
	assert.Same(t, before, f.Model())
}

func TestFilter_ConcurrentChecks(t *testing.T) {
	ctx := context.Background()
	f, err := New(ctx, bayes.Config{}, presetSamples(), nil)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			_ = f.UpdateSpam(ctx, "crypto jackpot waiting")
		}
	}()
	for i := 0; i < 200; i++ {
		res := f.Check("win cheap money")
		assert.Equal(t, bayes.Spam, res.Class)
	}
	<-done
}
