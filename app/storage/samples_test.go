package storage

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/mail-spam/app/storage/engine"
	"github.com/umputun/mail-spam/lib/bayes"
)

func newTestDB(t *testing.T) *engine.SQL {
	t.Helper()
	db, err := engine.NewSqlite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestNewSamples(t *testing.T) {
	s, err := NewSamples(context.Background(), newTestDB(t))
	require.NoError(t, err)
	assert.NotNil(t, s)

	_, err = NewSamples(context.Background(), nil)
	assert.Error(t, err, "nil db rejected")
}

func TestSamples_AddAndRead(t *testing.T) {
	ctx := context.Background()
	s, err := NewSamples(ctx, newTestDB(t))
	require.NoError(t, err)

	require.NoError(t, s.Add(ctx, bayes.Spam, OriginPreset, "buy cheap loans"))
	require.NoError(t, s.Add(ctx, bayes.Spam, OriginUser, "win free iphone"))
	require.NoError(t, s.Add(ctx, bayes.Ham, OriginPreset, "lunch tomorrow"))

	spam, err := s.Read(ctx, bayes.Spam, OriginAny)
	require.NoError(t, err)
	assert.Equal(t, []string{"buy cheap loans", "win free iphone"}, spam)

	spamUser, err := s.Read(ctx, bayes.Spam, OriginUser)
	require.NoError(t, err)
	assert.Equal(t, []string{"win free iphone"}, spamUser)

	ham, err := s.Read(ctx, bayes.Ham, OriginAny)
	require.NoError(t, err)
	assert.Equal(t, []string{"lunch tomorrow"}, ham)
}

func TestSamples_AddDuplicateReplaces(t *testing.T) {
	ctx := context.Background()
	s, err := NewSamples(ctx, newTestDB(t))
	require.NoError(t, err)

	require.NoError(t, s.Add(ctx, bayes.Spam, OriginPreset, "same message"))
	require.NoError(t, s.Add(ctx, bayes.Ham, OriginUser, "same message"))

	spam, err := s.Read(ctx, bayes.Spam, OriginAny)
	require.NoError(t, err)
	assert.Empty(t, spam, "reclassified message left the spam set")

	ham, err := s.Read(ctx, bayes.Ham, OriginAny)
	require.NoError(t, err)
	assert.Equal(t, []string{"same message"}, ham)
}

func TestSamples_AddErrors(t *testing.T) {
	ctx := context.Background()
	s, err := NewSamples(ctx, newTestDB(t))
	require.NoError(t, err)

	assert.Error(t, s.Add(ctx, "junk", OriginUser, "msg"), "bad class")
	assert.Error(t, s.Add(ctx, bayes.Spam, "nowhere", "msg"), "bad origin")
	assert.Error(t, s.Add(ctx, bayes.Spam, OriginAny, "msg"), "any origin")
	assert.Error(t, s.Add(ctx, bayes.Spam, OriginUser, ""), "empty message")
}

func TestSamples_DeleteMessage(t *testing.T) {
	ctx := context.Background()
	s, err := NewSamples(ctx, newTestDB(t))
	require.NoError(t, err)

	require.NoError(t, s.Add(ctx, bayes.Spam, OriginUser, "to be deleted"))
	require.NoError(t, s.DeleteMessage(ctx, "to be deleted"))
	assert.Error(t, s.DeleteMessage(ctx, "to be deleted"), "already gone")

	spam, err := s.Read(ctx, bayes.Spam, OriginAny)
	require.NoError(t, err)
	assert.Empty(t, spam)
}

func TestSamples_All(t *testing.T) {
	ctx := context.Background()
	s, err := NewSamples(ctx, newTestDB(t))
	require.NoError(t, err)

	require.NoError(t, s.Add(ctx, bayes.Spam, OriginPreset, "buy cheap loans"))
	require.NoError(t, s.Add(ctx, bayes.Ham, OriginUser, "lunch tomorrow"))

	all, err := s.All(ctx)
	require.NoError(t, err)
	assert.Equal(t, []bayes.Sample{
		{Text: "buy cheap loans", Class: bayes.Spam},
		{Text: "lunch tomorrow", Class: bayes.Ham},
	}, all)
}

func TestSamples_Import(t *testing.T) {
	ctx := context.Background()
	s, err := NewSamples(ctx, newTestDB(t))
	require.NoError(t, err)

	count, err := s.Import(ctx, bayes.Spam, OriginPreset, strings.NewReader("one spam\n\ntwo spam\n"))
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	spam, err := s.Read(ctx, bayes.Spam, OriginPreset)
	require.NoError(t, err)
	assert.Equal(t, []string{"one spam", "two spam"}, spam)
}

func TestSamples_Iterator(t *testing.T) {
	ctx := context.Background()
	s, err := NewSamples(ctx, newTestDB(t))
	require.NoError(t, err)

	require.NoError(t, s.Add(ctx, bayes.Ham, OriginPreset, "first"))
	require.NoError(t, s.Add(ctx, bayes.Ham, OriginPreset, "second"))

	it, err := s.Iterator(ctx, bayes.Ham, OriginAny)
	require.NoError(t, err)

	var res []string
	for msg := range it {
		res = append(res, msg)
	}
	assert.Equal(t, []string{"first", "second"}, res)
}

func TestSamples_Stats(t *testing.T) {
	ctx := context.Background()
	s, err := NewSamples(ctx, newTestDB(t))
	require.NoError(t, err)

	require.NoError(t, s.Add(ctx, bayes.Spam, OriginPreset, "s1"))
	require.NoError(t, s.Add(ctx, bayes.Spam, OriginUser, "s2"))
	require.NoError(t, s.Add(ctx, bayes.Ham, OriginPreset, "h1"))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, &Stats{PresetSpam: 1, UserSpam: 1, PresetHam: 1}, stats)
	assert.Contains(t, stats.String(), "spam: 2")
}

func TestOrigin_Validate(t *testing.T) {
	assert.NoError(t, OriginPreset.Validate())
	assert.NoError(t, OriginUser.Validate())
	assert.NoError(t, OriginAny.Validate())
	assert.Error(t, Origin("junk").Validate())
}
