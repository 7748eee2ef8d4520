package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/axellelanca/shortlink/internal/errors"
	"github.com/axellelanca/shortlink/internal/models"
	"github.com/axellelanca/shortlink/internal/shortkey"
)

type countingFinder struct {
	mu    sync.Mutex
	calls int
	links map[uint64]*models.LinkProjection
	err   error
}

func (f *countingFinder) FindForResolution(_ context.Context, id uint64) (*models.LinkProjection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	p, ok := f.links[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (f *countingFinder) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func projection(id uint64, salt string) *models.LinkProjection {
	webhook := "https://hooks.example.com/x"
	return &models.LinkProjection{
		ID:                 id,
		Salt:               salt,
		DefaultFallbackURL: "https://example.com/landing",
		WebhookURL:         &webhook,
		IsActive:           true,
	}
}

func newCache(t *testing.T, finder LinkFinder) (*ResolutionCache, *miniredis.Miniredis, *test.Hook) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	log, hook := test.NewNullLogger()
	c := NewResolutionCache(rdb, finder,
		WithTTL(time.Hour),
		WithLogger(logrus.NewEntry(log)),
	)
	return c, mr, hook
}

func TestResolve_ColdThenWarm(t *testing.T) {
	finder := &countingFinder{links: map[uint64]*models.LinkProjection{42: projection(42, "AbXy")}}
	c, mr, _ := newCache(t, finder)
	key := shortkey.Encode("AbXy", 42)
	ctx := context.Background()

	p, err := c.Resolve(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), p.ID)
	c.Wait()

	assert.True(t, mr.Exists("urls:"+key))
	assert.Equal(t, time.Hour, mr.TTL("urls:"+key))

	again, err := c.Resolve(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, p, again)
	assert.Equal(t, 1, finder.Calls(), "warm resolve must not reach the store")
}

func TestResolve_NotFoundBranchesAreIndistinguishable(t *testing.T) {
	finder := &countingFinder{links: map[uint64]*models.LinkProjection{42: projection(42, "AbXy")}}
	c, mr, _ := newCache(t, finder)
	ctx := context.Background()

	cases := map[string]string{
		"malformed":     "ab!cd",
		"too short":     "Ab0X",
		"unknown id":    shortkey.Encode("AbXy", 7),
		"salt mismatch": shortkey.Encode("ZzZz", 42),
	}
	for name, key := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := c.Resolve(ctx, key)
			assert.ErrorIs(t, err, apperrors.ErrLinkNotFound)
			assert.Equal(t, apperrors.ErrLinkNotFound.Error(), err.Error())
		})
	}
	c.Wait()
	assert.Empty(t, mr.Keys(), "failures are never cached")
}

func TestResolve_MalformedKeySkipsStore(t *testing.T) {
	finder := &countingFinder{}
	c, _, _ := newCache(t, finder)

	_, err := c.Resolve(context.Background(), "!!!!!!")
	assert.ErrorIs(t, err, apperrors.ErrLinkNotFound)
	assert.Zero(t, finder.Calls())
}

func TestResolve_CorruptEntryIsAMiss(t *testing.T) {
	foreign, err := encodeEntry(projection(9, "ZzZz"))
	require.NoError(t, err)

	cases := map[string]struct {
		raw     string
		message string
	}{
		"not msgpack":  {"\xc1not-msgpack", "discarding undecodable cache entry"},
		"msgpack nil":  {"\xc0", "discarding undecodable cache entry"},
		"empty map":    {"\x80", "discarding undecodable cache entry"},
		"foreign salt": {string(foreign), "discarding cache entry with foreign salt"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			finder := &countingFinder{links: map[uint64]*models.LinkProjection{9: projection(9, "QwEr")}}
			c, mr, hook := newCache(t, finder)
			key := shortkey.Encode("QwEr", 9)
			require.NoError(t, mr.Set("urls:"+key, tc.raw))

			p, err := c.Resolve(context.Background(), key)
			require.NoError(t, err)
			assert.Equal(t, uint64(9), p.ID)
			assert.Equal(t, "QwEr", p.Salt)
			assert.Equal(t, 1, finder.Calls())
			c.Wait()

			entries := hook.AllEntries()
			require.NotEmpty(t, entries)
			assert.Equal(t, tc.message, entries[0].Message)

			raw, err := mr.Get("urls:" + key)
			require.NoError(t, err)
			healed, err := decodeEntry([]byte(raw))
			require.NoError(t, err)
			assert.Equal(t, p, healed)
		})
	}
}

func TestResolve_RedisDownFallsBackToStore(t *testing.T) {
	finder := &countingFinder{links: map[uint64]*models.LinkProjection{5: projection(5, "AaBb")}}
	c, mr, hook := newCache(t, finder)
	mr.SetError("LOADING redis is loading the dataset")

	p, err := c.Resolve(context.Background(), shortkey.Encode("AaBb", 5))
	require.NoError(t, err)
	assert.Equal(t, uint64(5), p.ID)
	c.Wait()

	var warned int
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			warned++
		}
	}
	assert.Equal(t, 2, warned, "failed read and failed write-back are both logged")
}

func TestResolve_StoreErrorPropagates(t *testing.T) {
	boom := errors.New("connection refused")
	c, _, _ := newCache(t, &countingFinder{err: boom})

	_, err := c.Resolve(context.Background(), shortkey.Encode("AaBb", 5))
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, apperrors.ErrLinkNotFound)
}

func TestCodecRoundTripKeepsNilFields(t *testing.T) {
	p := projection(1, "AbCd")
	title := "Spring sale"
	p.OGTitle = &title

	b, err := encodeEntry(p)
	require.NoError(t, err)
	out, err := decodeEntry(b)
	require.NoError(t, err)
	assert.Equal(t, p, out)
	assert.Nil(t, out.IOSDeepLink)
}
