package service

import (
	"context"
	"errors"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brauliopf/brain-tumor-classification/config"
	"github.com/brauliopf/brain-tumor-classification/model"
)

func TestOverlayName(t *testing.T) {
	for in, want := range map[string]string{
		"scan.jpg":             "scan.jpg",
		"Scan.PNG":             "Scan.PNG",
		"dir/sub/mri.jpeg":     "mri.jpeg",
		`C:\uploads\brain.png`: "brain.png",
		"../../etc/passwd":     "passwd.png",
		"volume.tiff":          "volume.png",
		"":                     "overlay.png",
		"..":                   "overlay.png",
		"slice_042.bmp":        "slice_042.bmp",
	} {
		assert.Equal(t, want, OverlayName(in), in)
	}
}

func TestOverlayStoreSaveOverwrites(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "saliency_maps")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	mirror := &recordingMirror{}
	store, err := NewOverlayStore(dir, "/saliency_maps", mirror)
	require.NoError(t, err)

	first, firstSum, err := store.Save(context.Background(), "uploads/scan.png", scanImage(16, 16))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "scan.png"), first)
	sum, err := store.Checksum("scan.png")
	require.NoError(t, err)
	assert.Equal(t, firstSum, sum)
	assert.Equal(t, "/saliency_maps/scan.png", store.URL("scan.png"))

	second, secondSum, err := store.Save(context.Background(), "scan.png", scanImage(24, 24))
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.NotEqual(t, firstSum, secondSum)
	sum, err = store.Checksum("scan.png")
	require.NoError(t, err)
	assert.Equal(t, secondSum, sum)

	f, err := os.Open(second)
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, 24, img.Bounds().Dx())

	assert.Contains(t, mirror.puts, "scan.png")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestOverlayStoreConcurrentWritesSamePath(t *testing.T) {
	store, err := NewOverlayStore(t.TempDir(), "/saliency_maps", nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, err := store.Save(context.Background(), "same.png", scanImage(10+i, 10+i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	f, err := os.Open(filepath.Join(store.Dir(), "same.png"))
	require.NoError(t, err)
	defer f.Close()
	_, err = png.Decode(f)
	assert.NoError(t, err)
	assert.Equal(t, 0, store.locks.size())

	entries, err := os.ReadDir(store.Dir())
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestOverlayStoreMirrorFailureIsNotFatal(t *testing.T) {
	store, err := NewOverlayStore(t.TempDir(), "/saliency_maps", &recordingMirror{err: errors.New("s3 down")})
	require.NoError(t, err)

	_, _, err = store.Save(context.Background(), "scan.jpg", scanImage(8, 8))
	assert.NoError(t, err)

	orig, err := store.SaveOriginal(context.Background(), "scan.jpg", []byte("raw bytes"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(store.Dir(), "original_scan.jpg"), orig)
	data, err := os.ReadFile(orig)
	require.NoError(t, err)
	assert.Equal(t, "raw bytes", string(data))
}

func TestRedisServiceRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	svc := NewRedisService(&config.RedisConfig{Addr: mr.Addr(), TTL: time.Hour})
	defer svc.Close()
	ctx := context.Background()

	require.NoError(t, svc.Ping(ctx))

	got, err := svc.GetResult(ctx, "abc", "xception")
	require.NoError(t, err)
	assert.Nil(t, got)

	want := &model.ClassifyResult{
		MD5:        "abc",
		Model:      "xception",
		InputSize:  299,
		Prediction: model.Prediction{ClassIndex: 2, Label: "No tumor", Confidence: 0.91},
		Probabilities: []model.ClassProbability{
			{Label: "No tumor", Probability: 0.91},
			{Label: "Glioma", Probability: 0.03},
		},
		SaliencyURL: "/saliency_maps/scan.png",
		Saliency:    model.SaliencyStats{Threshold: 0.4, MaskPixels: 10, KeptPixels: 2},
		Explanation: "text",
	}
	require.NoError(t, svc.SetResult(ctx, want))
	assert.True(t, mr.Exists("result:abc:xception"))
	assert.Equal(t, time.Hour, mr.TTL("result:abc:xception"))

	got, err = svc.GetResult(ctx, "abc", "xception")
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("cached result mismatch (-want +got):\n%s", diff)
	}

	other, err := svc.GetResult(ctx, "abc", "cnn_1m")
	require.NoError(t, err)
	assert.Nil(t, other)

	mr.Set("result:bad:xception", "{")
	_, err = svc.GetResult(ctx, "bad", "xception")
	assert.Error(t, err)
}

func TestOverlayStoreRequiresDir(t *testing.T) {
	_, err := NewOverlayStore(filepath.Join(t.TempDir(), "missing"), "/saliency_maps", nil)
	assert.Error(t, err)
}

func newTestResultCache(t *testing.T) (*ResultCache, *OverlayStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	redis := NewRedisService(&config.RedisConfig{Addr: mr.Addr(), TTL: time.Hour})
	t.Cleanup(func() { redis.Close() })
	store, err := NewOverlayStore(t.TempDir(), "/saliency_maps", nil)
	require.NoError(t, err)
	return NewResultCache(redis, store), store, mr
}

func cacheOverlay(t *testing.T, cache *ResultCache, store *OverlayStore, md5, filename string, size int) *model.ClassifyResult {
	t.Helper()
	ctx := context.Background()
	path, sum, err := store.Save(ctx, filename, scanImage(size, size))
	require.NoError(t, err)
	result := &model.ClassifyResult{
		MD5:          md5,
		Filename:     filename,
		Model:        "xception",
		SaliencyPath: path,
		SaliencyURL:  store.URL(OverlayName(filename)),
		OverlayMD5:   sum,
	}
	require.NoError(t, cache.SetResult(ctx, result))
	return result
}

func TestResultCacheRequiresSameOverlayName(t *testing.T) {
	cache, store, _ := newTestResultCache(t)
	ctx := context.Background()
	want := cacheOverlay(t, cache, store, "aaa", "scan.jpg", 16)

	got, err := cache.GetResult(ctx, "aaa", "xception", "scan.jpg")
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("cached result mismatch (-want +got):\n%s", diff)
	}

	// 同一内容换了文件名，需要重新生成 again.jpg
	got, err = cache.GetResult(ctx, "aaa", "xception", "again.jpg")
	require.NoError(t, err)
	assert.Nil(t, got)

	// 不指定文件名时按 md5 查询
	got, err = cache.GetResult(ctx, "aaa", "xception", "")
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestResultCacheDropsOverwrittenOverlay(t *testing.T) {
	cache, store, mr := newTestResultCache(t)
	ctx := context.Background()
	cacheOverlay(t, cache, store, "xxx", "a.jpg", 16)
	newer := cacheOverlay(t, cache, store, "zzz", "a.jpg", 24)

	got, err := cache.GetResult(ctx, "xxx", "xception", "")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.False(t, mr.Exists(ResultKey("xxx", "xception")))

	got, err = cache.GetResult(ctx, "zzz", "xception", "a.jpg")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, newer.OverlayMD5, got.OverlayMD5)
}

func TestResultCacheDropsMissingOverlay(t *testing.T) {
	cache, store, mr := newTestResultCache(t)
	result := cacheOverlay(t, cache, store, "yyy", "gone.png", 12)
	require.NoError(t, os.Remove(result.SaliencyPath))

	got, err := cache.GetResult(context.Background(), "yyy", "xception", "gone.png")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.False(t, mr.Exists(ResultKey("yyy", "xception")))
}
