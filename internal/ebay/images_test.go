package ebay

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/athebyme/ebay-publisher/internal/domain/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeUploader запоминает загруженные файлы и выдает предсказуемые адреса
type fakeUploader struct {
	mu       sync.Mutex
	uploaded []string
	payloads [][]byte
}

func (f *fakeUploader) UploadImage(ctx context.Context, filename string, data []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploaded = append(f.uploaded, filename)
	f.payloads = append(f.payloads, data)
	return "https://i.ebayimg.com/images/g/" + filename, nil
}

func writeTestJPEG(t *testing.T, dir, name string, width, height int) models.ImageAsset {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x += 10 {
		for y := 0; y < height; y++ {
			img.Set(x, y, color.RGBA{R: 200, A: 255})
		}
	}

	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, jpeg.Encode(f, img, nil))

	return models.ImageAsset{Path: name, Width: width, Height: height}
}

func TestImageResolverSelfHost(t *testing.T) {
	resolver := NewImageResolver(nil, ImageResolverConfig{
		Strategy:      ImageStrategySelfHost,
		PublicBaseURL: "https://books.example.com/",
	}, testLogger(t))

	record := &models.ListingRecord{
		ID: "rec-1",
		Images: []models.ImageAsset{
			{Path: "photos/front.jpg", Width: 1200, Height: 1600},
			{Path: "photos/back.jpg", Width: 1200, Height: 1600},
		},
	}

	urls, err := resolver.Resolve(context.Background(), record)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://books.example.com/images/front.jpg",
		"https://books.example.com/images/back.jpg",
	}, urls)
}

func TestImageResolverSelfHostRequiresHTTPS(t *testing.T) {
	record := &models.ListingRecord{
		ID:     "rec-1",
		Images: []models.ImageAsset{{Path: "front.jpg", Width: 1200, Height: 1600}},
	}

	t.Run("http base is rejected in production", func(t *testing.T) {
		resolver := NewImageResolver(nil, ImageResolverConfig{
			Strategy:      ImageStrategySelfHost,
			PublicBaseURL: "http://books.example.com",
			RequireHTTPS:  true,
		}, testLogger(t))

		_, err := resolver.Resolve(context.Background(), record)
		require.Error(t, err)
		assert.True(t, IsValidation(err))
	})

	t.Run("http base is allowed in sandbox", func(t *testing.T) {
		resolver := NewImageResolver(nil, ImageResolverConfig{
			Strategy:      ImageStrategySelfHost,
			PublicBaseURL: "http://books.example.com",
		}, testLogger(t))

		urls, err := resolver.Resolve(context.Background(), record)
		require.NoError(t, err)
		assert.Len(t, urls, 1)
	})

	t.Run("https base passes the check", func(t *testing.T) {
		resolver := NewImageResolver(nil, ImageResolverConfig{
			Strategy:      ImageStrategySelfHost,
			PublicBaseURL: "https://books.example.com",
			RequireHTTPS:  true,
		}, testLogger(t))

		urls, err := resolver.Resolve(context.Background(), record)
		require.NoError(t, err)
		assert.Equal(t, []string{"https://books.example.com/images/front.jpg"}, urls)
	})
}

func TestImageResolverValidation(t *testing.T) {
	resolver := NewImageResolver(nil, ImageResolverConfig{
		Strategy:      ImageStrategySelfHost,
		PublicBaseURL: "https://books.example.com",
		MaxImages:     2,
		MinLongEdge:   500,
	}, testLogger(t))
	ctx := context.Background()

	t.Run("no images", func(t *testing.T) {
		_, err := resolver.Resolve(ctx, &models.ListingRecord{ID: "rec-1"})
		require.Error(t, err)
		assert.True(t, IsValidation(err))
	})

	t.Run("too many images", func(t *testing.T) {
		record := &models.ListingRecord{ID: "rec-1", Images: []models.ImageAsset{
			{Path: "1.jpg", Width: 800, Height: 600},
			{Path: "2.jpg", Width: 800, Height: 600},
			{Path: "3.jpg", Width: 800, Height: 600},
		}}
		_, err := resolver.Resolve(ctx, record)
		require.Error(t, err)
		assert.True(t, IsValidation(err))
	})

	t.Run("image below the minimum long edge", func(t *testing.T) {
		record := &models.ListingRecord{ID: "rec-1", Images: []models.ImageAsset{
			{Path: "tiny.jpg", Width: 300, Height: 200},
		}}
		_, err := resolver.Resolve(ctx, record)
		require.Error(t, err)
		assert.True(t, IsValidation(err))
	})

	t.Run("unknown dimensions are not rejected", func(t *testing.T) {
		record := &models.ListingRecord{ID: "rec-1", Images: []models.ImageAsset{
			{Path: "unknown.jpg"},
		}}
		urls, err := resolver.Resolve(ctx, record)
		require.NoError(t, err)
		assert.Len(t, urls, 1)
	})
}

func TestImageResolverUploadsInOrder(t *testing.T) {
	dir := t.TempDir()
	assets := []models.ImageAsset{
		writeTestJPEG(t, dir, "front.jpg", 800, 600),
		writeTestJPEG(t, dir, "back.jpg", 800, 600),
		writeTestJPEG(t, dir, "spine.jpg", 800, 600),
	}

	uploader := &fakeUploader{}
	resolver := NewImageResolver(uploader, ImageResolverConfig{
		Strategy:    ImageStrategyMedia,
		BasePath:    dir,
		Concurrency: 2,
	}, testLogger(t))

	record := &models.ListingRecord{ID: "rec-1", Images: assets}
	urls, err := resolver.Resolve(context.Background(), record)
	require.NoError(t, err)

	// адреса возвращаются в порядке фотографий карточки
	assert.Equal(t, []string{
		"https://i.ebayimg.com/images/g/front.jpg",
		"https://i.ebayimg.com/images/g/back.jpg",
		"https://i.ebayimg.com/images/g/spine.jpg",
	}, urls)
	assert.Len(t, uploader.uploaded, 3)
}

func TestImageResolverShrinksLargeImages(t *testing.T) {
	dir := t.TempDir()
	asset := writeTestJPEG(t, dir, "huge.jpg", 3200, 2400)

	uploader := &fakeUploader{}
	resolver := NewImageResolver(uploader, ImageResolverConfig{
		Strategy:   ImageStrategyMedia,
		BasePath:   dir,
		TargetEdge: 1600,
	}, testLogger(t))

	record := &models.ListingRecord{ID: "rec-1", Images: []models.ImageAsset{asset}}
	_, err := resolver.Resolve(context.Background(), record)
	require.NoError(t, err)

	require.Len(t, uploader.payloads, 1)
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(uploader.payloads[0]))
	require.NoError(t, err)
	assert.LessOrEqual(t, cfg.Width, 1600)
	assert.LessOrEqual(t, cfg.Height, 1600)
}
