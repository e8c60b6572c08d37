package ebay

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/athebyme/ebay-publisher/internal/domain/models"
	"github.com/athebyme/ebay-publisher/pkg/interfaces"
	"github.com/disintegration/imaging"
	"github.com/rwcarlsen/goexif/exif"
)

const (
	// ImageStrategyMedia загрузка на хостинг изображений маркетплейса
	ImageStrategyMedia = "media"
	// ImageStrategySelfHost раздача изображений собственным сервером
	ImageStrategySelfHost = "self_host"

	jpegQuality = 88
)

// ImageUploader загружает одно изображение и возвращает его публичный адрес
type ImageUploader interface {
	UploadImage(ctx context.Context, filename string, data []byte) (string, error)
}

// ImageResolverConfig параметры подготовки изображений
type ImageResolverConfig struct {
	Strategy      string
	BasePath      string
	PublicBaseURL string
	// RequireHTTPS в продакшене маркетплейс принимает только https-адреса,
	// собственная раздача по http запрещается до каких-либо вызовов
	RequireHTTPS bool
	MaxImages    int
	MinLongEdge  int
	TargetEdge   int
	Concurrency  int
}

// ImageResolver превращает локальные фотографии карточки в публичные URL.
// При загрузке на хостинг изображения нормализуются: поворот по EXIF,
// уменьшение до целевой стороны и перекодирование в JPEG, которое
// попутно убирает EXIF-метаданные вместе с геопозицией
type ImageResolver struct {
	uploader ImageUploader
	cfg      ImageResolverConfig
	logger   interfaces.LoggerPort
}

// NewImageResolver создает резолвер изображений
func NewImageResolver(uploader ImageUploader, cfg ImageResolverConfig, logger interfaces.LoggerPort) *ImageResolver {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &ImageResolver{
		uploader: uploader,
		cfg:      cfg,
		logger:   logger,
	}
}

// Resolve возвращает публичные URL фотографий карточки в исходном порядке
func (r *ImageResolver) Resolve(ctx context.Context, record *models.ListingRecord) ([]string, error) {
	if err := r.validate(record); err != nil {
		return nil, err
	}

	if r.cfg.Strategy == ImageStrategySelfHost {
		if r.cfg.RequireHTTPS && !strings.HasPrefix(strings.ToLower(r.cfg.PublicBaseURL), "https://") {
			return nil, &ValidationError{
				Field:   "images",
				Message: fmt.Sprintf("self-hosted image base %q is not served over https", r.cfg.PublicBaseURL),
			}
		}
		return r.selfHostURLs(record), nil
	}
	return r.uploadAll(ctx, record)
}

// validate проверяет количество и размеры фотографий до сетевых вызовов
func (r *ImageResolver) validate(record *models.ListingRecord) error {
	n := len(record.Images)
	if n == 0 {
		return &ValidationError{Field: "images", Message: "at least one image is required"}
	}
	if r.cfg.MaxImages > 0 && n > r.cfg.MaxImages {
		return &ValidationError{
			Field:   "images",
			Message: fmt.Sprintf("too many images: %d, limit is %d", n, r.cfg.MaxImages),
		}
	}

	for i, img := range record.Images {
		if r.cfg.MinLongEdge > 0 && img.LongEdge() > 0 && img.LongEdge() < r.cfg.MinLongEdge {
			return &ValidationError{
				Field:   "images",
				Message: fmt.Sprintf("image %d long edge %dpx is below minimum %dpx", i, img.LongEdge(), r.cfg.MinLongEdge),
			}
		}
	}
	return nil
}

// selfHostURLs строит адреса раздачи собственным сервером
func (r *ImageResolver) selfHostURLs(record *models.ListingRecord) []string {
	base := strings.TrimRight(r.cfg.PublicBaseURL, "/")
	urls := make([]string, 0, len(record.Images))
	for _, img := range record.Images {
		urls = append(urls, base+"/images/"+filepath.Base(img.Path))
	}
	return urls
}

// uploadAll загружает фотографии пулом воркеров, сохраняя исходный порядок
func (r *ImageResolver) uploadAll(ctx context.Context, record *models.ListingRecord) ([]string, error) {
	type job struct {
		index int
		asset models.ImageAsset
	}

	jobs := make(chan job)
	urls := make([]string, len(record.Images))
	errs := make([]error, len(record.Images))

	var wg sync.WaitGroup
	for w := 0; w < r.cfg.Concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				url, err := r.uploadOne(ctx, record.ID, j.asset)
				urls[j.index] = url
				errs[j.index] = err
			}
		}()
	}

	for i, asset := range record.Images {
		jobs <- job{index: i, asset: asset}
	}
	close(jobs)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("ошибка загрузки изображения %d (%s): %w", i, record.Images[i].Path, err)
		}
	}
	return urls, nil
}

// uploadOne нормализует и загружает одну фотографию
func (r *ImageResolver) uploadOne(ctx context.Context, recordID string, asset models.ImageAsset) (string, error) {
	path := asset.Path
	if !filepath.IsAbs(path) && r.cfg.BasePath != "" {
		path = filepath.Join(r.cfg.BasePath, path)
	}

	r.warnOnGPS(ctx, recordID, path)

	data, err := r.normalize(path)
	if err != nil {
		return "", err
	}

	return r.uploader.UploadImage(ctx, filepath.Base(path), data)
}

// normalize читает фотографию с поворотом по EXIF, уменьшает до целевой
// стороны и перекодирует в JPEG. Метаданные при перекодировании не сохраняются
func (r *ImageResolver) normalize(path string) ([]byte, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения изображения: %w", err)
	}

	if r.cfg.TargetEdge > 0 {
		bounds := img.Bounds()
		w, h := bounds.Dx(), bounds.Dy()
		if w > r.cfg.TargetEdge || h > r.cfg.TargetEdge {
			img = imaging.Fit(img, r.cfg.TargetEdge, r.cfg.TargetEdge, imaging.Lanczos)
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("ошибка кодирования изображения: %w", err)
	}
	return buf.Bytes(), nil
}

// warnOnGPS предупреждает, если в исходном файле есть геопозиция.
// Наружу она все равно не уходит, перекодирование ее убирает
func (r *ImageResolver) warnOnGPS(ctx context.Context, recordID, path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	meta, err := exif.Decode(f)
	if err != nil {
		return
	}
	if _, _, err := meta.LatLong(); err == nil {
		r.logger.WarnWithContext(ctx, "В исходной фотографии обнаружена геопозиция, будет удалена",
			interfaces.LogField{Key: "record_id", Value: recordID},
			interfaces.LogField{Key: "file", Value: filepath.Base(path)},
		)
	}
}
