package services

import (
	"bytes"
	"context"
	"errors"
	"io"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/harentsoaR/fablab-api/internal/apperr"
	"github.com/harentsoaR/fablab-api/internal/imaging"
	"github.com/harentsoaR/fablab-api/internal/storage"
)

const MaxImageBytes = 10 << 20

var allowedImageTypes = []string{"image/jpeg", "image/png", "image/gif", "image/webp"}

type UploadedImage struct {
	ImageURL string `json:"imageUrl"`
	ThumbURL string `json:"thumbUrl"`
}

// ImageUploadService stores equipment photos as a display image plus a thumbnail.
type ImageUploadService struct {
	storage storage.ObjectStorage
	now     func() time.Time
	log     *zap.Logger
}

func NewImageUploadService(st storage.ObjectStorage, log *zap.Logger) *ImageUploadService {
	return &ImageUploadService{storage: st, now: time.Now, log: log}
}

func (s *ImageUploadService) UploadEquipmentImage(ctx context.Context, r io.Reader) (*UploadedImage, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxImageBytes+1))
	if err != nil {
		return nil, apperr.Internal("Failed to read upload", err)
	}
	if len(data) > MaxImageBytes {
		return nil, apperr.Invalid("Image exceeds the 10 MB limit")
	}
	if len(data) == 0 {
		return nil, apperr.Invalid("Image is empty")
	}

	mt := mimetype.Detect(data)
	if !mimetype.EqualsAny(mt.String(), allowedImageTypes...) {
		return nil, apperr.Invalid("Unsupported file type %s; upload a JPEG, PNG, GIF or WebP image", mt.String())
	}

	res, err := imaging.Process(bytes.NewReader(data))
	if err != nil {
		switch {
		case errors.Is(err, imaging.ErrTooManyPixels):
			return nil, apperr.Invalid("Image dimensions exceed the %d megapixel limit", imaging.MaxPixels/1_000_000)
		case errors.Is(err, imaging.ErrUndecodable):
			return nil, apperr.Invalid("Image could not be decoded")
		}
		return nil, apperr.Internal("Failed to process image", err)
	}

	displayKey, thumbKey := storage.EquipmentImageKeys(s.now())
	out := &UploadedImage{}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		url, err := s.storage.Put(gctx, displayKey, "image/jpeg", bytes.NewReader(res.Display))
		out.ImageURL = url
		return err
	})
	g.Go(func() error {
		url, err := s.storage.Put(gctx, thumbKey, "image/jpeg", bytes.NewReader(res.Thumb))
		out.ThumbURL = url
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, apperr.Internal("Failed to store image", err)
	}

	s.log.Info("equipment image stored",
		zap.String("source_type", mt.String()),
		zap.Int("width", res.Width),
		zap.Int("height", res.Height),
		zap.String("image_url", out.ImageURL),
	)
	return out, nil
}
