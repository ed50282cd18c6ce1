package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/h2non/filetype"
	config "github.com/maheshrc27/marketing-dispatch/configs"
	"github.com/maheshrc27/marketing-dispatch/internal/apperrors"
)

const r2Scheme = "r2://"

// MediaService turns payload media references into URLs the providers can fetch.
type MediaService interface {
	Resolve(ctx context.Context, ref string) (string, error)
	Kind(ref string) MediaKind
}

// Presigner is the part of s3.PresignClient the media service needs.
type Presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

type mediaService struct {
	cfg       config.Config
	presigner Presigner
}

func NewMediaService(cfg config.Config, presigner Presigner) MediaService {
	return &mediaService{cfg: cfg, presigner: presigner}
}

// NewR2Presigner builds a presign client for the Cloudflare R2 bucket, or nil
// when R2 is not configured.
func NewR2Presigner(ctx context.Context, cfg config.Config) (Presigner, error) {
	if cfg.R2.AccountID == "" || cfg.R2.BucketName == "" {
		return nil, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.R2.AccessKey, cfg.R2.SecretKey, "")),
		awsconfig.WithRegion("auto"),
	)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.R2.AccountID))
	})
	return s3.NewPresignClient(client), nil
}

// Resolve passes http(s) URLs through and presigns r2://<key> references.
func (s *mediaService) Resolve(ctx context.Context, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	switch {
	case ref == "":
		return "", nil
	case strings.HasPrefix(ref, "https://"), strings.HasPrefix(ref, "http://"):
		return ref, nil
	case strings.HasPrefix(ref, r2Scheme):
		if s.presigner == nil {
			return "", apperrors.NewValidation("media", "r2 storage is not configured for "+ref)
		}
		key := strings.TrimPrefix(ref, r2Scheme)
		req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.cfg.R2.BucketName),
			Key:    aws.String(key),
		}, s3.WithPresignExpires(s.cfg.R2.PresignTTL))
		if err != nil {
			slog.Info(err.Error())
			return "", fmt.Errorf("presign %s: %w", key, err)
		}
		return req.URL, nil
	}
	return "", apperrors.NewValidation("media", "unsupported media reference "+ref)
}

// Kind guesses image or video from the file extension. Unknown extensions count as images.
func (s *mediaService) Kind(ref string) MediaKind {
	p := ref
	if u, err := url.Parse(ref); err == nil && u.Path != "" {
		p = u.Path
	}
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(p), "."))
	if ext == "" {
		return MediaKindImage
	}
	if filetype.GetType(ext).MIME.Type == "video" {
		return MediaKindVideo
	}
	return MediaKindImage
}
