// Package storage issues signed URLs directly against the S3-compatible
// object store using service credentials.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"agent-proxy-go/internal/config"
	"agent-proxy-go/internal/model"
)

// Signer presigns GET URLs for objects in low-sensitivity buckets.
// The backend is not consulted: possession of a valid session is the only
// gate, so the caller must restrict which buckets reach this path.
type Signer struct {
	presign *s3.PresignClient
	expiry  time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

// NewSigner builds a Signer from the direct-issuance config. Returns
// (nil, nil) when direct issuance is disabled; callers treat a nil Signer
// as a configuration error at request time.
func NewSigner(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Signer, error) {
	direct := cfg.Storage.Direct
	if !direct.Enabled {
		return nil, nil
	}

	region := direct.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(direct.AccessKey, direct.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("load object store config: %w", err)
	}

	// Path-style addressing: MinIO-style stores do not resolve
	// bucket-name subdomains.
	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(direct.Endpoint)
		o.UsePathStyle = true
	})

	return &Signer{
		presign: s3.NewPresignClient(s3Client),
		expiry:  time.Duration(direct.URLExpirySeconds) * time.Second,
		logger:  logger.With("component", "storage_signer"),
		now:     time.Now,
	}, nil
}

// SignGet issues a fresh presigned GET URL for bucket/key. Grants are never
// cached; every call produces a new URL with a full expiry window.
func (s *Signer) SignGet(ctx context.Context, bucket, key string) (*model.SignedURLGrant, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.expiry))
	if err != nil {
		return nil, fmt.Errorf("presign %s/%s: %w", bucket, key, err)
	}

	s.logger.Debug("issued direct signed URL", "bucket", bucket, "key", key)

	return &model.SignedURLGrant{
		StoragePath: bucket + "/" + key,
		URL:         req.URL,
		ExpiresAt:   s.now().Add(s.expiry),
		Issuer:      model.IssuerDirect,
	}, nil
}
