package services

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dmitrijs2005/attendkeeper/internal/server/config"
	"github.com/google/uuid"
)

var (
	loadDefaultAWSConfig = awsconfig.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}

	newS3PresignClient = func(c *s3.Client) *s3.PresignClient {
		return s3.NewPresignClient(c)
	}

	presignPutObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignPutObject(ctx, in, optFns...)
	}
)

// SnapshotService hands out presigned upload URLs for local store backups.
type SnapshotService struct {
	config *config.Config
	now    func() time.Time
}

func NewSnapshotService(cfg *config.Config) *SnapshotService {
	return &SnapshotService{config: cfg, now: time.Now}
}

// SnapshotKey is the object key of a new snapshot for userID.
func SnapshotKey(userID string, at time.Time) string {
	return fmt.Sprintf("snapshots/%s/%s/%s.json", userID, at.UTC().Format(time.DateOnly), uuid.New())
}

func (s *SnapshotService) getPresignClient(ctx context.Context) (*s3.PresignClient, error) {
	cfg, err := loadDefaultAWSConfig(ctx,
		awsconfig.WithRegion(s.config.S3Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			s.config.S3RootUser,
			s.config.S3RootPassword,
			"",
		)))
	if err != nil {
		return nil, err
	}

	client := newS3ClientFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(s.config.S3BaseEndpoint)
		o.UsePathStyle = true
	})

	return newS3PresignClient(client), nil
}

// PresignPut returns the object key and a presigned PUT URL for a JSON
// snapshot owned by userID.
func (s *SnapshotService) PresignPut(ctx context.Context, userID string) (string, string, error) {
	presignClient, err := s.getPresignClient(ctx)
	if err != nil {
		return "", "", fmt.Errorf("s3 client: %w", err)
	}

	bucket := s.config.S3Bucket
	key := SnapshotKey(userID, s.now())

	req, err := presignPutObject(presignClient, ctx, &s3.PutObjectInput{
		Bucket:      &bucket,
		Key:         &key,
		ContentType: aws.String("application/json"),
	}, s3.WithPresignExpires(s.config.SnapshotURLValidity))
	if err != nil {
		return "", "", fmt.Errorf("presign snapshot: %w", err)
	}

	return key, req.URL, nil
}
