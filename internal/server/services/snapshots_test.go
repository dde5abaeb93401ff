package services

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dmitrijs2005/attendkeeper/internal/server/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSnapshotService() *SnapshotService {
	s := NewSnapshotService(&config.Config{
		S3Region:            "us-east-1",
		S3RootUser:          "minioadmin",
		S3RootPassword:      "minioadmin",
		S3BaseEndpoint:      "http://127.0.0.1:9000",
		S3Bucket:            "snapshots",
		SnapshotURLValidity: 10 * time.Minute,
	})
	s.now = func() time.Time { return t0 }
	return s
}

func stubAWS(t *testing.T) {
	t.Helper()
	origLoad := loadDefaultAWSConfig
	origNewS3 := newS3ClientFromConfig
	origNewPre := newS3PresignClient
	origPut := presignPutObject
	t.Cleanup(func() {
		loadDefaultAWSConfig = origLoad
		newS3ClientFromConfig = origNewS3
		newS3PresignClient = origNewPre
		presignPutObject = origPut
	})
	loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		return aws.Config{}, nil
	}
	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client { return &s3.Client{} }
	newS3PresignClient = func(c *s3.Client) *s3.PresignClient { return &s3.PresignClient{} }
}

func TestSnapshotKey_Layout(t *testing.T) {
	key := SnapshotKey("u1", time.Date(2024, 9, 1, 23, 0, 0, 0, time.FixedZone("x", -3*3600)))
	assert.Regexp(t, regexp.MustCompile(`^snapshots/u1/2024-09-02/[0-9a-f-]{36}\.json$`), key)
}

func TestGetPresignClient_AppliesConfig(t *testing.T) {
	stubAWS(t)
	s := newSnapshotService()

	var region string
	loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		var lo awsconfig.LoadOptions
		for _, fn := range optFns {
			require.NoError(t, fn(&lo))
		}
		region = lo.Region
		return aws.Config{}, nil
	}
	var endpoint string
	var pathStyle bool
	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		var opts s3.Options
		for _, fn := range optFns {
			fn(&opts)
		}
		endpoint = aws.ToString(opts.BaseEndpoint)
		pathStyle = opts.UsePathStyle
		return &s3.Client{}
	}

	pc, err := s.getPresignClient(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, pc)
	assert.Equal(t, "us-east-1", region)
	assert.Equal(t, "http://127.0.0.1:9000", endpoint)
	assert.True(t, pathStyle)
}

func TestPresignPut_Success(t *testing.T) {
	stubAWS(t)
	s := newSnapshotService()

	var gotBucket, gotKey, gotType string
	var gotExpires time.Duration
	presignPutObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		gotBucket, gotKey, gotType = aws.ToString(in.Bucket), aws.ToString(in.Key), aws.ToString(in.ContentType)
		var po s3.PresignOptions
		for _, fn := range optFns {
			fn(&po)
		}
		gotExpires = po.Expires
		return &v4.PresignedHTTPRequest{URL: "https://s3.local/put"}, nil
	}

	key, url, err := s.PresignPut(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "https://s3.local/put", url)
	assert.Equal(t, key, gotKey)
	assert.Equal(t, "snapshots", gotBucket)
	assert.Equal(t, "application/json", gotType)
	assert.Equal(t, 10*time.Minute, gotExpires)
	assert.Regexp(t, `^snapshots/u1/2024-09-01/`, key)
}

func TestPresignPut_ConfigError(t *testing.T) {
	stubAWS(t)
	loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		return aws.Config{}, errors.New("no creds")
	}

	_, _, err := newSnapshotService().PresignPut(context.Background(), "u1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no creds")
}

func TestPresignPut_PresignError(t *testing.T) {
	stubAWS(t)
	presignPutObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return nil, errors.New("sign failed")
	}

	_, _, err := newSnapshotService().PresignPut(context.Background(), "u1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sign failed")
}
