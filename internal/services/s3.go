package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"hk-cultural-events/internal/models"
)

// S3API is the subset of the S3 client used by the feed archive
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// AWSConfig selects the region and shared profile for AWS clients
type AWSConfig struct {
	Region  string
	Profile string
}

// LoadAWSConfig loads the default AWS configuration, optionally with a
// named profile and a region override
func LoadAWSConfig(ctx context.Context, c AWSConfig) (aws.Config, error) {
	var opts []func(*config.LoadOptions) error
	if c.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(c.Profile))
	}
	if c.Region != "" {
		opts = append(opts, config.WithRegion(c.Region))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return cfg, nil
}

// S3FeedArchive keeps a copy of the raw feeds and a JSON summary of every
// import run
type S3FeedArchive struct {
	client     S3API
	bucketName string
}

// S3FileInfo describes an archived object
type S3FileInfo struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// NewS3FeedArchive creates an archive writing to bucketName
func NewS3FeedArchive(client S3API, bucketName string) *S3FeedArchive {
	return &S3FeedArchive{client: client, bucketName: bucketName}
}

// FeedKey is the object key of one raw feed of a run
func FeedKey(runID, feed string) string {
	return fmt.Sprintf("feeds/%s/%s.xml", runID, feed)
}

// SummaryKey is the object key of a run summary, partitioned by day
func SummaryKey(summary *models.ImportSummary) string {
	return fmt.Sprintf("imports/%s/%s.json", summary.StartedAt.UTC().Format("2006-01-02"), summary.RunID)
}

// ArchiveFeeds uploads the three raw documents and returns their keys.
// Keys of the uploads that succeeded are returned even on error.
func (a *S3FeedArchive) ArchiveFeeds(ctx context.Context, runID string, docs *FeedDocuments) ([]string, error) {
	feeds := []struct {
		name string
		body []byte
	}{
		{FeedVenues, docs.Venues},
		{FeedEvents, docs.Events},
		{FeedEventDates, docs.EventDates},
	}

	var keys []string
	for _, f := range feeds {
		key := FeedKey(runID, f.name)
		if err := a.upload(ctx, key, f.body, "application/xml"); err != nil {
			return keys, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// ArchiveSummary uploads the run summary as JSON
func (a *S3FeedArchive) ArchiveSummary(ctx context.Context, summary *models.ImportSummary) (string, error) {
	jsonData, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal import summary to JSON: %w", err)
	}

	key := SummaryKey(summary)
	if err := a.upload(ctx, key, jsonData, "application/json"); err != nil {
		return "", err
	}
	return key, nil
}

// ListSummaries lists archived run summaries, newest first
func (a *S3FeedArchive) ListSummaries(ctx context.Context, limit int) ([]S3FileInfo, error) {
	var files []S3FileInfo
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(a.bucketName),
		Prefix: aws.String("imports/"),
	}

	paginator := s3.NewListObjectsV2Paginator(a.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list import summaries: %w", err)
		}
		for _, obj := range page.Contents {
			files = append(files, S3FileInfo{
				Key:          aws.ToString(obj.Key),
				Size:         obj.Size,
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].Key > files[j].Key
	})
	if limit > 0 && len(files) > limit {
		files = files[:limit]
	}
	return files, nil
}

func (a *S3FeedArchive) upload(ctx context.Context, key string, data []byte, contentType string) error {
	key = strings.TrimPrefix(key, "/")

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucketName),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		Metadata: map[string]string{
			"uploaded-by": "hk-cultural-events",
			"upload-time": time.Now().UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s to S3: %w", key, err)
	}
	return nil
}
