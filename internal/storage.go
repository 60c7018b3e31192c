package internal

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Object layout under the data bucket. Raw uploads land under uploads/,
// each pipeline run writes its outputs under processed/<timestamp>/.
const (
	UploadPrefix    = "uploads/"
	ProcessedPrefix = "processed/"
	runKeyFormat    = "20060102-150405"
)

// getAWSConfig returns the default resolved AWS configuration used to create
// service clients in this package.
func getAWSConfig() aws.Config {
	cfg, err := config.LoadDefaultConfig(context.TODO())
	if err != nil {
		panic("failed to load AWS config: " + err.Error())
	}
	return cfg
}

// getS3Client constructs a new S3 client using default config.
func getS3Client() *s3.Client {
	cfg, err := config.LoadDefaultConfig(context.TODO())
	if err != nil {
		panic(err)
	}
	return s3.NewFromConfig(cfg)
}

// LoadFromS3 retrieves the full contents of an object at bucket/key.
func LoadFromS3(ctx context.Context, bucket, key string) ([]byte, error) {
	client := getS3Client()
	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	defer out.Body.Close()
	buf := new(bytes.Buffer)
	_, err = buf.ReadFrom(out.Body)
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// SaveToS3WithKey stores data to the specified bucket/key.
func SaveToS3WithKey(ctx context.Context, data []byte, bucket, key string) error {
	client := getS3Client()
	_, err := client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	return err
}

// NewRunPrefix generates the processed/<timestamp>/ prefix for one
// pipeline run, so every output of the run sorts and lists together.
func NewRunPrefix(now time.Time) string {
	return fmt.Sprintf("%s%s/", ProcessedPrefix, now.UTC().Format(runKeyFormat))
}

// LatestRunPrefix returns the most recent processed/<timestamp>/ prefix
// in the bucket, or an error when no run has completed yet.
func LatestRunPrefix(ctx context.Context, bucket string) (string, error) {
	client := getS3Client()
	paginator := s3.NewListObjectsV2Paginator(client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(bucket),
		Prefix:    aws.String(ProcessedPrefix),
		Delimiter: aws.String("/"),
	})

	var prefixes []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return "", fmt.Errorf("list pipeline runs: %w", err)
		}
		for _, p := range page.CommonPrefixes {
			if p.Prefix != nil {
				prefixes = append(prefixes, *p.Prefix)
			}
		}
	}
	if len(prefixes) == 0 {
		return "", fmt.Errorf("no pipeline runs found in bucket %s", bucket)
	}
	sort.Strings(prefixes)
	return prefixes[len(prefixes)-1], nil
}

// LoadLookupTables reads the product catalog and relationship tables
// from the most recent pipeline run.
func LoadLookupTables(ctx context.Context, bucket string) ([]ProductLookupEntry, []CustomerProductRelationship, error) {
	prefix, err := LatestRunPrefix(ctx, bucket)
	if err != nil {
		return nil, nil, err
	}
	productData, err := LoadFromS3(ctx, bucket, prefix+"product_lookup.csv")
	if err != nil {
		return nil, nil, fmt.Errorf("load product lookup: %w", err)
	}
	relData, err := LoadFromS3(ctx, bucket, prefix+"customer_product_lookup.csv")
	if err != nil {
		return nil, nil, fmt.Errorf("load relationship lookup: %w", err)
	}
	products, err := DecodeProductLookupCSV(productData)
	if err != nil {
		return nil, nil, err
	}
	rels, err := DecodeRelationshipsCSV(relData)
	if err != nil {
		return nil, nil, err
	}
	return products, rels, nil
}

// GeneratePresignedGetURL returns a presigned GET url that expires after expiry.
func GeneratePresignedGetURL(ctx context.Context, bucket, key string, expiry time.Duration) (string, error) {
	cfg := getAWSConfig()
	s3Client := s3.NewFromConfig(cfg)
	presigner := s3.NewPresignClient(s3Client)
	out, err := presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		return "", err
	}
	return out.URL, nil
}
