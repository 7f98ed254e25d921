package attachment

import (
	"context"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Fetcher resolves "s3://bucket/key" attachment links (§3 Link:
// "s3:"), registered against Resolver for KindS3.
type S3Fetcher struct {
	client *s3.Client
}

// NewS3Fetcher builds an S3Fetcher using the ambient AWS credential chain
// (environment, shared config, EC2/ECS instance role), matching how the
// pack's own S3-backed artifact store resolves credentials.
func NewS3Fetcher(ctx context.Context, endpoint string, usePathStyle bool) (*S3Fetcher, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("attachment: load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		if usePathStyle {
			o.UsePathStyle = true
		}
	})
	return &S3Fetcher{client: client}, nil
}

func (f *S3Fetcher) Fetch(ctx context.Context, uri string) ([]Part, error) {
	bucket, key, err := parseS3URI(uri)
	if err != nil {
		return nil, err
	}
	out, err := f.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &bucket, Key: &key})
	if err != nil {
		return nil, fmt.Errorf("attachment: s3 get %s: %w", uri, err)
	}
	defer out.Body.Close()

	buf, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("attachment: s3 read %s: %w", uri, err)
	}
	mimetype := ""
	if out.ContentType != nil {
		mimetype = *out.ContentType
	}
	if mimetype == "" {
		mimetype = mime.TypeByExtension(filepath.Ext(key))
	}
	return []Part{{Bytes: buf, Mimetype: normalizeMimetype(mimetype), URI: uri, Title: filepath.Base(key)}}, nil
}

func parseS3URI(uri string) (bucket, key string, err error) {
	rest := strings.TrimPrefix(uri, "s3://")
	rest = strings.TrimPrefix(rest, "s3:")
	rest = strings.TrimPrefix(rest, "//")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("attachment: malformed s3 uri %q (want s3://bucket/key)", uri)
	}
	return parts[0], parts[1], nil
}
