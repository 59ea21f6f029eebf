// Package cloud checks restore media reachability before planning. The
// engine performs the actual media reads server-side; this preflight
// only answers "does the object exist, and how big is it" for URLs the
// client can see. It is advisory and never fatal to planning.
package cloud

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// MediaStatus is the preflight outcome for one media URL.
type MediaStatus struct {
	URL    string `json:"url"`
	Exists bool   `json:"exists"`
	Size   int64  `json:"size_bytes,omitempty"`
	// Checked is false when the URL scheme cannot be verified from the
	// client (Azure https devices authenticate with a server-side
	// credential this tool never holds).
	Checked bool   `json:"checked"`
	Error   string `json:"error,omitempty"`
}

// HeadClient is the slice of the S3 API the preflight needs.
type HeadClient interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// Checker verifies backup media URLs.
type Checker struct {
	client HeadClient
}

// NewChecker builds a checker on the default AWS credential chain.
func NewChecker(ctx context.Context) (*Checker, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return &Checker{client: s3.NewFromConfig(cfg)}, nil
}

// NewCheckerWithClient injects a client (tests).
func NewCheckerWithClient(client HeadClient) *Checker {
	return &Checker{client: client}
}

// CheckMedia reports one status per URL. Local and UNC paths are
// skipped: only the server can see those. Errors are carried in the
// status, never returned.
func (c *Checker) CheckMedia(ctx context.Context, urls []string) []MediaStatus {
	out := make([]MediaStatus, 0, len(urls))
	for _, raw := range urls {
		out = append(out, c.checkOne(ctx, raw))
	}
	return out
}

func (c *Checker) checkOne(ctx context.Context, raw string) MediaStatus {
	status := MediaStatus{URL: raw}
	lower := strings.ToLower(raw)

	switch {
	case strings.HasPrefix(lower, "s3://"):
		bucket, key, err := splitS3URL(raw)
		if err != nil {
			status.Error = err.Error()
			return status
		}
		head, err := c.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
		status.Checked = true
		if err != nil {
			status.Error = err.Error()
			return status
		}
		status.Exists = true
		if head.ContentLength != nil {
			status.Size = *head.ContentLength
		}
		return status

	case strings.HasPrefix(lower, "https://"), strings.HasPrefix(lower, "http://"):
		// Azure blob devices authenticate with a server-side credential;
		// the client cannot verify them.
		status.Error = "URL device is verified by the engine at restore time"
		return status

	default:
		status.Error = "local or UNC path; only the server can see it"
		return status
	}
}

// splitS3URL splits s3://bucket/key into its parts.
func splitS3URL(raw string) (bucket, key string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("invalid s3 URL %q: %w", raw, err)
	}
	bucket = u.Host
	key = strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("s3 URL %q must be s3://bucket/key", raw)
	}
	return bucket, key, nil
}
