package cloud

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type fakeHead struct {
	size int64
	err  error

	bucket, key string
}

func (f *fakeHead) HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.bucket = aws.ToString(in.Bucket)
	f.key = aws.ToString(in.Key)
	if f.err != nil {
		return nil, f.err
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(f.size)}, nil
}

func TestCheckMedia_S3(t *testing.T) {
	head := &fakeHead{size: 4096}
	c := NewCheckerWithClient(head)

	statuses := c.CheckMedia(context.Background(), []string{"s3://backups/sql/db1_full.bak"})
	if len(statuses) != 1 {
		t.Fatalf("statuses = %d", len(statuses))
	}
	s := statuses[0]
	if !s.Checked || !s.Exists || s.Size != 4096 {
		t.Errorf("status = %+v", s)
	}
	if head.bucket != "backups" || head.key != "sql/db1_full.bak" {
		t.Errorf("head called with %s / %s", head.bucket, head.key)
	}
}

func TestCheckMedia_S3Missing(t *testing.T) {
	c := NewCheckerWithClient(&fakeHead{err: errors.New("NotFound")})

	s := c.CheckMedia(context.Background(), []string{"s3://backups/missing.bak"})[0]
	if !s.Checked || s.Exists || s.Error == "" {
		t.Errorf("status = %+v", s)
	}
}

func TestCheckMedia_UnverifiableSchemes(t *testing.T) {
	c := NewCheckerWithClient(&fakeHead{})

	statuses := c.CheckMedia(context.Background(), []string{
		"https://acct.blob.core.windows.net/backups/db1.bak",
		`\\srv\share\db1.bak`,
	})
	for _, s := range statuses {
		if s.Checked {
			t.Errorf("client-unverifiable URL reported as checked: %+v", s)
		}
		if s.Error == "" {
			t.Errorf("unverifiable status should explain itself: %+v", s)
		}
	}
}

func TestSplitS3URL(t *testing.T) {
	if _, _, err := splitS3URL("s3://bucket-only"); err == nil {
		t.Error("missing key should be rejected")
	}
	bucket, key, err := splitS3URL("s3://b/k/sub.bak")
	if err != nil || bucket != "b" || key != "k/sub.bak" {
		t.Errorf("split = %q %q %v", bucket, key, err)
	}
}
