package worker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/txmail/internal/domain"
	"github.com/ignite/txmail/internal/service/suppression"
)

type recordingSuppressor struct {
	calls [][]string
	opts  suppression.AddOptions
	seen  map[string]bool
}

func (r *recordingSuppressor) BulkAdd(_ context.Context, _ string, emails []string, _ domain.SuppressionReason, opts suppression.AddOptions) (*suppression.BulkResult, error) {
	if r.seen == nil {
		r.seen = make(map[string]bool)
	}
	r.calls = append(r.calls, append([]string(nil), emails...))
	r.opts = opts
	res := &suppression.BulkResult{Errors: []suppression.BulkError{}}
	for _, e := range emails {
		switch {
		case !strings.Contains(e, "@"):
			res.Errored++
			res.Errors = append(res.Errors, suppression.BulkError{Email: e, Error: "invalid email"})
		case r.seen[e]:
			res.Existing++
		default:
			r.seen[e] = true
			res.Added++
		}
	}
	return res, nil
}

func TestSuppressionImporter_ParsesCSVAndPlainLines(t *testing.T) {
	input := strings.Join([]string{
		"Email,Time",
		"a@example.com,2024-11-19 01:06:12",
		"",
		"# comment",
		`"b@example.com","x"`,
		"not-an-address",
		"a@example.com",
	}, "\n")

	rec := &recordingSuppressor{}
	res, err := NewSuppressionImporter(rec).Import(context.Background(), "dom-1", strings.NewReader(input), domain.ReasonManual, suppression.AddOptions{})
	require.NoError(t, err)

	assert.Equal(t, int64(7), res.Lines)
	assert.Equal(t, 2, res.Added)
	assert.Equal(t, 1, res.Existing)
	assert.Equal(t, 1, res.Invalid)
	require.Len(t, res.Samples, 1)
	assert.Equal(t, "not-an-address", res.Samples[0].Email)
	assert.Equal(t, domain.SourceImport, rec.opts.Source)
	require.Len(t, rec.calls, 1)
	assert.Equal(t, []string{"a@example.com", "b@example.com", "not-an-address", "a@example.com"}, rec.calls[0])
}

func TestSuppressionImporter_ChunksAtBatchSize(t *testing.T) {
	var buf bytes.Buffer
	for i := 0; i < 5; i++ {
		fmt.Fprintf(&buf, "user%d@example.com\n", i)
	}
	rec := &recordingSuppressor{}
	im := NewSuppressionImporter(rec)
	im.batchSize = 2

	res, err := im.Import(context.Background(), "dom-1", &buf, domain.ReasonUnsubscribe, suppression.AddOptions{})
	require.NoError(t, err)
	assert.Equal(t, 5, res.Added)
	require.Len(t, rec.calls, 3)
	assert.Len(t, rec.calls[2], 1)
}

type fakeS3 struct {
	bucket, key string
	body        string
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.bucket, f.key = *in.Bucket, *in.Key
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(f.body))}, nil
}

func TestOpenImportSource_S3(t *testing.T) {
	client := &fakeS3{body: "a@example.com\n"}
	rc, err := OpenImportSource(context.Background(), "s3://lists/2024/unsubs.csv", client)
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "a@example.com\n", string(data))
	assert.Equal(t, "lists", client.bucket)
	assert.Equal(t, "2024/unsubs.csv", client.key)

	_, err = OpenImportSource(context.Background(), "s3://bucket-only", client)
	assert.Error(t, err)
	_, err = OpenImportSource(context.Background(), "s3://lists/key", nil)
	assert.Error(t, err)
}
