package worker

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ignite/txmail/internal/domain"
	"github.com/ignite/txmail/internal/service/suppression"
)

// BulkSuppressor is the part of the suppression service the importer needs.
type BulkSuppressor interface {
	BulkAdd(ctx context.Context, domainID string, emails []string, reason domain.SuppressionReason, opts suppression.AddOptions) (*suppression.BulkResult, error)
}

// ImportResult summarises one suppression import.
type ImportResult struct {
	Lines    int64                   `json:"lines"`
	Added    int                     `json:"added"`
	Existing int                     `json:"existing"`
	Invalid  int                     `json:"invalid"`
	Samples  []suppression.BulkError `json:"samples,omitempty"`
}

const importSampleLimit = 20

// SuppressionImporter streams an address list into the suppression store in
// chunks of suppression.MaxBulk.
type SuppressionImporter struct {
	svc       BulkSuppressor
	batchSize int
}

// NewSuppressionImporter creates an importer.
func NewSuppressionImporter(svc BulkSuppressor) *SuppressionImporter {
	return &SuppressionImporter{svc: svc, batchSize: suppression.MaxBulk}
}

// Import reads one address per line. Blank lines, # comments and a CSV
// header are skipped; for CSV rows only the first column is used.
func (im *SuppressionImporter) Import(ctx context.Context, domainID string, r io.Reader, reason domain.SuppressionReason, opts suppression.AddOptions) (*ImportResult, error) {
	if opts.Source == "" {
		opts.Source = domain.SourceImport
	}
	res := &ImportResult{}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	batch := make([]string, 0, im.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		br, err := im.svc.BulkAdd(ctx, domainID, batch, reason, opts)
		if err != nil {
			return err
		}
		res.Added += br.Added
		res.Existing += br.Existing
		res.Invalid += br.Errored
		for _, e := range br.Errors {
			if len(res.Samples) < importSampleLimit {
				res.Samples = append(res.Samples, e)
			}
		}
		batch = batch[:0]
		return nil
	}

	first := true
	for scanner.Scan() {
		res.Lines++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if first {
			first = false
			if strings.Contains(line, ",") && strings.Contains(strings.ToLower(line), "email") {
				continue
			}
		}
		batch = append(batch, importField(line))
		if len(batch) >= im.batchSize {
			if err := flush(); err != nil {
				return res, err
			}
			log.Printf("[SuppressionImport] %d lines processed (%d added)", res.Lines, res.Added)
		}
	}
	if err := scanner.Err(); err != nil {
		return res, fmt.Errorf("read import: %w", err)
	}
	if err := flush(); err != nil {
		return res, err
	}
	return res, nil
}

// importField extracts the address from a plain or CSV line.
func importField(line string) string {
	if i := strings.IndexByte(line, ','); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	if len(line) >= 2 && line[0] == '"' && line[len(line)-1] == '"' {
		line = strings.TrimSpace(line[1 : len(line)-1])
	}
	return line
}

// S3Getter is the subset of the S3 client used to fetch import files.
type S3Getter interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// OpenImportSource opens a local path or an s3://bucket/key object.
func OpenImportSource(ctx context.Context, src string, client S3Getter) (io.ReadCloser, error) {
	if !strings.HasPrefix(src, "s3://") {
		return os.Open(src)
	}
	bucket, key, ok := strings.Cut(strings.TrimPrefix(src, "s3://"), "/")
	if !ok || bucket == "" || key == "" {
		return nil, fmt.Errorf("invalid s3 location %q", src)
	}
	if client == nil {
		return nil, fmt.Errorf("no s3 client configured for %q", src)
	}
	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get s3 object %s: %w", src, err)
	}
	return out.Body, nil
}
