package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ignite/txmail/internal/config"
	"github.com/ignite/txmail/internal/domain"
	"github.com/ignite/txmail/internal/pkg/logger"
	"github.com/ignite/txmail/internal/repository/postgres"
	"github.com/ignite/txmail/internal/service/suppression"
	"github.com/ignite/txmail/internal/worker"
)

func main() {
	domainID := flag.String("domain", "", "sending domain id (required)")
	reason := flag.String("reason", string(domain.ReasonManual), "suppression reason for every address")
	description := flag.String("description", "", "description stored on each entry")
	flag.Parse()

	if *domainID == "" || flag.NArg() != 1 {
		log.Fatal("usage: suppression-import --domain <id> [--reason manual] <file.csv | s3://bucket/key>")
	}
	src := flag.Arg(0)

	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger.SetRedactPII(cfg.Log.RedactPIIEnabled())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer db.Close()

	var s3Client worker.S3Getter
	if strings.HasPrefix(src, "s3://") {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Feedback.Region))
		if err != nil {
			log.Fatalf("aws config: %v", err)
		}
		s3Client = s3.NewFromConfig(awsCfg)
	}

	rc, err := worker.OpenImportSource(ctx, src, s3Client)
	if err != nil {
		log.Fatal(err)
	}
	defer rc.Close()

	svc := suppression.NewService(postgres.NewSuppressionRepo(db))
	importer := worker.NewSuppressionImporter(svc)

	log.Printf("[SuppressionImport] importing %s into domain %s", src, *domainID)
	res, err := importer.Import(ctx, *domainID, rc, domain.SuppressionReason(*reason), suppression.AddOptions{
		Source:      domain.SourceImport,
		Description: *description,
	})
	if res != nil {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(res)
	}
	if err != nil {
		log.Fatalf("import failed: %v", err)
	}
}
