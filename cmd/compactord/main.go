// Command compactord is the daemon that ticks the compaction and GC
// orchestrators for a fixed set of collections against an object store
// backend, reading every tunable from COREWAL_*-prefixed environment
// variables the same way internal/config resolves its own defaults —
// matching the teacher's own choice of env vars plus functional opts over
// a flags library (see DESIGN.md's "Dropped teacher dependencies").
package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/corewal/corewal/internal/compactor"
	"github.com/corewal/corewal/internal/config"
	"github.com/corewal/corewal/internal/gc"
	"github.com/corewal/corewal/internal/ids"
	"github.com/corewal/corewal/internal/logrpc"
	"github.com/corewal/corewal/internal/objectstore"
	"github.com/corewal/corewal/internal/systemdb"
	"github.com/corewal/corewal/internal/telemetrylog"
)

func main() {
	log, err := telemetrylog.NewProduction()
	if err != nil {
		panic(err)
	}

	cfg := config.Resolve()
	store, err := openStore(context.Background(), log)
	if err != nil {
		log.Critical("compactord: open object store: %v", err)
		os.Exit(1)
	}

	tenant := envOr("COREWAL_TENANT", "default")
	collectionIDs, err := parseCollectionIDs(os.Getenv("COREWAL_COLLECTION_IDS"))
	if err != nil {
		log.Critical("compactord: parse COREWAL_COLLECTION_IDS: %v", err)
		os.Exit(1)
	}

	sysdb := systemdb.NewFake()
	logRPC := logrpc.NewLocal(store, cfg, log)
	compactOrch := compactor.New(store, sysdb, logRPC, cfg, log)
	gcOrch := gc.New(store, sysdb, logRPC, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tick := time.NewTicker(5 * time.Second)
	defer tick.Stop()
	gcTick := time.NewTicker(1 * time.Hour)
	defer gcTick.Stop()

	log.Info("compactord: watching %d collection(s), block budget %d bytes, gc cutoff %s",
		len(collectionIDs), cfg.BlockByteBudget, cfg.GCCutoffAge)

	for {
		select {
		case <-ctx.Done():
			log.Info("compactord: shutting down")
			return
		case <-tick.C:
			for _, id := range collectionIDs {
				state, err := compactOrch.RunOnce(ctx, tenant, id)
				if err != nil && err != compactor.ErrOrchestratorBusy {
					log.Error("compactord: compact %s: %v (state %s)", id, err, state)
				}
			}
		case <-gcTick.C:
			cutoff := time.Now().Add(-cfg.GCCutoffAge).UnixMicro()
			if err := gcOrch.Run(ctx, cutoff, cfg.GCMinVersionsToKeep); err != nil {
				log.Error("compactord: gc run: %v", err)
			}
		}
	}
}

// openStore picks an object store backend from COREWAL_STORE_BACKEND
// ("fs" or "s3"), defaulting to "fs" rooted at COREWAL_STORE_DIR. Wrapped
// in Passthrough since compactord is the process that actually needs
// Delete (GC's file and log-prefix removal) — unlike a hot-path log
// writer, which would use NonDestructive instead.
func openStore(ctx context.Context, log *telemetrylog.Logger) (objectstore.Store, error) {
	switch envOr("COREWAL_STORE_BACKEND", "fs") {
	case "s3":
		client, bucket, err := newS3Client(ctx)
		if err != nil {
			return nil, err
		}
		log.Info("compactord: using s3 backend, bucket %s", bucket)
		return objectstore.NewPassthrough(objectstore.NewS3Provider(client, bucket)), nil
	default:
		dir := envOr("COREWAL_STORE_DIR", "./corewal-data")
		provider, err := objectstore.NewFSProvider(dir)
		if err != nil {
			return nil, err
		}
		return objectstore.NewPassthrough(provider), nil
	}
}

// newS3Client resolves AWS credentials/region the same way the AWS SDK's
// own default chain does (COREWAL_STORE_S3_* env vars override it with
// static credentials when set, otherwise the ambient chain — instance
// role, shared config file, etc. — applies unchanged).
func newS3Client(ctx context.Context) (*s3.Client, string, error) {
	bucket := envOr("COREWAL_STORE_S3_BUCKET", "")
	region := envOr("COREWAL_STORE_S3_REGION", "us-east-1")

	var optFns []func(*awsconfig.LoadOptions) error
	optFns = append(optFns, awsconfig.WithRegion(region))
	if key := os.Getenv("COREWAL_STORE_S3_ACCESS_KEY_ID"); key != "" {
		secret := os.Getenv("COREWAL_STORE_S3_SECRET_ACCESS_KEY")
		optFns = append(optFns, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(key, secret, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, "", err
	}
	return s3.NewFromConfig(awsCfg), bucket, nil
}

func parseCollectionIDs(raw string) ([]ids.CollectionID, error) {
	if raw == "" {
		return nil, nil
	}
	var out []ids.CollectionID
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		id, err := ids.ParseCollectionID(s)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

func envOr(name, dflt string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return dflt
}
