// Package backup periodically snapshots the trade-core SQLite databases to
// S3-compatible object storage, with age-based rotation of old snapshots.
package backup

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// Config points the service at one S3-compatible bucket.
type Config struct {
	Bucket          string
	Region          string
	Endpoint        string // non-empty for R2/MinIO-style endpoints; empty for real AWS S3
	AccessKeyID     string
	SecretAccessKey string
	// Retain is how many snapshots to keep before older ones are pruned.
	Retain int
}

// Service uploads point-in-time snapshots of one or more SQLite database
// files and prunes old ones beyond Config.Retain.
type Service struct {
	cfg      Config
	uploader *manager.Uploader
	client   *s3.Client
	log      zerolog.Logger
}

// New builds a Service from cfg. Returns an error if the bucket is unset
// (backup is an optional ambient feature, not a correctness dependency).
func New(ctx context.Context, cfg Config, log zerolog.Logger) (*Service, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("backup: bucket not configured")
	}
	if cfg.Retain <= 0 {
		cfg.Retain = 14
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &Service{
		cfg:      cfg,
		uploader: manager.NewUploader(client),
		client:   client,
		log:      log.With().Str("component", "backup").Logger(),
	}, nil
}

// Snapshot archives the given SQLite files (name -> path) into a single
// gzipped tar and uploads it under a timestamped key, then prunes snapshots
// beyond Config.Retain.
func (s *Service) Snapshot(ctx context.Context, databases map[string]string) error {
	archivePath, err := s.buildArchive(databases)
	if err != nil {
		return fmt.Errorf("build archive: %w", err)
	}
	defer os.Remove(archivePath)

	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	key := fmt.Sprintf("tradecore-backup-%s.tar.gz", time.Now().UTC().Format("20060102T150405Z"))
	if _, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
		Body:   f,
	}); err != nil {
		return fmt.Errorf("upload snapshot %s: %w", key, err)
	}

	s.log.Info().Str("key", key).Msg("uploaded database snapshot")
	return s.prune(ctx)
}

func (s *Service) buildArchive(databases map[string]string) (string, error) {
	tmp, err := os.CreateTemp("", "tradecore-backup-*.tar.gz")
	if err != nil {
		return "", err
	}
	defer tmp.Close()

	gz := gzip.NewWriter(tmp)
	tw := tar.NewWriter(gz)

	names := make([]string, 0, len(databases))
	for name := range databases {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		path := databases[name]
		if err := addFileToTar(tw, name, path); err != nil {
			return "", err
		}
	}

	if err := tw.Close(); err != nil {
		return "", err
	}
	if err := gz.Close(); err != nil {
		return "", err
	}
	return tmp.Name(), nil
}

func addFileToTar(tw *tar.Writer, name, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		// WAL/SHM-only databases that haven't checkpointed are not fatal to a
		// best-effort backup; skip a missing file rather than aborting the run.
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	hdr := &tar.Header{
		Name:    filepath.Base(name) + ".db",
		Size:    info.Size(),
		Mode:    0o600,
		ModTime: info.ModTime(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}

// prune removes snapshots beyond Config.Retain, oldest first.
func (s *Service) prune(ctx context.Context) error {
	out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.cfg.Bucket),
		Prefix: aws.String("tradecore-backup-"),
	})
	if err != nil {
		return fmt.Errorf("list snapshots: %w", err)
	}
	if len(out.Contents) <= s.cfg.Retain {
		return nil
	}

	sort.Slice(out.Contents, func(i, j int) bool {
		return aws.ToString(out.Contents[i].Key) < aws.ToString(out.Contents[j].Key)
	})

	toDelete := out.Contents[:len(out.Contents)-s.cfg.Retain]
	for _, obj := range toDelete {
		if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.cfg.Bucket),
			Key:    obj.Key,
		}); err != nil {
			s.log.Warn().Err(err).Str("key", aws.ToString(obj.Key)).Msg("failed to prune old snapshot")
			continue
		}
		s.log.Info().Str("key", aws.ToString(obj.Key)).Msg("pruned old snapshot")
	}
	return nil
}
