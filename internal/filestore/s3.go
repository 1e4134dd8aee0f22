package filestore

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	commons3 "github.com/xxxsen/common/s3"
)

const defaultArchivePrefix = "lawvec/archive"

// s3ArchiveConfig: a plain http:// endpoint disables TLS.
type s3ArchiveConfig struct {
	Endpoint  string `json:"endpoint"`
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
	Bucket    string `json:"bucket"`
	Prefix    string `json:"prefix"`
}

type s3ArchiveStore struct {
	client *commons3.S3Client
	prefix string
}

func init() {
	Register("s3", newS3ArchiveStore)
}

func newS3ArchiveStore(args interface{}) (Store, error) {
	cfg := &s3ArchiveConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	var missing []string
	for name, v := range map[string]string{
		"endpoint":   cfg.Endpoint,
		"access_key": cfg.AccessKey,
		"secret_key": cfg.SecretKey,
		"bucket":     cfg.Bucket,
	} {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("s3 archive missing %s", strings.Join(missing, ", "))
	}
	host, ssl := splitEndpoint(cfg.Endpoint)
	client, err := commons3.New(
		commons3.WithEndpoint(host),
		commons3.WithSecret(cfg.AccessKey, cfg.SecretKey),
		commons3.WithBucket(cfg.Bucket),
		commons3.WithSSL(ssl),
	)
	if err != nil {
		return nil, err
	}
	prefix := strings.Trim(cfg.Prefix, "/")
	if prefix == "" {
		prefix = defaultArchivePrefix
	}
	return &s3ArchiveStore{client: client, prefix: prefix}, nil
}

func (s *s3ArchiveStore) Type() string {
	return "s3"
}

// Save uploads the archive with a Content-MD5 so a truncated body is refused
// by the server instead of being stored.
func (s *s3ArchiveStore) Save(ctx context.Context, key string, r ReadSeekCloser, size int64) error {
	if err := validateKey(key); err != nil {
		return err
	}
	sum, err := contentMD5(r)
	if err != nil {
		return fmt.Errorf("checksum archive %s: %w", key, err)
	}
	if _, err := s.client.Upload(ctx, path.Join(s.prefix, key), r, size, sum); err != nil {
		return fmt.Errorf("upload archive %s: %w", key, err)
	}
	return nil
}

// splitEndpoint strips the scheme; only an explicit http:// turns TLS off.
func splitEndpoint(endpoint string) (string, bool) {
	endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
	switch {
	case strings.HasPrefix(endpoint, "http://"):
		return strings.TrimPrefix(endpoint, "http://"), false
	case strings.HasPrefix(endpoint, "https://"):
		return strings.TrimPrefix(endpoint, "https://"), true
	}
	return endpoint, true
}

// contentMD5 returns the hex md5 of all of r and rewinds it.
func contentMD5(r io.ReadSeeker) (string, error) {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	h := md5.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
