// Package output writes published dev-service configuration to a blob
// bucket so processes other than the one that started the services can
// read it.
package output

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/joho/godotenv"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
	"gocloud.dev/gcerrors"
	"gopkg.in/yaml.v3"

	"github.com/greatliontech/integresql-dev/internal/config"
)

const envPrefix = "INTEGRESQL_"

var ErrNotPublished = errors.New("no configuration published")

type Sink struct {
	bucket *blob.Bucket
	key    string
	format string
}

// Open opens the bucket at cfg.URL, e.g.
// file:///tmp/integresql-dev?create_dir=true or mem://.
func Open(ctx context.Context, cfg config.Output) (*Sink, error) {
	bucket, err := blob.OpenBucket(ctx, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open output bucket: %w", err)
	}
	return New(bucket, cfg.Key, cfg.Format), nil
}

func New(bucket *blob.Bucket, key, format string) *Sink {
	return &Sink{bucket: bucket, key: key, format: format}
}

func (s *Sink) Close() error {
	return s.bucket.Close()
}

func (s *Sink) Key() string {
	return s.key
}

// Publish replaces the stored configuration with values.
func (s *Sink) Publish(ctx context.Context, service string, values map[string]string) error {
	b, err := Render(s.format, values)
	if err != nil {
		return err
	}

	w, err := s.bucket.NewWriter(ctx, s.key, &blob.WriterOptions{
		ContentType: contentType(s.format),
		Metadata:    map[string]string{"service": service},
	})
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, bytes.NewReader(b)); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// Unpublish removes the stored configuration. Removing a key that does
// not exist is not an error.
func (s *Sink) Unpublish(ctx context.Context, service string) error {
	err := s.bucket.Delete(ctx, s.key)
	if err != nil && gcerrors.Code(err) == gcerrors.NotFound {
		return nil
	}
	return err
}

// Read returns the stored configuration, decoded. It fails with
// ErrNotPublished while nothing is stored.
func (s *Sink) Read(ctx context.Context) (map[string]string, error) {
	b, err := s.bucket.ReadAll(ctx, s.key)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, fmt.Errorf("%s: %w", s.key, ErrNotPublished)
		}
		return nil, err
	}
	return Parse(s.format, b)
}

// Render encodes values as dotenv with INTEGRESQL_ prefixed upper case
// keys, or as a flat yaml mapping.
func Render(format string, values map[string]string) ([]byte, error) {
	switch format {
	case config.FormatEnv:
		env := make(map[string]string, len(values))
		for k, v := range values {
			env[EnvKey(k)] = v
		}
		s, err := godotenv.Marshal(env)
		if err != nil {
			return nil, err
		}
		return []byte(s + "\n"), nil
	case config.FormatYAML:
		return yaml.Marshal(values)
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}
}

// Parse is the inverse of Render.
func Parse(format string, b []byte) (map[string]string, error) {
	switch format {
	case config.FormatEnv:
		env, err := godotenv.UnmarshalBytes(b)
		if err != nil {
			return nil, err
		}
		out := make(map[string]string, len(env))
		for k, v := range env {
			out[configKey(k)] = v
		}
		return out, nil
	case config.FormatYAML:
		out := map[string]string{}
		if err := yaml.Unmarshal(b, &out); err != nil {
			return nil, err
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}
}

// EnvKey maps "base-url" to "INTEGRESQL_BASE_URL".
func EnvKey(key string) string {
	return envPrefix + strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
}

func configKey(env string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(env, envPrefix)), "_", "-")
}

func contentType(format string) string {
	if format == config.FormatYAML {
		return "application/yaml"
	}
	return "text/plain; charset=utf-8"
}
