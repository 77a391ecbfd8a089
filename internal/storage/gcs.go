package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/eargollo/dochub/internal/media"
)

// GCS is a Backend over a Google Cloud Storage bucket.
type GCS struct {
	client *gcs.Client
	bucket string
	prefix string
}

// NewGCS creates the client and verifies the bucket is reachable.
func NewGCS(ctx context.Context, cfg GCSConfig) (*GCS, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("%w: gcs bucket not configured", ErrRootNotFound)
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	if _, err := client.Bucket(cfg.Bucket).Attrs(ctx); err != nil {
		client.Close()
		if errors.Is(err, gcs.ErrBucketNotExist) {
			return nil, fmt.Errorf("%w: gs://%s", ErrRootNotFound, cfg.Bucket)
		}
		return nil, fmt.Errorf("bucket attrs %s: %w", cfg.Bucket, err)
	}
	return &GCS{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (g *GCS) String() string { return "gs://" + Join(g.bucket, g.prefix) }

func (g *GCS) object(p string) *gcs.ObjectHandle {
	return g.client.Bucket(g.bucket).Object(objectKey(g.prefix, p))
}

// WriteFile uploads the object; GCS makes the new generation visible only
// once Close succeeds.
func (g *GCS) WriteFile(ctx context.Context, folder, name string, data []byte) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}
	if err := validatePath(folder); err != nil {
		return "", err
	}
	rel := Join(folder, name)
	w := g.object(rel).NewWriter(ctx)
	w.ContentType = media.ContentType(name)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return "", fmt.Errorf("upload object %s: %w", rel, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("upload object %s: %w", rel, err)
	}
	return rel, nil
}

func (g *GCS) ReadFile(ctx context.Context, p string) ([]byte, error) {
	if err := validatePath(p); err != nil {
		return nil, err
	}
	r, err := g.object(p).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, p)
		}
		return nil, fmt.Errorf("open object %s: %w", p, err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", p, err)
	}
	return data, nil
}

func (g *GCS) Delete(ctx context.Context, p string) error {
	if err := validatePath(p); err != nil {
		return err
	}
	if err := g.object(p).Delete(ctx); err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, p)
		}
		return fmt.Errorf("delete object %s: %w", p, err)
	}
	return nil
}

func (g *GCS) ListSubdirectories(ctx context.Context, folder string) ([]string, error) {
	var dirs []string
	err := g.list(ctx, folder, func(attrs *gcs.ObjectAttrs, listed string) {
		if attrs.Prefix != "" {
			dirs = append(dirs, childName(listed, attrs.Prefix))
		}
	})
	sort.Strings(dirs)
	return dirs, err
}

func (g *GCS) ListFiles(ctx context.Context, folder string) ([]FileInfo, error) {
	var files []FileInfo
	err := g.list(ctx, folder, func(attrs *gcs.ObjectAttrs, listed string) {
		if attrs.Prefix != "" {
			return
		}
		name := childName(listed, attrs.Name)
		if name == "" {
			return // folder placeholder object
		}
		files = append(files, FileInfo{Name: name, Size: attrs.Size, ModTime: attrs.Updated})
	})
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, err
}

func (g *GCS) list(ctx context.Context, folder string, fn func(*gcs.ObjectAttrs, string)) error {
	if err := validatePath(folder); err != nil {
		return err
	}
	listed := listPrefix(g.prefix, folder)
	it := g.client.Bucket(g.bucket).Objects(ctx, &gcs.Query{Prefix: listed, Delimiter: "/"})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			return nil
		}
		if err != nil {
			return fmt.Errorf("list objects %s: %w", listed, err)
		}
		fn(attrs, listed)
	}
}
