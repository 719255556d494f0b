package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/storage"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/iterator"

	"llmserve/internal/common/fsutil"
)

// objectStore is the slice of a GCS bucket the fetcher needs.
type objectStore interface {
	List(ctx context.Context, prefix string) ([]string, error)
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	Close() error
}

type gcsSource struct {
	bucket string
	prefix string
	opts   Options
	// dial opens the bucket; replaced in tests.
	dial func(ctx context.Context, bucket string) (objectStore, error)
}

func newGCSSource(rest string, opts Options) (*gcsSource, error) {
	bucket, prefix, _ := strings.Cut(rest, "/")
	if bucket == "" {
		return nil, fmt.Errorf("fetch: gs source %q must be gs://bucket/prefix", rest)
	}
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &gcsSource{bucket: bucket, prefix: prefix, opts: opts, dial: dialGCS}, nil
}

func (s *gcsSource) String() string { return "gs://" + s.bucket + "/" + s.prefix }

func (s *gcsSource) Fetch(ctx context.Context, dest string) (Result, error) {
	log := s.opts.Logger.With().Str("source", s.String()).Logger()
	store, err := s.dial(ctx, s.bucket)
	if err != nil {
		return Result{}, fmt.Errorf("creating GCS storage client: %w", err)
	}
	defer store.Close()

	names, err := store.List(ctx, s.prefix)
	if err != nil {
		return Result{}, fmt.Errorf("listing %s: %w", s, err)
	}
	type object struct{ name, rel string }
	var objects []object
	for _, name := range names {
		if strings.HasSuffix(name, "/") {
			continue
		}
		rel, err := safeRel(strings.TrimPrefix(name, s.prefix))
		if err != nil {
			return Result{}, err
		}
		if s.opts.included(rel) {
			objects = append(objects, object{name: name, rel: rel})
		}
	}
	if len(objects) == 0 {
		return Result{}, fmt.Errorf("%w: no objects under %s match %v", ErrNotFound, s, s.opts.Include)
	}
	log.Info().Int("files", len(objects)).Str("dest", dest).Msg("downloading from GCS")

	var (
		mu    sync.Mutex
		total int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)
	for _, o := range objects {
		g.Go(func() error {
			startedAt := time.Now()
			r, err := store.Open(gctx, o.name)
			if err != nil {
				return fmt.Errorf("opening object %q: %w", o.name, err)
			}
			defer r.Close()
			n, err := fsutil.WriteFileAtomic(filepath.Join(dest, filepath.FromSlash(o.rel)), r)
			if err != nil {
				return fmt.Errorf("downloading %q: %w", o.name, err)
			}
			log.Debug().Str("file", o.rel).Int64("bytes", n).Dur("dur", time.Since(startedAt)).Msg("downloaded")
			mu.Lock()
			total += n
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}
	files := make([]string, len(objects))
	for i, o := range objects {
		files[i] = o.rel
	}
	sort.Strings(files)
	return Result{Files: files, Bytes: total}, nil
}

// gcsBucket adapts a storage client to objectStore. Credentials come from
// the environment (application default credentials).
type gcsBucket struct {
	client *storage.Client
	bucket *storage.BucketHandle
}

func dialGCS(ctx context.Context, bucket string) (objectStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	return &gcsBucket{client: client, bucket: client.Bucket(bucket)}, nil
}

func (b *gcsBucket) List(ctx context.Context, prefix string) ([]string, error) {
	it := b.bucket.Objects(ctx, &storage.Query{Prefix: prefix})
	var names []string
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			if errors.Is(err, storage.ErrBucketNotExist) {
				return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
			}
			return nil, err
		}
		names = append(names, attrs.Name)
	}
	return names, nil
}

func (b *gcsBucket) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	r, err := b.bucket.Object(name).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return r, err
}

func (b *gcsBucket) Close() error { return b.client.Close() }
