package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"llmserve/internal/common/fsutil"
)

// hfSource downloads a repository snapshot from the Hugging Face hub.
// Only public repositories are reachable; no token is sent.
type hfSource struct {
	repo     string
	revision string
	opts     Options
}

func newHFSource(rest string, opts Options) (*hfSource, error) {
	repo, rev, _ := strings.Cut(rest, "@")
	org, name, ok := strings.Cut(strings.Trim(repo, "/"), "/")
	if !ok || org == "" || name == "" || strings.Contains(name, "/") {
		return nil, fmt.Errorf("fetch: hf source %q must be hf://org/repo[@revision]", rest)
	}
	if rev == "" {
		rev = "main"
	}
	return &hfSource{repo: org + "/" + name, revision: rev, opts: opts}, nil
}

func (s *hfSource) String() string { return "hf://" + s.repo + "@" + s.revision }

type hfModelInfo struct {
	SHA      string `json:"sha"`
	Siblings []struct {
		RFilename string `json:"rfilename"`
	} `json:"siblings"`
}

func (s *hfSource) Fetch(ctx context.Context, dest string) (Result, error) {
	log := s.opts.Logger.With().Str("source", s.String()).Logger()
	files, err := s.list(ctx)
	if err != nil {
		return Result{}, err
	}
	if len(files) == 0 {
		return Result{}, fmt.Errorf("%w: no files in %s match %v", ErrNotFound, s, s.opts.Include)
	}
	log.Info().Int("files", len(files)).Str("dest", dest).Msg("downloading from hub")

	var (
		mu    sync.Mutex
		total int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)
	for _, rel := range files {
		g.Go(func() error {
			n, err := s.download(gctx, rel, filepath.Join(dest, filepath.FromSlash(rel)))
			if err != nil {
				return fmt.Errorf("download %s: %w", rel, err)
			}
			mu.Lock()
			total += n
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}
	return Result{Files: files, Bytes: total}, nil
}

// list returns the repository files that pass the include filter.
func (s *hfSource) list(ctx context.Context) ([]string, error) {
	u := fmt.Sprintf("%s/api/models/%s/revision/%s", s.opts.HFEndpoint, s.repo, url.PathEscape(s.revision))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	resp, err := s.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("doing request: %w", err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, s)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%s is gated or private (%s); use a public mirror or a gs:// or local source", s, resp.Status)
	case resp.StatusCode != http.StatusOK:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("listing %s: unexpected status %s: %s", s, resp.Status, strings.TrimSpace(string(b)))
	}
	var info hfModelInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decoding model info: %w", err)
	}
	var files []string
	for _, sib := range info.Siblings {
		rel, err := safeRel(sib.RFilename)
		if err != nil {
			return nil, err
		}
		if s.opts.included(rel) {
			files = append(files, rel)
		}
	}
	sort.Strings(files)
	return files, nil
}

func (s *hfSource) download(ctx context.Context, rel, destPath string) (int64, error) {
	u := fmt.Sprintf("%s/%s/resolve/%s/%s", s.opts.HFEndpoint, s.repo, url.PathEscape(s.revision), escapePath(rel))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}
	startedAt := time.Now()
	resp, err := s.opts.HTTPClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("doing request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusNotFound {
			return 0, fmt.Errorf("%w: %s", ErrNotFound, rel)
		}
		return 0, fmt.Errorf("unexpected status downloading from upstream source: %v", resp.Status)
	}
	n, err := fsutil.WriteFileAtomic(destPath, resp.Body)
	if err != nil {
		return n, err
	}
	s.opts.Logger.Debug().Str("file", rel).Int64("bytes", n).Dur("dur", time.Since(startedAt)).Msg("downloaded")
	return n, nil
}

func escapePath(rel string) string {
	parts := strings.Split(rel, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
