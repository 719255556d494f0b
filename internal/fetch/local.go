package fetch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"llmserve/internal/common/fsutil"
)

// localSource copies a file or a directory tree.
type localSource struct {
	root string
	opts Options
}

func (s *localSource) String() string { return s.root }

func (s *localSource) Fetch(ctx context.Context, dest string) (Result, error) {
	root, err := fsutil.ExpandHome(s.root)
	if err != nil {
		return Result{}, err
	}
	st, err := os.Stat(root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Result{}, fmt.Errorf("%w: %s", ErrNotFound, root)
		}
		return Result{}, err
	}

	var res Result
	copyFile := func(src, rel string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		f, err := os.Open(src)
		if err != nil {
			return err
		}
		defer f.Close()
		n, err := fsutil.WriteFileAtomic(filepath.Join(dest, rel), f)
		if err != nil {
			return fmt.Errorf("copy %s: %w", src, err)
		}
		res.Files = append(res.Files, filepath.ToSlash(rel))
		res.Bytes += n
		return nil
	}

	if !st.IsDir() {
		rel := filepath.Base(root)
		if !s.opts.included(rel) {
			return Result{}, fmt.Errorf("%w: %s does not match %v", ErrNotFound, root, s.opts.Include)
		}
		return res, copyFile(root, rel)
	}
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		if !s.opts.included(filepath.ToSlash(rel)) {
			return nil
		}
		return copyFile(p, rel)
	})
	if err != nil {
		return Result{}, err
	}
	if len(res.Files) == 0 {
		return Result{}, fmt.Errorf("%w: nothing under %s matches %v", ErrNotFound, root, s.opts.Include)
	}
	sort.Strings(res.Files)
	return res, nil
}
