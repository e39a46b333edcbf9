package git

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"path"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/klauspost/compress/gzip"
)

// ArchiveOptions configures Archive.
type ArchiveOptions struct {
	// Prefix is prepended to every entry name, e.g. "app/".
	Prefix string

	// Level is the gzip compression level. Zero selects gzip.DefaultCompression.
	Level int
}

// ArchiveResult describes a written archive.
type ArchiveResult struct {
	// Commit is the full hash of the archived commit.
	Commit string

	// Files is the number of entries written.
	Files int

	// Bytes is the total uncompressed size of the file contents.
	Bytes int64
}

// Archive writes the tree of rev as a gzip-compressed tar stream to w.
// Only committed content is included; the worktree and index are not
// consulted. Entry modification times are the commit time, so archiving
// the same commit twice produces identical entries.
func (r *Repo) Archive(ctx context.Context, rev string, w io.Writer, opts ArchiveOptions) (*ArchiveResult, error) {
	ref, err := r.Resolve(ctx, rev)
	if err != nil {
		return nil, err
	}

	commit, err := r.repo.CommitObject(plumbing.NewHash(ref.Hash))
	if err != nil {
		return nil, WrapErrorf(err, "failed to load commit %s", ref.Hash)
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, WrapErrorf(err, "failed to load tree of %s", ref.Hash)
	}

	level := opts.Level
	if level == 0 {
		level = gzip.DefaultCompression
	}
	gz, err := gzip.NewWriterLevel(w, level)
	if err != nil {
		return nil, WrapError(err, "failed to create gzip writer")
	}
	tw := tar.NewWriter(gz)

	result := &ArchiveResult{Commit: ref.Hash}
	err = tree.Files().ForEach(func(f *object.File) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := writeEntry(tw, f, opts.Prefix, commit)
		if err != nil {
			return fmt.Errorf("archive %s: %w", f.Name, err)
		}
		result.Files++
		result.Bytes += n
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := tw.Close(); err != nil {
		return nil, WrapError(err, "failed to finish tar stream")
	}
	if err := gz.Close(); err != nil {
		return nil, WrapError(err, "failed to finish gzip stream")
	}
	return result, nil
}

func writeEntry(tw *tar.Writer, f *object.File, prefix string, commit *object.Commit) (int64, error) {
	hdr := &tar.Header{
		Name:    path.Join(prefix, f.Name),
		ModTime: commit.Committer.When,
		Format:  tar.FormatPAX,
	}

	if f.Mode == filemode.Symlink {
		target, err := f.Contents()
		if err != nil {
			return 0, err
		}
		hdr.Typeflag = tar.TypeSymlink
		hdr.Linkname = target
		hdr.Mode = 0o777
		return 0, tw.WriteHeader(hdr)
	}

	hdr.Typeflag = tar.TypeReg
	hdr.Size = f.Size
	hdr.Mode = 0o644
	if f.Mode == filemode.Executable {
		hdr.Mode = 0o755
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return 0, err
	}

	rc, err := f.Reader()
	if err != nil {
		return 0, err
	}
	defer rc.Close()
	return io.Copy(tw, rc)
}
