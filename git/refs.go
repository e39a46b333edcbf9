package git

import (
	"context"

	"github.com/go-git/go-git/v5/plumbing"
)

// RefKind is the type of reference a revision resolved through.
type RefKind int

const (
	// RefBranch is a local branch (refs/heads/*).
	RefBranch RefKind = iota

	// RefRemoteBranch is a remote tracking branch (refs/remotes/*/*).
	RefRemoteBranch

	// RefTag is a tag (refs/tags/*).
	RefTag

	// RefCommit is a commit hash.
	RefCommit

	// RefOther is HEAD or any other reference.
	RefOther
)

// String returns a human-readable representation of the RefKind.
func (k RefKind) String() string {
	switch k {
	case RefBranch:
		return "branch"
	case RefRemoteBranch:
		return "remote-branch"
	case RefTag:
		return "tag"
	case RefCommit:
		return "commit"
	case RefOther:
		return "other"
	default:
		return "unknown"
	}
}

// ResolvedRef is a revision resolved to a commit.
type ResolvedRef struct {
	Kind RefKind

	// Hash is the full commit hash.
	Hash string

	// CanonicalName is the full reference name, e.g. "refs/heads/master".
	// For commit hashes it is the hash.
	CanonicalName string
}

// Resolve resolves a revision (branch, tag, HEAD or hash) to a commit.
func (r *Repo) Resolve(ctx context.Context, rev string) (*ResolvedRef, error) {
	if rev == "" {
		return nil, WrapError(ErrInvalidRef, "revision cannot be empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	hash, err := r.repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return nil, WrapErrorf(ErrResolveFailed, "revision %q", rev)
	}

	kind, name := r.classify(rev, *hash)
	return &ResolvedRef{
		Kind:          kind,
		Hash:          hash.String(),
		CanonicalName: name,
	}, nil
}

func (r *Repo) classify(rev string, hash plumbing.Hash) (RefKind, string) {
	if rev == "HEAD" {
		return RefOther, "HEAD"
	}

	candidates := []struct {
		kind RefKind
		name plumbing.ReferenceName
	}{
		{RefBranch, plumbing.NewBranchReferenceName(rev)},
		{RefTag, plumbing.NewTagReferenceName(rev)},
		{RefRemoteBranch, plumbing.ReferenceName("refs/remotes/" + rev)},
		{RefOther, plumbing.ReferenceName(rev)},
	}
	for _, c := range candidates {
		if _, err := r.repo.Reference(c.name, false); err == nil {
			return c.kind, c.name.String()
		}
	}

	return RefCommit, hash.String()
}
