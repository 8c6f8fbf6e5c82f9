package github

import (
	"context"
	"encoding/base64"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/google/go-github/v81/github"

	"github.com/bull/csa-content-sync/internal/markdown"
)

// Scheme prefixes source identifiers served by this package.
const Scheme = "github://"

// Ref addresses a file or directory in a repository:
// github://owner/repo/path/to/doc.md[@branch]. A path ending in "/"
// (or an empty path) is a directory.
type Ref struct {
	Owner  string
	Repo   string
	Path   string
	Branch string
}

// ParseRef parses a github:// source identifier.
func ParseRef(id string) (Ref, error) {
	rest, ok := strings.CutPrefix(id, Scheme)
	if !ok {
		return Ref{}, fmt.Errorf("not a github source: %s", id)
	}

	var ref Ref
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		ref.Branch = rest[at+1:]
		rest = rest[:at]
	}

	parts := strings.SplitN(rest, "/", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return Ref{}, fmt.Errorf("github source needs owner and repo: %s", id)
	}
	ref.Owner, ref.Repo = parts[0], parts[1]
	if len(parts) == 3 {
		ref.Path = parts[2]
	}
	return ref, nil
}

// IsDir reports whether the ref names a directory.
func (r Ref) IsDir() bool {
	return r.Path == "" || strings.HasSuffix(r.Path, "/")
}

func (r Ref) String() string {
	s := Scheme + r.Owner + "/" + r.Repo + "/" + r.Path
	if r.Branch != "" {
		s += "@" + r.Branch
	}
	return s
}

func (r Ref) with(p string) Ref {
	r.Path = p
	return r
}

func (r Ref) options() *github.RepositoryContentGetOptions {
	if r.Branch == "" {
		return nil
	}
	return &github.RepositoryContentGetOptions{Ref: r.Branch}
}

// Fetcher fetches markdown files from GitHub and renders them as plain text.
type Fetcher struct {
	client    *Client
	extractor *markdown.Extractor
}

// NewFetcher creates a new document fetcher
func NewFetcher(client *Client) *Fetcher {
	return &Fetcher{
		client:    client,
		extractor: markdown.NewExtractor(),
	}
}

// Fetch returns the plain text of the markdown file named by id.
func (f *Fetcher) Fetch(ctx context.Context, id string) (string, error) {
	ref, err := ParseRef(id)
	if err != nil {
		return "", err
	}
	if ref.IsDir() {
		return "", fmt.Errorf("%s is a directory", id)
	}

	fileContent, _, _, err := f.client.Repositories.GetContents(ctx, ref.Owner, ref.Repo, ref.Path, ref.options())
	if err != nil {
		return "", fmt.Errorf("failed to get content of %s: %w", ref.Path, err)
	}
	if fileContent == nil || fileContent.Content == nil {
		return "", fmt.Errorf("no file content returned for %s", ref.Path)
	}

	raw, err := base64.StdEncoding.DecodeString(*fileContent.Content)
	if err != nil {
		return "", fmt.Errorf("failed to decode content of %s: %w", ref.Path, err)
	}

	doc, err := f.extractor.Extract(raw)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", ref.Path, err)
	}
	return doc.Text, nil
}

// Expand lists every markdown file under a directory ref, sorted.
// A file ref expands to itself.
func (f *Fetcher) Expand(ctx context.Context, id string) ([]string, error) {
	ref, err := ParseRef(id)
	if err != nil {
		return nil, err
	}
	if !ref.IsDir() {
		return []string{id}, nil
	}

	var files []string
	if err := f.listDocsRecursive(ctx, ref, strings.TrimSuffix(ref.Path, "/"), &files); err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// listDocsRecursive recursively traverses directories to find all .md files
func (f *Fetcher) listDocsRecursive(ctx context.Context, ref Ref, dir string, out *[]string) error {
	_, dirContents, _, err := f.client.Repositories.GetContents(ctx, ref.Owner, ref.Repo, dir, ref.options())
	if err != nil {
		return fmt.Errorf("failed to get contents of %s: %w", dir, err)
	}

	for _, item := range dirContents {
		if item.Type == nil || item.Name == nil {
			continue
		}
		itemPath := path.Join(dir, *item.Name)

		switch *item.Type {
		case "file":
			if strings.HasSuffix(*item.Name, ".md") {
				*out = append(*out, ref.with(itemPath).String())
			}
		case "dir":
			if err := f.listDocsRecursive(ctx, ref, itemPath, out); err != nil {
				return err
			}
		}
	}
	return nil
}
