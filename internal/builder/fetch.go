package builder

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/jbweber/homelab/standctl/internal/config"
)

// Fetched is a dependency that has been materialized on disk
type Fetched struct {
	Dep config.Dependency
	// LocalPath is where the dependency landed
	LocalPath string
}

// fetcher resolves one dependency source into a local path. The source
// variants form a closed set; resolution is an explicit switch, not a
// registry.
type fetcher struct {
	workDir string
	runner  Runner
}

func (f *fetcher) fetch(ctx context.Context, dep config.Dependency, outputDir string) (Fetched, error) {
	if err := dep.Validate(); err != nil {
		return Fetched{}, err
	}

	var (
		path string
		err  error
	)
	switch {
	case dep.Path != nil:
		path, err = f.fetchPath(dep.Path, outputDir)
	case dep.HTTP != nil:
		path, err = f.fetchHTTP(ctx, dep.HTTP, outputDir)
	case dep.Git != nil:
		path, err = f.fetchGit(ctx, dep.Git, outputDir)
	case dep.Env != nil:
		path, err = f.fetchEnv(dep.Env, outputDir)
	}
	if err != nil {
		return Fetched{}, fmt.Errorf("dependency %s: %w", dep.Dst, err)
	}
	return Fetched{Dep: dep, LocalPath: path}, nil
}

// fetchPath copies a local file or directory into outputDir
func (f *fetcher) fetchPath(src *config.PathSource, outputDir string) (string, error) {
	path := src.Src
	if !filepath.IsAbs(path) {
		path = filepath.Join(f.workDir, path)
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}

	dst := filepath.Join(outputDir, filepath.Base(path))
	if info.IsDir() {
		if err := copyDir(path, dst); err != nil {
			return "", err
		}
		return dst, nil
	}
	if err := copyFile(path, dst); err != nil {
		return "", err
	}
	return dst, nil
}

// fetchHTTP downloads a file into outputDir
func (f *fetcher) fetchHTTP(ctx context.Context, src *config.HTTPSource, outputDir string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %s fetching %s", resp.Status, src.URL)
	}

	name := filepath.Base(req.URL.Path)
	if name == "/" || name == "." {
		name = "download"
	}
	dst := filepath.Join(outputDir, name)

	out, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	defer out.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		os.Remove(dst)
		return "", err
	}
	return dst, out.Close()
}

// fetchGit shallow-clones a repository into outputDir
func (f *fetcher) fetchGit(ctx context.Context, src *config.GitSource, outputDir string) (string, error) {
	name := filepath.Base(src.Repo)
	if ext := filepath.Ext(name); ext == ".git" {
		name = name[:len(name)-len(ext)]
	}
	dst := filepath.Join(outputDir, name)

	args := []string{"clone", "--depth", "1"}
	if src.Branch != "" {
		args = append(args, "--branch", src.Branch)
	}
	args = append(args, src.Repo, dst)

	if err := f.runner.Run(ctx, "git", args...); err != nil {
		return "", err
	}
	return dst, nil
}

// fetchEnv writes the contents of an environment variable to a file
func (f *fetcher) fetchEnv(src *config.EnvSource, outputDir string) (string, error) {
	value, ok := os.LookupEnv(src.Name)
	if !ok {
		return "", fmt.Errorf("environment variable %s is not set", src.Name)
	}

	dst := filepath.Join(outputDir, src.Name)
	if err := os.WriteFile(dst, []byte(value), 0600); err != nil {
		return "", err
	}
	return dst, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}

func copyDir(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		return copyFile(path, target)
	})
}
