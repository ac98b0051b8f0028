// Package builder turns a project's build sections into bootable
// images: dependencies are fetched into a staging directory, then each
// element image is rendered and built with packer.
package builder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/jbweber/homelab/standctl/internal/config"
)

// Builder runs one build section end to end
type Builder struct {
	build   config.Build
	workDir string
	packer  *PackerBuilder
	runner  Runner
	log     *zap.Logger

	fetched []Fetched
}

// New creates a builder for one build section. Relative dependency
// paths resolve against workDir. log may be nil.
func New(workDir string, build config.Build, packer *PackerBuilder, runner Runner, log *zap.Logger) *Builder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Builder{
		build:   build,
		workDir: workDir,
		packer:  packer,
		runner:  runner,
		log:     log,
	}
}

// FetchDependencies materializes every dependency of the section into
// depsDir. Must run before Build.
func (b *Builder) FetchDependencies(ctx context.Context, depsDir string) error {
	if err := os.MkdirAll(depsDir, 0755); err != nil {
		return err
	}

	f := &fetcher{workDir: b.workDir, runner: b.runner}
	b.log.Info("fetching dependencies", zap.Int("count", len(b.build.Deps)))
	for _, dep := range b.build.Deps {
		fetched, err := f.fetch(ctx, dep, depsDir)
		if err != nil {
			return err
		}
		b.log.Info("fetched dependency",
			zap.String("dst", dep.Dst),
			zap.String("local", fetched.LocalPath))
		b.fetched = append(b.fetched, fetched)
	}
	return nil
}

// Build builds every image of every element. buildDir may be empty to
// use a temporary directory per image; a concrete one is useful for
// inspecting rendered packer files.
func (b *Builder) Build(ctx context.Context, buildDir, devKeys string) error {
	for _, element := range b.build.Elements {
		for _, img := range element.Images {
			if err := b.buildImage(ctx, buildDir, img, devKeys); err != nil {
				return fmt.Errorf("image %s: %w", img.Name, err)
			}
		}
	}
	return nil
}

func (b *Builder) buildImage(ctx context.Context, buildDir string, img config.Image, devKeys string) error {
	imageDir := buildDir
	if imageDir == "" {
		tmp, err := os.MkdirTemp("", "standctl-build-*")
		if err != nil {
			return err
		}
		defer os.RemoveAll(tmp)
		imageDir = tmp
	} else if err := os.MkdirAll(imageDir, 0755); err != nil {
		return err
	}

	script := img.Script
	if !filepath.IsAbs(script) {
		img.Script = filepath.Join(b.workDir, script)
	}

	if err := b.packer.Prepare(imageDir, img, b.fetched, devKeys); err != nil {
		return err
	}
	return b.packer.Build(ctx, imageDir, img)
}
