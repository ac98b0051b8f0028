package builder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"

	"go.uber.org/zap"

	"github.com/jbweber/homelab/standctl/internal/config"
)

// Runner executes external commands. virsh.ExecRunner satisfies it.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) error
}

var packerBuildTmpl = template.Must(template.New("packer").Parse(`variable "output_directory" {
  type    = string
  default = "{{.OutputDir}}"
}

build {
  source "qemu.{{.Profile}}" {
    name = "{{.Name}}"
  }
{{range .FileProvisioners}}
  provisioner "file" {
    source      = "{{.Source}}"
    destination = "{{.TmpDestination}}"
  }
  provisioner "shell" {
    inline = [
      "sudo mkdir -p {{.DestinationDir}}",
      "sudo mv {{.TmpDestination}} {{.Destination}}",
    ]
  }
{{end}}
  provisioner "shell" {
    execute_command = "sudo -S env {{"{{"}} .Vars {{"}}"}} {{"{{"}} .Path {{"}}"}}"
    script          = "{{.Script}}"
    env = {
{{- range .Envs}}
      {{.}}
{{- end}}
    }
  }
{{if .DevKeysPath}}
  provisioner "file" {
    source      = "{{.DevKeysPath}}"
    destination = "/tmp/__dev_keys"
  }
{{end -}}
}
`))

type fileProvisioner struct {
	Source         string
	TmpDestination string
	Destination    string
	DestinationDir string
}

type packerBuildData struct {
	OutputDir        string
	Profile          string
	Name             string
	Script           string
	Envs             []string
	FileProvisioners []fileProvisioner
	DevKeysPath      string
}

// PackerBuilder prepares a packer working directory and runs
// packer init and packer build in it.
type PackerBuilder struct {
	outputDir string
	runner    Runner
	log       *zap.Logger

	// lookupEnv is replaceable in tests
	lookupEnv func(string) (string, bool)
	environ   func() []string
}

// NewPackerBuilder creates a packer builder writing artifacts to
// outputDir. log may be nil.
func NewPackerBuilder(outputDir string, runner Runner, log *zap.Logger) *PackerBuilder {
	if log == nil {
		log = zap.NewNop()
	}
	return &PackerBuilder{
		outputDir: outputDir,
		runner:    runner,
		log:       log,
		lookupEnv: os.LookupEnv,
		environ:   os.Environ,
	}
}

// Prepare renders main.pkr.hcl and the overrides var-file into imageDir
func (p *PackerBuilder) Prepare(imageDir string, img config.Image, deps []Fetched, devKeys string) error {
	var provisioners []fileProvisioner
	for i, dep := range deps {
		if dep.LocalPath == "" {
			p.log.Warn("dependency has no local path and will be skipped",
				zap.String("dst", dep.Dep.Dst))
			continue
		}
		provisioners = append(provisioners, fileProvisioner{
			Source:         dep.LocalPath,
			TmpDestination: filepath.Join("/tmp", fmt.Sprintf("%s_%d", filepath.Base(dep.Dep.Dst), i)),
			Destination:    dep.Dep.Dst,
			DestinationDir: filepath.Dir(dep.Dep.Dst),
		})
	}

	devKeysPath := ""
	if devKeys != "" {
		devKeysPath = filepath.Join(imageDir, "__dev_keys")
		if err := os.WriteFile(devKeysPath, []byte(devKeys), 0600); err != nil {
			return fmt.Errorf("failed to write developer keys: %w", err)
		}
	}

	profile := strings.ReplaceAll(img.Profile, "_", "-")
	name := img.Name
	if name == "" {
		name = profile
	}

	envs := []string{fmt.Sprintf("BUILD_IMAGE_PROFILE = %q", img.Profile)}
	envs = append(envs, p.resolveEnvs(img.Envs)...)

	data := packerBuildData{
		OutputDir:        p.outputDir,
		Profile:          profile,
		Name:             name,
		Script:           img.Script,
		Envs:             envs,
		FileProvisioners: provisioners,
		DevKeysPath:      devKeysPath,
	}

	main, err := os.Create(filepath.Join(imageDir, "main.pkr.hcl"))
	if err != nil {
		return err
	}
	defer main.Close()
	if err := packerBuildTmpl.Execute(main, data); err != nil {
		return fmt.Errorf("failed to render packer build file: %w", err)
	}
	if err := main.Close(); err != nil {
		return err
	}

	// Overrides var-file, enriched with the image format
	overrides := map[string]any{"img_format": img.Format}
	for k, v := range img.Override {
		overrides[k] = v
	}
	varFile := filepath.Join(imageDir, "overrides.auto.pkrvars.hcl")
	if err := os.WriteFile(varFile, []byte(renderVarFile(overrides)), 0644); err != nil {
		return err
	}
	return nil
}

// resolveEnvs expands the image env list into HCL assignments. Entries
// ending in * expand to every matching variable of the process
// environment; NAME=value entries carry a default.
func (p *PackerBuilder) resolveEnvs(envs []string) []string {
	var result []string
	for _, env := range envs {
		if strings.HasSuffix(env, "*") {
			prefix := env[:len(env)-1]
			var matched []string
			for _, kv := range p.environ() {
				name, value, _ := strings.Cut(kv, "=")
				if strings.HasPrefix(name, prefix) {
					matched = append(matched, fmt.Sprintf("%s = %q", name, value))
				}
			}
			sort.Strings(matched)
			result = append(result, matched...)
			continue
		}

		name, fallback, _ := strings.Cut(env, "=")
		name = strings.TrimSpace(name)
		fallback = strings.TrimSpace(fallback)
		value, ok := p.lookupEnv(name)
		if !ok {
			value = fallback
		}
		result = append(result, fmt.Sprintf("%s = %q", name, value))
	}
	return result
}

// renderVarFile writes overrides as HCL variable assignments, sorted
// for deterministic output.
func renderVarFile(overrides map[string]any) string {
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		switch v := overrides[k].(type) {
		case string:
			fmt.Fprintf(&sb, "%s = %q\n", k, v)
		default:
			fmt.Fprintf(&sb, "%s = %v\n", k, v)
		}
	}
	return sb.String()
}

// Build runs packer in the prepared directory
func (p *PackerBuilder) Build(ctx context.Context, imageDir string, img config.Image) error {
	if err := p.runner.Run(ctx, "packer", "init", imageDir); err != nil {
		return fmt.Errorf("packer init failed: %w", err)
	}
	p.log.Info("building image", zap.String("image", img.Name), zap.String("profile", img.Profile))
	if err := p.runner.Run(ctx, "packer", "build", "-parallel-builds=1", imageDir); err != nil {
		return fmt.Errorf("packer build failed: %w", err)
	}
	return nil
}
