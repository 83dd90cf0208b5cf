// Package recipe loads declarative build recipes from YAML files
package recipe

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kilnproject/kiln/pkg/types"
)

// rawFile mirrors the on-disk recipe document
type rawFile struct {
	Env     map[string]string `yaml:"env"`
	Package rawPackage        `yaml:"package"`
}

type rawPackage struct {
	Name        string   `yaml:"name"`
	Version     string   `yaml:"version"`
	Description string   `yaml:"description"`
	License     []string `yaml:"license"`

	Source  []string `yaml:"source"`
	Depends []string `yaml:"depends"`

	Prepare []string `yaml:"prepare"`
	Build   []string `yaml:"build"`
	Install []string `yaml:"install"`
}

var varPattern = regexp.MustCompile(`\$\{?([A-Za-z_][A-Za-z0-9_]*)\}?`)

// Load reads and validates a single recipe file
func Load(path string) (*types.Recipe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read recipe file %s: %w", path, err)
	}

	var raw rawFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("could not parse recipe file %s: %w", path, err)
	}

	return fromRaw(&raw, path)
}

// LoadAll resolves each name to <dir>/<name>.yaml (a literal path is
// accepted as-is) and loads it
func LoadAll(dir string, names []string) ([]*types.Recipe, error) {
	recipes := make([]*types.Recipe, 0, len(names))
	for _, name := range names {
		path := name
		if _, err := os.Stat(path); err != nil {
			path = filepath.Join(dir, name+".yaml")
		}
		r, err := Load(path)
		if err != nil {
			return nil, err
		}
		recipes = append(recipes, r)
	}
	return recipes, nil
}

// LoadDir loads every .yaml recipe in dir, in file-name order
func LoadDir(dir string) ([]*types.Recipe, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("could not read recipe directory %s: %w", dir, err)
	}

	var recipes []*types.Recipe
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		r, err := Load(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		recipes = append(recipes, r)
	}
	return recipes, nil
}

func fromRaw(raw *rawFile, path string) (*types.Recipe, error) {
	pkg := raw.Package
	if pkg.Name == "" {
		return nil, fmt.Errorf("recipe %s: package name is required", path)
	}
	if pkg.Version == "" {
		return nil, fmt.Errorf("recipe %s: package version is required", path)
	}

	// name and version are always available as substitution variables,
	// alongside the recipe's own env entries. Variables must not depend
	// on each other; each is expanded against the final table exactly once.
	vars := make(map[string]string, len(raw.Env)+2)
	for k, v := range raw.Env {
		vars[k] = v
	}
	vars["name"] = pkg.Name
	vars["version"] = pkg.Version

	subst := func(s string) string {
		return varPattern.ReplaceAllStringFunc(s, func(m string) string {
			key := varPattern.FindStringSubmatch(m)[1]
			if v, ok := vars[key]; ok {
				return v
			}
			return m
		})
	}

	recipe := &types.Recipe{
		Name:        pkg.Name,
		Version:     subst(pkg.Version),
		Description: subst(pkg.Description),
		License:     pkg.License,
		Env:         raw.Env,
	}

	for _, dep := range pkg.Depends {
		if dep == pkg.Name {
			return nil, fmt.Errorf("recipe %s: package cannot depend on itself", path)
		}
		recipe.Dependencies = append(recipe.Dependencies, dep)
	}

	for _, src := range pkg.Source {
		spec, err := ParseSource(subst(src))
		if err != nil {
			return nil, fmt.Errorf("recipe %s: %w", path, err)
		}
		recipe.Sources = append(recipe.Sources, spec)
	}

	// Steps run in prepare, build, install order; sections are optional.
	// Commands are not substituted here: env vars are attached to the
	// subprocess environment, so the shell expands them itself.
	recipe.Steps = append(recipe.Steps, pkg.Prepare...)
	recipe.Steps = append(recipe.Steps, pkg.Build...)
	recipe.Steps = append(recipe.Steps, pkg.Install...)

	return recipe, nil
}

// ParseSource classifies one source entry. Version-control origins use a
// git+ scheme prefix (or plain git://) with an optional #reference
// fragment; everything else is a downloadable file, optionally followed
// by an inline " sha256:<hex>" checksum.
func ParseSource(entry string) (types.SourceSpec, error) {
	entry = strings.TrimSpace(entry)
	if entry == "" {
		return types.SourceSpec{}, fmt.Errorf("empty source entry")
	}

	var checksum string
	if fields := strings.Fields(entry); len(fields) == 2 && strings.HasPrefix(fields[1], "sha256:") {
		entry = fields[0]
		checksum = strings.TrimPrefix(fields[1], "sha256:")
		if len(checksum) != 64 {
			return types.SourceSpec{}, fmt.Errorf("invalid sha256 checksum in source %q", entry)
		}
	}

	u, err := url.Parse(entry)
	if err != nil {
		return types.SourceSpec{}, fmt.Errorf("invalid source URL %q: %w", entry, err)
	}

	switch u.Scheme {
	case "git", "git+http", "git+https", "git+ssh":
		if checksum != "" {
			return types.SourceSpec{}, fmt.Errorf("checksums do not apply to version-control source %q", entry)
		}
		ref := u.Fragment
		u.Fragment = ""
		if strings.HasPrefix(u.Scheme, "git+") {
			u.Scheme = strings.TrimPrefix(u.Scheme, "git+")
		}
		return types.SourceSpec{
			Kind:      types.SourceKindVCS,
			URL:       u.String(),
			Reference: ref,
		}, nil
	case "http", "https":
		return types.SourceSpec{
			Kind:     types.SourceKindArchive,
			URL:      u.String(),
			Checksum: checksum,
		}, nil
	default:
		return types.SourceSpec{}, fmt.Errorf("unsupported scheme %q in source %q", u.Scheme, entry)
	}
}

// FileName returns the local file name a source downloads to
func FileName(spec types.SourceSpec) (string, error) {
	u, err := url.Parse(spec.URL)
	if err != nil {
		return "", fmt.Errorf("invalid source URL %q: %w", spec.URL, err)
	}
	name := filepath.Base(u.Path)
	if name == "." || name == "/" || name == "" {
		return "", fmt.Errorf("could not determine file name from URL %q", spec.URL)
	}
	return name, nil
}
