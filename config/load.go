package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	relerrors "github.com/input-output-hk/forge-release/errors"
)

// EnvPrefix prefixes every environment variable the loader reads.
const EnvPrefix = "FORGE"

// LoadOptions controls where configuration is read from.
type LoadOptions struct {
	// ConfigFile is an explicit config path. It must exist.
	ConfigFile string

	// WorkDir is searched for release.yaml. Defaults to the current directory.
	WorkDir string

	// Flags are bound by name: env, policy, workers, release-version, dist-dir
	// and repo-root.
	Flags *pflag.FlagSet
}

// flagKeys maps flag names to config keys.
var flagKeys = map[string]string{
	"env":             "env",
	"policy":          "policy",
	"workers":         "workers",
	"release-version": "version",
	"dist-dir":        "dist_dir",
	"repo-root":       "repo_root",
}

// Load reads the configuration. It returns the parsed file and the path it
// was read from, which is empty when no config file exists.
func Load(opts LoadOptions) (*File, string, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.Flags != nil {
		for name, key := range flagKeys {
			if f := opts.Flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, "", relerrors.Wrap(err, relerrors.CodeInternal, "bind flag").With("flag", name)
				}
			}
		}
	}

	path, err := locate(opts)
	if err != nil {
		return nil, "", err
	}
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, "", relerrors.Wrap(err, relerrors.CodeInvalidConfig, "read config").With("path", path)
		}
	}

	var f File
	if err := v.Unmarshal(&f); err != nil {
		return nil, "", relerrors.Wrap(err, relerrors.CodeInvalidConfig, "decode config").With("path", path)
	}
	return &f, path, nil
}

func setDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("env", d.Env)
	v.SetDefault("repo_root", d.RepoRoot)
	v.SetDefault("dist_dir", d.DistDir)
	v.SetDefault("workers", d.Workers)
	v.SetDefault("policy", d.Policy)
	v.SetDefault("version", d.Version)
	v.SetDefault("toolchain.go", d.Toolchain.Go)
	v.SetDefault("toolchain.gofmt", d.Toolchain.Gofmt)
	v.SetDefault("toolchain.goimports", d.Toolchain.Goimports)
	v.SetDefault("toolchain.golint", d.Toolchain.Golint)
	v.SetDefault("toolchain.gsutil", d.Toolchain.GSUtil)
	v.SetDefault("toolchain.version_package", d.Toolchain.VersionPackage)
	v.SetDefault("toolchain.format_paths", d.Toolchain.FormatPaths)
	v.SetDefault("store.region", d.Store.Region)
	v.SetDefault("store.endpoint", d.Store.Endpoint)
	v.SetDefault("store.force_path_style", d.Store.ForcePathStyle)
	v.SetDefault("store.insecure", d.Store.Insecure)
	v.SetDefault("store.concurrency", d.Store.Concurrency)
}

// locate finds the config file:
// 1. opts.ConfigFile
// 2. <WorkDir>/release.yaml
// 3. $XDG_CONFIG_HOME/forge-release/release.yaml
func locate(opts LoadOptions) (string, error) {
	if opts.ConfigFile != "" {
		if _, err := os.Stat(opts.ConfigFile); err != nil {
			return "", relerrors.Wrap(err, relerrors.CodeInvalidConfig, "config file not readable").
				With("path", opts.ConfigFile)
		}
		return opts.ConfigFile, nil
	}

	local := filepath.Join(opts.WorkDir, FileName)
	if _, err := os.Stat(local); err == nil {
		return local, nil
	}

	if user, err := xdg.SearchConfigFile(filepath.Join(AppName, FileName)); err == nil {
		return user, nil
	}
	return "", nil
}

// UserConfigPath returns the per-user config location, creating its
// parent directory.
func UserConfigPath() (string, error) {
	return xdg.ConfigFile(filepath.Join(AppName, FileName))
}

// ErrExists is returned by WriteDefault when the target file exists.
var ErrExists = errors.New("config file already exists")

// WriteDefault writes Example() as YAML to path on the OS filesystem.
// It refuses to overwrite.
func WriteDefault(path string) error {
	return WriteDefaultTo(osfs.New(""), path)
}

// WriteDefaultTo is WriteDefault on an arbitrary filesystem.
func WriteDefaultTo(fs billy.Filesystem, path string) error {
	if _, err := fs.Stat(path); err == nil {
		return fmt.Errorf("%w: %s", ErrExists, path)
	}
	if err := fs.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(Example()); err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	_ = enc.Close()

	if err := util.WriteFile(fs, path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
