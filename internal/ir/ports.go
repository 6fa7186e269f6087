package ir

// PortKind selects how a port's code is executed.
type PortKind string

const (
	// PortKindAmbient probes a binary already present on the host.
	PortKindAmbient PortKind = "ambient"
	// PortKindSandboxed runs the port in a fresh subprocess per call.
	PortKindSandboxed PortKind = "sandboxed"
	// PortKindBuiltin is implemented in-process by ghjk itself.
	PortKindBuiltin PortKind = "builtin"
)

// PortManifest describes a port and the other ports it depends on.
type PortManifest struct {
	Name           string   `json:"name" yaml:"name"`
	Version        string   `json:"version" yaml:"version"`
	Kind           PortKind `json:"kind" yaml:"kind"`
	Platforms      []string `json:"platforms,omitempty" yaml:"platforms,omitempty"`         // "os-arch", empty means any
	BuildDeps      []string `json:"build_deps,omitempty" yaml:"build_deps,omitempty"`       // needed to download/install
	ResolutionDeps []string `json:"resolution_deps,omitempty" yaml:"resolution_deps,omitempty"` // needed to list versions
}

// SupportsPlatform reports whether the port can run on platform ("os-arch").
func (m PortManifest) SupportsPlatform(platform string) bool {
	if len(m.Platforms) == 0 {
		return true
	}
	for _, p := range m.Platforms {
		if p == platform {
			return true
		}
	}
	return false
}

// InstallConfig is a user-requested install before version resolution.
type InstallConfig struct {
	Port                 string                   `json:"port" yaml:"port"`
	Version              string                   `json:"version,omitempty" yaml:"version,omitempty"`
	Options              map[string]string        `json:"options,omitempty" yaml:"options,omitempty"`
	BuildDepConfigs      map[string]InstallConfig `json:"build_dep_configs,omitempty" yaml:"build_dep_configs,omitempty"`
	ResolutionDepConfigs map[string]InstallConfig `json:"resolution_dep_configs,omitempty" yaml:"resolution_dep_configs,omitempty"`
}

// ResolvedInstallConfig is an InstallConfig with a pinned version and
// recursively resolved dependency configs. Its hash is the install id.
type ResolvedInstallConfig struct {
	Port                 string                           `json:"port" yaml:"port"`
	Version              string                           `json:"version" yaml:"version"`
	Options              map[string]string                `json:"options,omitempty" yaml:"options,omitempty"`
	BuildDepConfigs      map[string]ResolvedInstallConfig `json:"build_dep_configs,omitempty" yaml:"build_dep_configs,omitempty"`
	ResolutionDepConfigs map[string]ResolvedInstallConfig `json:"resolution_dep_configs,omitempty" yaml:"resolution_dep_configs,omitempty"`
}

// AllowedPortDep permits a port to be pulled in as a dependency and gives the
// config used when the dependent does not override it.
type AllowedPortDep struct {
	Manifest      PortManifest  `json:"manifest"`
	DefaultConfig InstallConfig `json:"default_config"`
}

// InstallSet is a bundle of user installs plus the pool of allowed deps.
type InstallSet struct {
	Installs         []InstallConfig           `json:"installs"`
	AllowedBuildDeps map[string]AllowedPortDep `json:"allowed_build_deps,omitempty"`
}

// DownloadArtifacts records the outcome of a port's download stage.
type DownloadArtifacts struct {
	DownloadPath string `json:"download_path"`
}

// InstallArtifacts records what an install exports. Paths are globs,
// relative to InstallPath unless absolute.
type InstallArtifacts struct {
	Env          map[string]string `json:"env,omitempty"`
	InstallPath  string            `json:"install_path"`
	DownloadPath string            `json:"download_path"`
	BinPaths     []string          `json:"bin_paths,omitempty"`
	LibPaths     []string          `json:"lib_paths,omitempty"`
	IncludePaths []string          `json:"include_paths,omitempty"`
}

// InstallProgress is the last completed stage of an install.
type InstallProgress string

const (
	ProgressDownloaded InstallProgress = "downloaded"
	ProgressInstalled  InstallProgress = "installed"
)

// InstallRow is the persistent Install DB record of one install id.
type InstallRow struct {
	InstallID         string                `json:"install_id"`
	Config            ResolvedInstallConfig `json:"config"`
	Manifest          PortManifest          `json:"manifest"`
	DownloadArtifacts *DownloadArtifacts    `json:"download_artifacts,omitempty"`
	InstallArtifacts  *InstallArtifacts     `json:"install_artifacts,omitempty"`
	Progress          InstallProgress       `json:"progress"`
}
