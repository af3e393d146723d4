package version

// Version contains the binary version injected by the build system via ldflags
var Version string

// GitCommit contains the git commit sha that the binary was built with, injected by the build system via ldflags
var GitCommit string

// GetVersion returns the version string, falling back to v0.1.0 when the
// build system injected nothing, with the short commit hash appended when
// available.
func GetVersion() string {
	version := Version
	commit := GitCommit

	if version == "" {
		version = "v0.1.0"
	}

	if commit != "" {
		if len(commit) > 7 {
			commit = commit[:7]
		}
		return version + "-" + commit
	}

	return version
}
