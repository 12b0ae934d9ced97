package vcs

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// DetectionResult contains information about the detected repository
type DetectionResult struct {
	// Type is the detected VCS type
	Type Type

	// RepoRoot is the repository root directory path
	RepoRoot string

	// VCSDir is the VCS metadata directory path
	VCSDir string

	// IsWorktree indicates this is a git worktree (not main repo)
	IsWorktree bool

	// MainRepoRoot is the main repo root (different from RepoRoot for worktrees)
	MainRepoRoot string
}

// Detect identifies the repository containing the given directory.
//
// Detection walks up parent directories until a .git directory or file is
// found or the filesystem root is reached. A .git file marks a worktree.
//
// Returns ErrNotInVCS if no repository is found.
func Detect(path string) (*DetectionResult, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	current := absPath
	for {
		gitPath := filepath.Join(current, ".git")

		if info, err := os.Stat(gitPath); err == nil {
			result := &DetectionResult{
				Type:     TypeGit,
				RepoRoot: current,
			}

			if info.Mode().IsRegular() {
				// .git is a file - this is a worktree
				result.IsWorktree = true
				result.MainRepoRoot, result.VCSDir = resolveGitWorktreeRoot(current, gitPath)
			} else {
				result.VCSDir = gitPath
				result.MainRepoRoot = current
			}

			return result, nil
		}

		parent := filepath.Dir(current)
		if parent == current {
			// Reached filesystem root without finding VCS
			return nil, ErrNotInVCS
		}
		current = parent
	}
}

// resolveGitWorktreeRoot resolves the main repository root from a worktree's .git file.
// Returns (mainRepoRoot, worktreeGitDir).
//
// Git worktrees have a .git file (not directory) containing:
//
//	gitdir: /path/to/main/.git/worktrees/worktree-name
func resolveGitWorktreeRoot(worktreePath, gitFile string) (string, string) {
	content, err := os.ReadFile(gitFile)
	if err != nil {
		return worktreePath, gitFile
	}

	line := strings.TrimSpace(string(content))
	if !strings.HasPrefix(line, "gitdir: ") {
		return worktreePath, gitFile
	}

	gitDir := strings.TrimPrefix(line, "gitdir: ")
	if !filepath.IsAbs(gitDir) {
		gitDir = filepath.Join(worktreePath, gitDir)
	}
	gitDir = filepath.Clean(gitDir)

	sep := string(filepath.Separator)
	if idx := strings.Index(gitDir, sep+"worktrees"+sep); idx > 0 {
		return filepath.Dir(gitDir[:idx]), gitDir
	}

	return worktreePath, gitDir
}

// IsBinaryAvailable reports whether name resolves to an executable,
// either as a path or through PATH.
func IsBinaryAvailable(name string) bool {
	if name == "" {
		return false
	}
	_, err := exec.LookPath(name)
	return err == nil
}

// ===================
// Project Type Detection
// ===================

// ProjectType is the build ecosystem of a working tree
type ProjectType string

const (
	ProjectGo      ProjectType = "go"
	ProjectNode    ProjectType = "node"
	ProjectRust    ProjectType = "rust"
	ProjectPython  ProjectType = "python"
	ProjectJava    ProjectType = "java"
	ProjectDotNet  ProjectType = "dotnet"
	ProjectUnknown ProjectType = "unknown"
)

// projectMarkers is checked in order; the first marker present wins.
var projectMarkers = []struct {
	file string
	typ  ProjectType
}{
	{"go.mod", ProjectGo},
	{"Cargo.toml", ProjectRust},
	{"package.json", ProjectNode},
	{"pyproject.toml", ProjectPython},
	{"requirements.txt", ProjectPython},
	{"setup.py", ProjectPython},
	{"pom.xml", ProjectJava},
	{"build.gradle", ProjectJava},
	{"build.gradle.kts", ProjectJava},
}

// DetectProjectType inspects the top level of dir for build files.
func DetectProjectType(dir string) ProjectType {
	for _, m := range projectMarkers {
		if _, err := os.Stat(filepath.Join(dir, m.file)); err == nil {
			return m.typ
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return ProjectUnknown
	}
	for _, e := range entries {
		switch filepath.Ext(e.Name()) {
		case ".sln", ".csproj", ".fsproj":
			return ProjectDotNet
		}
	}
	return ProjectUnknown
}
