package git

import (
	"bufio"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gitdeck/gitdeck/internal/vcs"
)

// Status returns the status of files in the working directory
func (g *Git) Status(ctx context.Context) ([]vcs.FileChange, error) {
	out, err := g.run(ctx, "status", "--porcelain=v1", "-z", "--untracked-files=all")
	if err != nil {
		return nil, err
	}

	changes := parseStatus(out)
	if len(changes) == 0 {
		return changes, nil
	}

	// Line counts are decoration; a failure here leaves Stats nil
	unstaged, _ := g.numstat(ctx, false)
	staged, _ := g.numstat(ctx, true)
	for i := range changes {
		src := unstaged
		if changes[i].Staged {
			src = staged
		}
		if s, ok := src[changes[i].Path]; ok {
			changes[i].Stats = &s
		}
	}

	return changes, nil
}

// parseStatus parses `git status --porcelain=v1 -z` output.
//
// Each entry is "XY path\0", where X is the index status and Y the
// working tree status. Renames and copies are followed by "orig\0".
func parseStatus(out string) []vcs.FileChange {
	changes := []vcs.FileChange{}
	fields := strings.Split(out, "\x00")

	for i := 0; i < len(fields); i++ {
		entry := fields[i]
		if len(entry) < 4 {
			continue
		}

		x, y := vcs.StatusCode(entry[0:1]), vcs.StatusCode(entry[1:2])
		path := entry[3:]

		if x == vcs.StatusRenamed || x == vcs.StatusCopied {
			i++ // skip original path
		}

		switch {
		case x == vcs.StatusIgnored:
			continue
		case x == vcs.StatusUntracked:
			changes = append(changes, vcs.FileChange{
				Path: path, Kind: vcs.ChangeUntracked, DiffStatus: vcs.StatusUntracked,
			})
			continue
		case isUnmerged(entry[0:2]):
			changes = append(changes, vcs.FileChange{
				Path: path, Kind: vcs.ChangeModified, DiffStatus: vcs.StatusUnmerged,
			})
			continue
		}

		if x != vcs.StatusUnmodified {
			changes = append(changes, vcs.FileChange{
				Path: path, Kind: x.Kind(), Staged: true, DiffStatus: x,
			})
		}
		if y != vcs.StatusUnmodified {
			changes = append(changes, vcs.FileChange{
				Path: path, Kind: y.Kind(), DiffStatus: y,
			})
		}
	}

	return changes
}

// isUnmerged checks for unmerged status codes (DD, AU, UD, UA, DU, AA, UU)
func isUnmerged(xy string) bool {
	switch xy {
	case "DD", "AU", "UD", "UA", "DU", "AA", "UU":
		return true
	}
	return false
}

// numstat returns per-file line counts of the index or working tree diff
func (g *Git) numstat(ctx context.Context, cached bool) (map[string]vcs.DiffStats, error) {
	args := []string{"diff", "--numstat"}
	if cached {
		args = append(args, "--cached")
	}
	out, err := g.run(ctx, args...)
	if err != nil {
		return nil, err
	}
	return parseNumstat(out), nil
}

// parseNumstat parses "added\tdeleted\tpath" lines. Binary files report
// "-" and count as zero.
func parseNumstat(out string) map[string]vcs.DiffStats {
	stats := make(map[string]vcs.DiffStats)
	for _, line := range strings.Split(out, "\n") {
		parts := strings.SplitN(line, "\t", 3)
		if len(parts) != 3 {
			continue
		}
		add, _ := strconv.Atoi(parts[0])
		del, _ := strconv.Atoi(parts[1])
		stats[parts[2]] = vcs.DiffStats{Additions: add, Deletions: del, Total: add + del}
	}
	return stats
}

// Stage adds path to the index
func (g *Git) Stage(ctx context.Context, path string) error {
	_, err := g.run(ctx, "add", "--", path)
	return err
}

// Unstage removes path from the index. Before the first commit there is
// no HEAD to reset to, so the entry is dropped from the index instead.
func (g *Git) Unstage(ctx context.Context, path string) error {
	if g.hasHead(ctx) {
		_, err := g.run(ctx, "reset", "-q", "HEAD", "--", path)
		return err
	}
	_, err := g.run(ctx, "rm", "--cached", "-q", "--", path)
	return err
}

// Discard restores path from the index, or deletes it when untracked
func (g *Git) Discard(ctx context.Context, path string) error {
	if _, err := g.exec(ctx, nil, "ls-files", "--error-unmatch", "--", path); err != nil {
		_, err := g.run(ctx, "clean", "-f", "-q", "--", path)
		return err
	}
	_, err := g.run(ctx, "checkout", "--", path)
	return err
}

// Commit records the index with message and returns the new HEAD hash
func (g *Git) Commit(ctx context.Context, message string) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", fmt.Errorf("commit message is required")
	}

	if _, err := g.run(ctx, "commit", "-q", "-m", message); err != nil {
		return "", err
	}

	return g.run(ctx, "rev-parse", "HEAD")
}

const (
	fieldSep  = "\x1f"
	recordSep = "\x1e"
)

// logFormat yields hash, parents, author, email, date and full message
var logFormat = "--format=" + strings.Join([]string{"%H", "%P", "%an", "%ae", "%aI", "%B"}, "%x1f") + "%x1e"

// Log returns commits reachable from HEAD, newest first
func (g *Git) Log(ctx context.Context, maxCount, skip int) ([]vcs.Commit, error) {
	args := []string{"log", logFormat}
	if maxCount > 0 {
		args = append(args, "--max-count="+strconv.Itoa(maxCount))
	}
	if skip > 0 {
		args = append(args, "--skip="+strconv.Itoa(skip))
	}

	out, err := g.run(ctx, args...)
	if err != nil {
		return nil, err
	}
	return parseLog(out)
}

func parseLog(out string) ([]vcs.Commit, error) {
	commits := []vcs.Commit{}
	for _, rec := range vcs.SplitRecords([]byte(out), recordSep) {
		parts := strings.SplitN(rec, fieldSep, 6)
		if len(parts) != 6 {
			return nil, fmt.Errorf("unexpected git log record with %d fields", len(parts))
		}

		date, err := time.Parse(time.RFC3339, parts[4])
		if err != nil {
			return nil, fmt.Errorf("parse commit date %q: %w", parts[4], err)
		}

		parents := strings.Fields(parts[1])
		if parents == nil {
			parents = []string{}
		}

		commits = append(commits, vcs.Commit{
			Hash:    parts[0],
			Parents: parents,
			Author:  parts[2],
			Email:   parts[3],
			Date:    date,
			Message: strings.TrimSpace(parts[5]),
		})
	}
	return commits, nil
}

// Blame returns per-line authorship of path at HEAD
func (g *Git) Blame(ctx context.Context, path string) ([]vcs.BlameLine, error) {
	out, err := g.run(ctx, "blame", "--porcelain", "--", path)
	if err != nil {
		return nil, err
	}
	return parseBlame(out)
}

// parseBlame parses `git blame --porcelain`. Author headers are only
// printed the first time a commit appears.
func parseBlame(out string) ([]vcs.BlameLine, error) {
	type info struct {
		author string
		date   time.Time
	}
	commits := make(map[string]*info)

	var (
		lines   []vcs.BlameLine
		current vcs.BlameLine
		meta    *info
	)

	sc := bufio.NewScanner(strings.NewReader(out))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()

		if strings.HasPrefix(line, "\t") {
			current.Content = line[1:]
			if meta != nil {
				current.Author = meta.author
				current.Date = meta.date
			}
			lines = append(lines, current)
			continue
		}

		fields := strings.Fields(line)
		if len(fields) >= 3 && len(fields[0]) == 40 {
			n, err := strconv.Atoi(fields[2])
			if err != nil {
				return nil, fmt.Errorf("parse blame header %q: %w", line, err)
			}
			current = vcs.BlameLine{Hash: fields[0], Line: n}
			meta = commits[fields[0]]
			if meta == nil {
				meta = &info{}
				commits[fields[0]] = meta
			}
			continue
		}

		switch {
		case strings.HasPrefix(line, "author "):
			meta.author = strings.TrimPrefix(line, "author ")
		case strings.HasPrefix(line, "author-time "):
			sec, err := strconv.ParseInt(strings.TrimPrefix(line, "author-time "), 10, 64)
			if err == nil {
				meta.date = time.Unix(sec, 0).UTC()
			}
		}
	}
	return lines, sc.Err()
}

// Diff returns the unified diff of path. Untracked files are diffed
// against an empty file.
func (g *Git) Diff(ctx context.Context, path string, staged bool) (string, error) {
	args := []string{"diff", "--no-color"}
	if staged {
		args = append(args, "--cached")
	}
	out, err := g.run(ctx, append(args, "--", path)...)
	if err != nil || out != "" || staged {
		return out, err
	}

	if _, err := g.exec(ctx, nil, "ls-files", "--error-unmatch", "--", path); err == nil {
		return "", nil
	}

	// --no-index exits 1 when the files differ
	res, err := g.exec(ctx, nil, "diff", "--no-color", "--no-index", "--", "/dev/null", path)
	if err != nil && vcs.GetExitCode(err) != 1 {
		return "", classify("diff", res, err)
	}
	return string(res.Stdout), nil
}
