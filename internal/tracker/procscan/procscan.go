// Package procscan inspects the process table for users holding files
// open. Best-effort by nature: processes vanish mid-scan and some are
// unreadable without privileges, so false negatives are expected and
// absorbed by the quiet-period and editor-grace policies upstream.
package procscan

import (
	"context"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v3/process"
)

type Scanner struct{}

func NewScanner() *Scanner {
	return &Scanner{}
}

// Snapshot returns, for every open file whose path passes the filter,
// the normalized usernames of the processes holding it. One pass over
// the process table; point-in-time only.
func (s *Scanner) Snapshot(ctx context.Context, match func(path string) bool) (map[string][]string, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]map[string]bool)
	for _, p := range procs {
		openFiles, err := p.OpenFilesWithContext(ctx)
		if err != nil {
			// Gone or not ours to inspect.
			continue
		}
		if len(openFiles) == 0 {
			continue
		}

		username, err := p.UsernameWithContext(ctx)
		if err != nil || username == "" {
			continue
		}
		username = NormalizeUsername(username)

		for _, of := range openFiles {
			path := filepath.Clean(of.Path)
			if !match(path) {
				continue
			}
			if seen[path] == nil {
				seen[path] = make(map[string]bool)
			}
			seen[path][username] = true
		}
	}

	result := make(map[string][]string, len(seen))
	for path, users := range seen {
		list := make([]string, 0, len(users))
		for u := range users {
			list = append(list, u)
		}
		sort.Strings(list)
		result[path] = list
	}
	return result, nil
}

// UsersWithOpen returns the users currently holding one path open.
func (s *Scanner) UsersWithOpen(ctx context.Context, path string) ([]string, error) {
	target := filepath.Clean(path)
	snapshot, err := s.Snapshot(ctx, func(p string) bool { return p == target })
	if err != nil {
		return nil, err
	}
	return snapshot[target], nil
}

// IsOpen reports whether any process holds the path open.
func (s *Scanner) IsOpen(ctx context.Context, path string) bool {
	users, err := s.UsersWithOpen(ctx, path)
	if err != nil {
		log.Debug().Err(err).Str("path", path).Msg("process scan failed")
		return false
	}
	return len(users) > 0
}

// NormalizeUsername strips the DOMAIN\ prefix Windows reports, so the
// same person maps to the same session key everywhere.
func NormalizeUsername(username string) string {
	if i := strings.LastIndex(username, `\`); i >= 0 {
		username = username[i+1:]
	}
	return strings.TrimSpace(username)
}
