// Package gitmirror keeps local bare mirrors of each project's repository
// up to date so review tooling always has a fresh main branch to diff
// against.
package gitmirror

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/rs/zerolog/log"

	"reviewdeck/api/internal/store"
)

type projectLister interface {
	ListProjects(ctx context.Context) ([]store.Project, error)
}

type Service struct {
	baseDir  string
	projects projectLister
	lockMu   sync.Mutex
	locks    map[string]*sync.Mutex
}

func New(baseDir string, projects projectLister) *Service {
	return &Service{
		baseDir:  baseDir,
		projects: projects,
		locks:    make(map[string]*sync.Mutex),
	}
}

// Run resyncs every project's mirror on the given interval until ctx is
// cancelled. One failing project never stops the loop or the others.
func (s *Service) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.SyncAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SyncAll(ctx)
		}
	}
}

// SyncAll mirrors every registered project, logging and skipping failures.
func (s *Service) SyncAll(ctx context.Context) {
	projects, err := s.projects.ListProjects(ctx)
	if err != nil {
		log.Error().Err(err).Msg("gitmirror: list projects")
		return
	}
	for _, project := range projects {
		if project.GitRepoPath == "" {
			continue
		}
		if err := s.SyncProject(project.ID, project.GitRepoPath); err != nil {
			log.Warn().Err(err).Str("project_id", project.ID).Msg("gitmirror: sync failed")
		}
	}
}

// SyncProject clones the project's repository into a bare mirror on first
// sight and fetches branch updates afterwards.
func (s *Service) SyncProject(projectID, repoURL string) error {
	lock := s.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	path := s.mirrorPath(projectID)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return s.clone(path, repoURL)
	} else if err != nil {
		return fmt.Errorf("stat mirror path: %w", err)
	}
	return s.fetch(path)
}

// MirrorPath returns where a project's mirror lives on disk.
func (s *Service) MirrorPath(projectID string) string {
	return s.mirrorPath(projectID)
}

func (s *Service) clone(path, repoURL string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create mirrors dir: %w", err)
	}
	if _, err := git.PlainClone(path, true, &git.CloneOptions{URL: repoURL}); err != nil {
		return fmt.Errorf("clone mirror: %w", err)
	}
	return nil
}

func (s *Service) fetch(path string) error {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return fmt.Errorf("open mirror: %w", err)
	}
	err = repo.Fetch(&git.FetchOptions{
		RemoteName: "origin",
		RefSpecs:   []gitconfig.RefSpec{"+refs/heads/*:refs/heads/*"},
		Force:      true,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("fetch mirror: %w", err)
	}
	return nil
}

func (s *Service) mirrorPath(projectID string) string {
	return filepath.Join(s.baseDir, projectID)
}

func (s *Service) projectLock(projectID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[projectID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[projectID] = lock
	return lock
}
