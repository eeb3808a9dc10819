package content

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/go-git/go-git/v5"
)

// SyncRepo clones a git-hosted content pack if it doesn't exist at
// localPath, or pulls the latest changes if it does. Content packs are
// ordinary repositories of markdown card files; after a sync,
// MarkdownAdapter.LoadDir on localPath picks up the updates.
func SyncRepo(log *slog.Logger, url, localPath string) error {
	_, err := os.Stat(localPath)
	switch {
	case os.IsNotExist(err):
		log.Info("cloning content pack", "url", url, "path", localPath)
		_, err := git.PlainClone(localPath, false, &git.CloneOptions{URL: url})
		if err != nil {
			return fmt.Errorf("failed to clone content pack %s: %w", url, err)
		}

	case err == nil:
		log.Info("pulling content pack", "path", localPath)
		repo, err := git.PlainOpen(localPath)
		if err != nil {
			return fmt.Errorf("failed to open content pack at %s: %w", localPath, err)
		}
		worktree, err := repo.Worktree()
		if err != nil {
			return fmt.Errorf("failed to get worktree at %s: %w", localPath, err)
		}
		err = worktree.Pull(&git.PullOptions{RemoteName: "origin"})
		if err != nil && err != git.NoErrAlreadyUpToDate {
			return fmt.Errorf("failed to pull content pack at %s: %w", localPath, err)
		}

	default:
		return fmt.Errorf("error checking path %s: %w", localPath, err)
	}
	return nil
}
