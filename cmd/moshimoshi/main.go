// Command moshimoshi runs spaced-repetition review sessions from the
// terminal: it loads markdown card decks, schedules due items, walks
// an interactive answer loop, and syncs results to a remote API when
// one is configured.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/HelyeFab/moshimoshi-sub003/internal/config"
	"github.com/HelyeFab/moshimoshi-sub003/internal/conflict"
	"github.com/HelyeFab/moshimoshi-sub003/internal/content"
	"github.com/HelyeFab/moshimoshi-sub003/internal/events"
	"github.com/HelyeFab/moshimoshi-sub003/internal/remote"
	"github.com/HelyeFab/moshimoshi-sub003/internal/review"
	"github.com/HelyeFab/moshimoshi-sub003/internal/session"
	"github.com/HelyeFab/moshimoshi-sub003/internal/storage"
	"github.com/HelyeFab/moshimoshi-sub003/internal/syncq"
)

func newLogger(cfg config.Logging) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	flags := pflag.NewFlagSet("moshimoshi", pflag.ExitOnError)
	cfgPath := flags.StringP("config", "c", "", "path to config file")
	limit := flags.Int("limit", 20, "max items per session")
	flags.String("database.path", "", "path to the local database")
	flags.String("content.dir", "", "directory of markdown decks")
	flags.String("content.git_url", "", "git URL of a content pack to sync")
	flags.String("remote.base_url", "", "sync API base URL (empty = offline)")
	flags.String("remote.user_id", "", "user id for scheduling and sync")
	flags.String("logging.level", "", "log level (debug, info, warn, error)")
	if err := flags.Parse(os.Args[1:]); err != nil {
		return err
	}

	cfg, err := config.Load(*cfgPath, flags)
	if err != nil {
		return err
	}
	log := newLogger(cfg.Logging)

	if cfg.Content.GitURL != "" {
		dest := filepath.Join(filepath.Dir(cfg.Database.Path), "packs")
		if err := content.SyncRepo(log, cfg.Content.GitURL, dest); err != nil {
			return err
		}
		cfg.Content.Dir = dest
	}

	adapter := content.NewMarkdownAdapter("vocabulary")
	pool, err := adapter.LoadDir(cfg.Content.Dir)
	if err != nil {
		return err
	}
	if len(pool) == 0 {
		fmt.Printf("No cards found under %s.\n", cfg.Content.Dir)
		return nil
	}
	log.Info("loaded content", "dir", cfg.Content.Dir, "items", len(pool))

	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return err
	}
	store, err := storage.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if pruned, err := store.Cleanup(ctx, cfg.Retention.MaxAgeDays); err != nil {
		log.Warn("cleanup failed", "error", err)
	} else if pruned > 0 {
		log.Info("pruned old history", "rows", pruned)
	}

	bus := events.NewBus()
	monitor := remote.NewMonitor(cfg.Remote.BaseURL != "")
	client := remote.NewHTTPClient(cfg.Remote.BaseURL)
	queue := syncq.New(store, client, monitor, conflict.NewResolver(), bus, log, cfg.Sync)
	go queue.Run(ctx, 30*time.Second)

	events.Subscribe(bus, func(e events.StreakMilestone) {
		fmt.Printf("  ** %d in a row! **\n", e.Streak)
	})
	events.Subscribe(bus, func(e events.SyncFailed) {
		log.Warn("mutation dead-lettered", "type", e.Type, "entity_id", e.EntityID, "error", e.LastError)
	})

	items, err := dueItems(ctx, store, cfg.Remote.UserID, pool, *limit)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Println("Nothing due for review today.")
		return drain(ctx, queue)
	}

	mgr := session.NewManager(store, queue, bus, content.DefaultValidator{Fuzzy: cfg.Content.Fuzzy},
		cfg.SRS, cfg.Session, log)
	if err := reviewLoop(ctx, mgr, cfg.Remote.UserID, items); err != nil {
		return err
	}
	return drain(ctx, queue)
}

// dueItems selects the session's items: every loaded card that either
// has no scheduling record yet or is due, oldest due first, capped at
// limit.
func dueItems(ctx context.Context, store storage.Store, userID string, pool []review.ReviewableContent, limit int) ([]review.ReviewableContent, error) {
	now := time.Now()
	due, err := store.QueryDue(ctx, userID, now)
	if err != nil {
		return nil, err
	}
	dueSet := make(map[string]bool, len(due))
	for _, d := range due {
		dueSet[d.ItemID] = true
	}

	var items []review.ReviewableContent
	// Due items first, in the store's due order.
	byID := make(map[string]review.ReviewableContent, len(pool))
	for _, c := range pool {
		byID[c.ID] = c
	}
	for _, d := range due {
		if c, ok := byID[d.ItemID]; ok {
			items = append(items, c)
		}
	}
	// Then unseen cards.
	for _, c := range pool {
		if dueSet[c.ID] {
			continue
		}
		_, err := store.GetSRSData(ctx, userID, c.ID)
		if err == nil {
			continue // scheduled but not due
		}
		if !errors.Is(err, review.ErrNotFound) {
			return nil, err
		}
		items = append(items, c)
	}

	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func reviewLoop(ctx context.Context, mgr *session.Manager, userID string, items []review.ReviewableContent) error {
	sess, err := mgr.Start(ctx, userID, "recall", items)
	if errors.Is(err, review.ErrSessionConflict) {
		// A previous run left a session behind; pick it up where it
		// stopped instead of refusing to start.
		sess, err = mgr.Recover(ctx, userID)
		if err != nil {
			return err
		}
		if sess.Status == review.StatusPaused {
			if err := mgr.Resume(ctx); err != nil {
				return err
			}
		}
		fmt.Println("Resuming your previous session.")
	} else if err != nil {
		return err
	}
	fmt.Printf("Reviewing %d items. Commands: /hint /skip /quit\n", len(sess.Items))

	reader := bufio.NewReader(os.Stdin)
	for {
		item, err := mgr.CurrentItem(ctx)
		if err != nil {
			return err
		}
		if item == nil {
			break // session completed itself
		}

		fmt.Printf("\n[%d/%d] %s\n", sess.CurrentIndex+1, len(sess.Items), item.Content.Primary)
		if item.Content.Secondary != "" {
			fmt.Printf("       %s\n", item.Content.Secondary)
		}

		answer, quit, err := readAnswer(ctx, mgr, reader)
		if err != nil {
			return err
		}
		if quit {
			fmt.Println("Leaving the session; progress is saved.")
			return mgr.Abandon(ctx)
		}
		if answer == "" { // skipped
			if _, err := mgr.SkipItem(ctx); err != nil {
				return err
			}
			continue
		}

		out, err := mgr.SubmitAnswer(ctx, answer, readConfidence(reader))
		if err != nil {
			return err
		}
		if out.Validation.Correct {
			fmt.Printf("Correct. Next review in %d day(s).\n", out.SRS.Interval)
			if out.Validation.Feedback != "" {
				fmt.Println(out.Validation.Feedback)
			}
		} else {
			fmt.Printf("Not quite. Expected: %s\n", out.Validation.ExpectedAnswer)
		}
		if _, err := mgr.NextItem(ctx); err != nil {
			return err
		}
	}

	return nil
}

// readAnswer reads one line, handling the /hint, /skip and /quit
// commands. It returns the answer ("" means skip) and whether the user
// quit.
func readAnswer(ctx context.Context, mgr *session.Manager, reader *bufio.Reader) (string, bool, error) {
	for {
		fmt.Print("> ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", true, nil // EOF ends the session
		}
		line = strings.TrimSpace(line)
		switch line {
		case "/quit":
			return "", true, nil
		case "/skip":
			return "", false, nil
		case "/hint":
			hint, err := mgr.UseHint(ctx)
			if err != nil {
				return "", false, err
			}
			if hint == "" {
				fmt.Println("No hints for this one.")
			} else {
				fmt.Println("Hint:", hint)
			}
		case "":
			// empty input, ask again
		default:
			return line, false, nil
		}
	}
}

// readConfidence asks for an optional 1-5 self-rating; Enter skips it.
func readConfidence(reader *bufio.Reader) int {
	fmt.Print("Confidence 1-5 (Enter to skip): ")
	line, err := reader.ReadString('\n')
	if err != nil {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil || n < 1 || n > 5 {
		return 0
	}
	return n
}

// drain gives the queue one last chance to flush before exit, then
// reports anything still pending.
func drain(ctx context.Context, queue *syncq.Queue) error {
	if err := queue.Process(ctx); err != nil {
		return err
	}
	status, err := queue.Status(ctx)
	if err != nil {
		return err
	}
	if status.Pending > 0 {
		fmt.Printf("%d change(s) pending sync; they will upload next run.\n", status.Pending)
	}
	if status.DeadLettered > 0 {
		fmt.Printf("%d change(s) failed permanently; see the dead-letter store.\n", status.DeadLettered)
	}
	return nil
}
