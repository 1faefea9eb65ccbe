package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eiannone/keyboard"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/chmdznr/orgphotos/internal/auth"
	"github.com/chmdznr/orgphotos/internal/config"
	"github.com/chmdznr/orgphotos/internal/db"
	"github.com/chmdznr/orgphotos/internal/logging"
	"github.com/chmdznr/orgphotos/internal/remote"
	"github.com/chmdznr/orgphotos/internal/remote/graph"
	"github.com/chmdznr/orgphotos/internal/remote/s3store"
	"github.com/chmdznr/orgphotos/internal/report"
	"github.com/chmdznr/orgphotos/internal/sorter"
	"github.com/chmdznr/orgphotos/internal/watch"
	"github.com/chmdznr/orgphotos/pkg/models"
	"github.com/chmdznr/orgphotos/pkg/utils"
	"github.com/chmdznr/orgphotos/pkg/version"
)

// flag name -> config key, for flags that override the loaded configuration
var flagKeys = map[string]string{
	"source-dir":    "source_dir",
	"target-dir":    "target_dir",
	"debounce-secs": "debounce_secs",
	"backend":       "backend",
	"refresh-file":  "onedrive_refresh_file",
	"journal":       "journal_path",
	"log-level":     "log_level",
	"log-file":      "log_file",
	"log-format":    "log_format",
}

func main() {
	cli.VersionFlag = &cli.BoolFlag{
		Name:    "version",
		Aliases: []string{"v"},
		Usage:   "print the version",
	}

	app := &cli.App{
		Name:                 "orgphotos",
		Usage:                "Sort a cloud photo inbox into year/month folders",
		Version:              version.Version,
		EnableBashCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "options file (JSON or YAML); defaults to " + config.DefaultFile + " when present",
			},
			&cli.StringFlag{Name: "source-dir", Usage: "folder to sort, relative to the drive root"},
			&cli.StringFlag{Name: "target-dir", Usage: "root of the sorted tree"},
			&cli.IntFlag{Name: "debounce-secs", Usage: "seconds to idle between scans"},
			&cli.StringFlag{Name: "backend", Usage: "graph or s3"},
			&cli.StringFlag{Name: "refresh-file", Usage: "path of the OneDrive refresh token file"},
			&cli.StringFlag{Name: "journal", Usage: "sqlite journal path; empty disables the journal"},
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error"},
			&cli.StringFlag{Name: "log-file", Usage: "log to this file instead of stderr"},
			&cli.StringFlag{Name: "log-format", Usage: "console or json"},
		},
		Commands: []*cli.Command{
			{
				Name:  "version",
				Usage: "Print detailed version information",
				Action: func(c *cli.Context) error {
					fmt.Printf("Version:    %s\n", version.Version)
					fmt.Printf("Git commit: %s\n", version.GitCommit)
					fmt.Printf("Built:      %s\n", version.BuildTime)
					return nil
				},
			},
			{
				Name:  "run",
				Usage: "Sort continuously until interrupted",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "keys",
						Usage: "read keys from the terminal: s scans now, q quits",
					},
				},
				Action: runLoop,
			},
			{
				Name:   "once",
				Usage:  "Run a single sorting pass",
				Action: runOnce,
			},
			{
				Name:   "plan",
				Usage:  "Show where every file would go without moving anything",
				Action: showPlan,
			},
			{
				Name:   "status",
				Usage:  "Show journal totals",
				Action: showStatus,
			},
			{
				Name:  "export",
				Usage: "Export the journal to a spreadsheet",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "out",
						Usage:    "path of the .xlsx file to write",
						Required: true,
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "export at most this many recent moves (0 = all)",
					},
				},
				Action: exportJournal,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// app bundles what every command needs. close releases all of it.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	store   remote.Store
	journal *db.DB
}

func (a *app) close() {
	if a.journal != nil {
		a.journal.Close()
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	overrides := make(map[string]any)
	for flag, key := range flagKeys {
		if c.IsSet(flag) {
			overrides[key] = c.Value(flag)
		}
	}
	return config.Load(config.Options{File: c.String("config"), Overrides: overrides})
}

// setup loads config and builds the logger, journal and store. The store is
// skipped when withStore is false.
func setup(c *cli.Context, withStore bool) (*app, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile, Format: cfg.LogFormat})
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %v", err)
	}
	a := &app{cfg: cfg, logger: logger}

	if cfg.JournalPath != "" {
		a.journal, err = db.New(cfg.JournalPath)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("failed to open journal: %v", err)
		}
	}

	if withStore {
		a.store, err = newStore(cfg, logger)
		if err != nil {
			a.close()
			return nil, err
		}
	}
	return a, nil
}

// newStore builds the backend and wraps it in the credential gate.
func newStore(cfg *config.Config, logger *zap.Logger) (remote.Store, error) {
	switch cfg.Backend {
	case config.BackendS3:
		s, err := s3store.New(s3store.Config{
			Endpoint:  cfg.S3Endpoint,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Secure:    cfg.S3Secure,
			ProbeExif: cfg.S3ProbeExif,
		}, logger.Named("s3"))
		if err != nil {
			return nil, err
		}
		return auth.NewGate(s, s, logger.Named("gate")), nil

	default:
		provider, err := auth.NewOAuth(auth.OAuthConfig{
			ClientID:  cfg.OneDriveClientID,
			TenantID:  cfg.OneDriveTenantID,
			TokenFile: auth.TokenFile{Path: cfg.OneDriveRefreshFile},
			TokenURL:  cfg.TokenURL,
		}, logger.Named("oauth"))
		if err != nil {
			return nil, err
		}
		client := graph.New(graph.Config{BaseURL: cfg.GraphBaseURL}, provider, logger.Named("graph"))
		return auth.NewGate(client, provider, logger.Named("gate")), nil
	}
}

func (a *app) newSorter(extra ...sorter.Option) *sorter.Sorter {
	opts := []sorter.Option{sorter.WithLogger(a.logger)}
	if a.journal != nil {
		opts = append(opts, sorter.WithJournal(a.journal))
	}
	opts = append(opts, extra...)
	return sorter.New(sorter.Config{
		SourceDir: a.cfg.SourceDir,
		TargetDir: a.cfg.TargetDir,
		Interval:  a.cfg.Interval(),
	}, a.store, opts...)
}

func runLoop(c *cli.Context) error {
	a, err := setup(c, true)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s := a.newSorter()

	if a.cfg.Backend == config.BackendGraph {
		w, err := watch.New(a.cfg.OneDriveRefreshFile, 2*time.Second, s.Wake, a.logger.Named("watch"))
		if err != nil {
			a.logger.Warn("cannot watch refresh token file", zap.String("path", a.cfg.OneDriveRefreshFile), zap.Error(err))
		} else {
			defer w.Close()
		}
	}

	if c.Bool("keys") {
		if err := readKeys(ctx, s.Wake, stop, a.logger); err != nil {
			a.logger.Warn("keyboard unavailable", zap.Error(err))
		} else {
			defer keyboard.Close()
			fmt.Println("Press 's' to scan now, 'q' to quit")
		}
	}

	return s.Run(ctx)
}

// readKeys forwards key presses until ctx ends.
func readKeys(ctx context.Context, wake, quit func(), logger *zap.Logger) error {
	keys, err := keyboard.GetKeys(10)
	if err != nil {
		return err
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-keys:
				if !ok {
					return
				}
				if ev.Err != nil {
					logger.Warn("keyboard error", zap.Error(ev.Err))
					return
				}
				switch {
				case ev.Rune == 's' || ev.Rune == 'S':
					logger.Info("scan requested")
					wake()
				case ev.Rune == 'q' || ev.Rune == 'Q' || ev.Key == keyboard.KeyCtrlC || ev.Key == keyboard.KeyEsc:
					quit()
					return
				}
			}
		}
	}()
	return nil
}

func runOnce(c *cli.Context) error {
	a, err := setup(c, true)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var opts []sorter.Option
	if term.IsTerminal(int(os.Stdout.Fd())) {
		opts = append(opts, sorter.WithObserver(sorter.NewProgressBar(os.Stdout)))
	}
	rec := a.newSorter(opts...).RunPass(ctx)

	fmt.Printf("Listed: %d, moved: %d, unsorted: %d, already sorted: %d, vanished: %d, failed: %d\n",
		rec.Listed, rec.Moved, rec.Unsorted, rec.AlreadySorted, rec.Vanished, rec.Failed)
	if rec.Aborted {
		return cli.Exit(fmt.Sprintf("pass aborted: %s", rec.Error), 1)
	}
	return nil
}

func showPlan(c *cli.Context) error {
	a, err := setup(c, true)
	if err != nil {
		return err
	}
	defer a.close()

	plans, err := a.newSorter().Preview(c.Context)
	if err != nil {
		return fmt.Errorf("failed to list %s: %v", a.cfg.SourceDir, err)
	}
	var moving int
	for _, p := range plans {
		if p.Outcome == models.OutcomeAlreadySorted {
			fmt.Printf("%s (already in place)\n", p.SourcePath)
			continue
		}
		moving++
		method := p.Method
		if method == "" {
			method = "-"
		}
		fmt.Printf("%s -> %s (%s, %s)\n", p.SourcePath, p.TargetPath, p.Tier, method)
	}
	fmt.Printf("\n%d of %d files would move\n", moving, len(plans))
	return nil
}

// showStatus prints journal totals.
func showStatus(c *cli.Context) error {
	a, err := setup(c, false)
	if err != nil {
		return err
	}
	defer a.close()
	if a.journal == nil {
		return fmt.Errorf("journal is disabled; set journal_path or --journal")
	}

	stats, err := a.journal.GetStats()
	if err != nil {
		return fmt.Errorf("failed to get stats: %v", err)
	}

	fmt.Printf("Source: %s\n", a.cfg.SourceDir)
	fmt.Printf("Target: %s\n", a.cfg.TargetDir)
	fmt.Printf("Passes: %s (%d aborted)\n", utils.FormatCount(stats.Passes), stats.AbortedPasses)
	if stats.LastPassAt != nil {
		fmt.Printf("Last pass: %s\n", utils.FormatAgo(*stats.LastPassAt, time.Now()))
	}
	fmt.Printf("Files seen: %s\n", utils.FormatCount(stats.TotalFiles))
	fmt.Printf("Moved: %s (Size: %s)\n", utils.FormatCount(stats.MovedFiles), utils.FormatSize(stats.MovedSize))
	fmt.Printf("Unsorted: %s (Size: %s)\n", utils.FormatCount(stats.UnsortedFiles), utils.FormatSize(stats.UnsortedSize))
	fmt.Printf("Already sorted: %s\n", utils.FormatCount(stats.AlreadySorted))
	fmt.Printf("Vanished: %s\n", utils.FormatCount(stats.VanishedFiles))
	fmt.Printf("Failed: %s\n", utils.FormatCount(stats.FailedFiles))
	return nil
}

func exportJournal(c *cli.Context) error {
	a, err := setup(c, false)
	if err != nil {
		return err
	}
	defer a.close()
	if a.journal == nil {
		return fmt.Errorf("journal is disabled; set journal_path or --journal")
	}

	moves, err := a.journal.ListMoves(c.Int("limit"))
	if err != nil {
		return fmt.Errorf("failed to read moves: %v", err)
	}
	passes, err := a.journal.ListPasses(0)
	if err != nil {
		return fmt.Errorf("failed to read passes: %v", err)
	}
	if err := report.ExportXLSX(c.String("out"), moves, passes); err != nil {
		return err
	}
	fmt.Printf("Exported %d moves and %d passes to %s\n", len(moves), len(passes), c.String("out"))
	return nil
}
