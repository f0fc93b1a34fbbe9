package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"camarc/internal/camarc"
	"camarc/internal/capture"
	"camarc/internal/config"
	"camarc/internal/database"
	"camarc/internal/dateparse"
	"camarc/internal/directory"
	"camarc/internal/encryption"
	"camarc/internal/frame"
	"camarc/internal/photostore"
	"camarc/internal/progress"
	"camarc/internal/server"

	"golang.org/x/sync/errgroup"
)

// CamarcApp is the application layer between the CLI and CamarcService.
// It constructs all dependencies from config and closes them on Close.
type CamarcApp struct {
	cfg       *config.Config
	db        camarc.Database
	photos    camarc.PhotoStore
	encryptor camarc.Encryptor
	directory *directory.StaticDirectory
	service   *camarc.CamarcService
	logger    camarc.Logger
	clock     camarc.Clock
	idgen     camarc.IDGenerator
	logFile   *os.File
}

// Options tune how an app is built.
type Options struct {
	// Verbose enables debug logging.
	Verbose bool
	// LogWriter replaces the log file and stderr. Used by tests.
	LogWriter io.Writer
}

// NewCamarcApp creates a fully wired CamarcApp from the given config.
// command identifies the CLI command being run and is logged once.
// The caller must call Close when done.
func NewCamarcApp(ctx context.Context, cfg *config.Config, command string, opts Options) (*CamarcApp, error) {
	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	runID := time.Now().UTC().Format("20060102T150405Z")

	var slogger *slog.Logger
	var logFile *os.File
	if opts.LogWriter != nil {
		slogger = slog.New(&camarcHandler{mu: &sync.Mutex{}, w: opts.LogWriter, runID: runID, level: level})
	} else {
		var err error
		slogger, logFile, err = newLogger(cfg.LogDir, runID, level)
		if err != nil {
			return nil, fmt.Errorf("creating logger: %w", err)
		}
	}
	logger := &slogAdapter{l: slogger}
	logger.Debug("starting", "command", command, "host", cfg.HostID)

	closeLog := func() {
		if logFile != nil {
			logFile.Close()
		}
	}

	clock := camarc.RealClock{}
	idgen := camarc.UUIDGenerator{}

	photos, err := photostore.NewPhotoStoreFromConfig(ctx, cfg.PhotoStore, idgen)
	if err != nil {
		closeLog()
		return nil, fmt.Errorf("creating photo store: %w", err)
	}

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		closeLog()
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}

	dir, err := directory.NewStaticDirectoryFromConfig(cfg, idgen)
	if err != nil {
		closeLog()
		return nil, fmt.Errorf("creating directory: %w", err)
	}

	policy, err := camarc.ParseFetchPolicy(cfg.Archive.OnFetchError)
	if err != nil {
		closeLog()
		return nil, err
	}

	db, err := database.NewDatabaseFromConfig(cfg.Database, cfg.HostID)
	if err != nil {
		closeLog()
		return nil, fmt.Errorf("opening database: %w", err)
	}

	svc, err := camarc.NewCamarcService(db, photos, dateparse.NewNatural(), enc, logger, clock, idgen,
		camarc.CaptureOptions{
			Frequency:   cfg.Capture.Frequency,
			Width:       cfg.Capture.Width,
			Height:      cfg.Capture.Height,
			JPEGQuality: cfg.Capture.JPEGQuality,
		},
		camarc.ArchiveOptions{
			WorkDir:              cfg.Archive.WorkDir,
			OnFetchError:         policy,
			MaxConcurrentFetches: cfg.Archive.MaxConcurrentFetches,
			Encrypt:              cfg.Archive.Encrypt,
		},
	)
	if err != nil {
		db.Close()
		closeLog()
		return nil, err
	}

	return &CamarcApp{
		cfg:       cfg,
		db:        db,
		photos:    photos,
		encryptor: enc,
		directory: dir,
		service:   svc,
		logger:    logger,
		clock:     clock,
		idgen:     idgen,
		logFile:   logFile,
	}, nil
}

// Logger returns the app logger.
func (a *CamarcApp) Logger() camarc.Logger {
	return a.logger
}

// Preview returns up to limit records matching query.
func (a *CamarcApp) Preview(query string, limit int) []camarc.PhotoRecord {
	return a.service.Preview(query, limit)
}

// ExportArchive builds the archive for query and moves it to outPath.
// An existing file at outPath is not replaced.
func (a *CamarcApp) ExportArchive(ctx context.Context, query, outPath string, reporter camarc.ProgressReporter) (*camarc.Archive, error) {
	if _, err := os.Stat(outPath); err == nil {
		return nil, fmt.Errorf("output file already exists: %s", outPath)
	}

	archive, err := a.service.BuildArchive(ctx, query, reporter)
	if err != nil {
		return nil, err
	}
	if err := moveFile(archive.Path, outPath); err != nil {
		archive.Remove()
		return nil, fmt.Errorf("saving archive: %w", err)
	}
	archive.Path = outPath
	archive.Name = filepath.Base(outPath)
	return archive, nil
}

// DecryptFile decrypts an encrypted archive at inPath into outPath.
func (a *CamarcApp) DecryptFile(passphrase, inPath, outPath string) error {
	in, err := os.Open(inPath)
	if err != nil {
		return fmt.Errorf("opening encrypted archive: %w", err)
	}
	defer in.Close()

	return writeFileAtomic(outPath, func(w io.Writer) error {
		return a.service.DecryptArchive(passphrase, in, w)
	})
}

// GetHistory returns the most recent archive jobs.
func (a *CamarcApp) GetHistory(limit int) ([]*camarc.ArchiveJobRecord, error) {
	return a.service.GetHistory(limit)
}

// ListDevices returns the cameras known to the directory.
func (a *CamarcApp) ListDevices(ctx context.Context) ([]camarc.Device, error) {
	session, err := a.directory.Authenticate(ctx, os.Getenv(directory.AccountEnv), os.Getenv(directory.PasswordEnv))
	if err != nil {
		return nil, fmt.Errorf("authenticating with directory: %w", err)
	}
	return a.directory.ListDevices(ctx, session)
}

// Serve runs the HTTP surface and, when capture is true, the capture
// pipeline until ctx is done or one of them fails.
func (a *CamarcApp) Serve(ctx context.Context, withCapture bool) error {
	if err := a.photos.ValidateSetup(ctx); err != nil {
		return fmt.Errorf("validating photo store: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	hub := progress.NewHub(a.logger)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})

	reporter := progress.NewMulti(
		progress.NewLogReporter(a.logger, a.idgen),
		progress.NewHubReporter(hub, a.idgen, a.clock),
	)
	srv := server.New(a.service, hub, reporter, a.logger, a.cfg.Server.PreviewLimit)
	g.Go(func() error {
		return srv.ListenAndServe(gctx, a.cfg.Server.Listen)
	})

	if withCapture {
		if err := a.startCapture(gctx, g); err != nil {
			return err
		}
	}

	return g.Wait()
}

// Capture runs only the capture pipeline until ctx is done.
func (a *CamarcApp) Capture(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	if err := a.startCapture(gctx, g); err != nil {
		return err
	}
	return g.Wait()
}

// startCapture connects the frame source to the service through the
// bounded queue.
func (a *CamarcApp) startCapture(ctx context.Context, g *errgroup.Group) error {
	overflow, err := frame.ParseOverflowPolicy(a.cfg.Capture.Overflow)
	if err != nil {
		return err
	}
	src, err := capture.NewFrameSourceFromConfig(ctx, a.cfg, a.directory, a.clock, a.logger)
	if err != nil {
		return fmt.Errorf("creating frame source: %w", err)
	}
	queue := frame.NewQueue(a.cfg.Capture.QueueSize, overflow)

	g.Go(func() error {
		defer queue.Close()
		if err := src.Run(ctx, queue); err != nil {
			return fmt.Errorf("frame source: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		_, err := a.service.RunCapture(ctx, queue)
		if dropped := queue.Dropped(); dropped > 0 {
			a.logger.Warn("frames dropped by ingestion queue", "dropped", dropped, "policy", string(overflow))
		}
		return err
	})
	return nil
}

// Close closes the database and the log file.
func (a *CamarcApp) Close() error {
	var firstErr error
	if err := a.db.Close(); err != nil {
		firstErr = fmt.Errorf("closing database: %w", err)
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}

// moveFile renames src to dst, copying when they are on different
// filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	err = writeFileAtomic(dst, func(w io.Writer) error {
		_, err := io.Copy(w, in)
		return err
	})
	if err != nil {
		return err
	}
	return os.Remove(src)
}

// writeFileAtomic writes to a temp file next to path and renames it into
// place once fill succeeds.
func writeFileAtomic(path string, fill func(w io.Writer) error) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".camarc-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if err := fill(tmp); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}
