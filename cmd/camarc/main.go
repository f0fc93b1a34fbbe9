package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"camarc/internal/app"
	"camarc/internal/camarc"
	"camarc/internal/config"
	"camarc/internal/database"
	"camarc/internal/database/migrations"
	"camarc/internal/encryption"
	"camarc/internal/progress"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// passphraseEnv lets scripts supply the key passphrase without a prompt.
const passphraseEnv = "CAMARC_PASSPHRASE"

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "loading .env: %v\n", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// readConfig resolves the config path from the environment and reads it.
func readConfig() (*config.Config, string, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, "", fmt.Errorf("getting defaults: %w", err)
	}
	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, "", fmt.Errorf("reading config: %w", err)
	}
	return cfg, defaults["config_path"], nil
}

// newApp reads the config and creates a CamarcApp. The caller must defer
// app.Close().
func newApp(cmd *cobra.Command, command string) (*app.CamarcApp, error) {
	cfg, _, err := readConfig()
	if err != nil {
		return nil, err
	}
	verbose, _ := cmd.Flags().GetBool("verbose")
	a, err := app.NewCamarcApp(cmd.Context(), cfg, command, app.Options{Verbose: verbose})
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// readPassphrase prompts on the terminal unless CAMARC_PASSPHRASE is set.
// With confirm, the passphrase must be typed twice.
func readPassphrase(prompt string, confirm bool) (string, error) {
	if p := os.Getenv(passphraseEnv); p != "" {
		return p, nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("no terminal for passphrase prompt; set %s", passphraseEnv)
	}

	fmt.Fprint(os.Stderr, prompt)
	first, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	if !confirm {
		return string(first), nil
	}

	fmt.Fprint(os.Stderr, "Confirm passphrase: ")
	second, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	if string(first) != string(second) {
		return "", fmt.Errorf("passphrases do not match")
	}
	return string(first), nil
}

var rootCmd = &cobra.Command{
	Use:          "camarc",
	Short:        "Camera photo archive",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		hostID := uuid.New().String()
		cfg := config.NewConfig(hostID, defaults["base_dir"])
		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Host ID: %s\n", hostID)
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := readConfig()
		if err != nil {
			return err
		}

		fmt.Printf("Configuration from %s:\n\n", path)
		fmt.Printf("Host ID:      %s\n", cfg.HostID)
		fmt.Printf("Base Dir:     %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:      %s\n", cfg.LogDir)
		fmt.Printf("Source:       %s\n", cfg.Source.Type)
		fmt.Printf("Capture:      every %d frame(s) at %dx%d, queue %d (%s)\n",
			cfg.Capture.Frequency, cfg.Capture.Width, cfg.Capture.Height, cfg.Capture.QueueSize, cfg.Capture.Overflow)
		fmt.Printf("Photo Store:  %s (%s)\n", cfg.PhotoStore.Name, cfg.PhotoStore.Type)
		fmt.Printf("Database:     %s\n", cfg.Database.Type)
		fmt.Printf("Archive Dir:  %s (encrypt=%t, on_fetch_error=%s)\n", cfg.Archive.WorkDir, cfg.Archive.Encrypt, cfg.Archive.OnFetchError)
		fmt.Printf("Listen:       %s\n", cfg.Server.Listen)
		return nil
	},
}

// keys command
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage archive encryption keys",
}

var keysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the archive key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := readConfig()
		if err != nil {
			return err
		}
		enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
		if err != nil {
			return err
		}
		if enc.IsConfigured() {
			return fmt.Errorf("keys already exist at %s", cfg.Encryption.PublicKeyPath)
		}

		passphrase, err := readPassphrase("New passphrase: ", true)
		if err != nil {
			return err
		}
		if err := enc.Setup(passphrase); err != nil {
			return fmt.Errorf("generating keys: %w", err)
		}
		fmt.Printf("Public key:  %s\n", cfg.Encryption.PublicKeyPath)
		fmt.Printf("Private key: %s (passphrase protected)\n", cfg.Encryption.PrivateKeyPath)
		return nil
	},
}

// db command
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the photo index database",
}

// openDB opens the configured database without the schema check.
func openDB() (*database.SQLiteDatabase, error) {
	cfg, _, err := readConfig()
	if err != nil {
		return nil, err
	}
	return database.OpenFromConfig(cfg.Database, cfg.HostID)
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.Migrate(); err != nil {
			return fmt.Errorf("migrating database: %w", err)
		}
		st, err := db.SchemaStatus()
		if err != nil {
			return err
		}
		fmt.Printf("Database %s at schema version %d\n", db.Path(), st.Current)
		return nil
	},
}

var dbStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the schema version",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		st, err := db.SchemaStatus()
		if errors.Is(err, migrations.ErrNoSchemaVersion) {
			fmt.Printf("Database %s is not migrated (latest version %d)\n", db.Path(), st.Latest)
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Printf("Database: %s\nCurrent:  %d\nLatest:   %d\nDirty:    %t\n", db.Path(), st.Current, st.Latest, st.Dirty)
		return nil
	},
}

var dbBackupCmd = &cobra.Command{
	Use:   "backup PATH",
	Short: "Write a consistent copy of the database",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.CheckMigrations(); err != nil {
			return fmt.Errorf("database schema out of date: %w", err)
		}
		if err := db.BackupTo(args[0]); err != nil {
			return err
		}
		fmt.Printf("Database copied to %s\n", args[0])
		return nil
	},
}

var dbSchemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		schema, err := db.Schema()
		if err != nil {
			return err
		}
		fmt.Print(schema)
		return nil
	},
}

// index command
var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Inspect the photo index",
}

var indexListCmd = &cobra.Command{
	Use:   "list [QUERY]",
	Short: "List photos matching a query",
	Long: `List photos matching a query such as "after 2024-01-01, before yesterday".
Clauses are comma separated; each starts with after, since, before, or preceding.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd, "IndexList")
		if err != nil {
			return err
		}
		defer a.Close()

		query := "after 1970-01-01"
		if len(args) > 0 {
			query = args[0]
		}
		records := a.Preview(query, limit)
		if len(records) == 0 {
			fmt.Println("No photos match.")
			return nil
		}
		for _, r := range records {
			fmt.Printf("%s  %s\n", camarc.FormatTimestamp(r.Timestamp), r.Reference)
		}
		return nil
	},
}

// archive command
var archiveCmd = &cobra.Command{
	Use:   "archive QUERY",
	Short: "Build a zip archive of the photos matching a query",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out, _ := cmd.Flags().GetString("output")

		a, err := newApp(cmd, "Archive")
		if err != nil {
			return err
		}
		defer a.Close()

		reporter := progress.NewMulti(
			progress.NewLogReporter(a.Logger(), camarc.UUIDGenerator{}),
			progress.NewTerminalReporter(os.Stdout),
		)
		archive, err := a.ExportArchive(cmd.Context(), args[0], out, reporter)
		if err != nil {
			return fmt.Errorf("archive failed: %w", err)
		}
		fmt.Printf("Wrote %s\n", archive.Path)
		return nil
	},
}

// decrypt command
var decryptCmd = &cobra.Command{
	Use:   "decrypt FILE",
	Short: "Decrypt an encrypted archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out, _ := cmd.Flags().GetString("output")

		a, err := newApp(cmd, "Decrypt")
		if err != nil {
			return err
		}
		defer a.Close()

		passphrase, err := readPassphrase("Passphrase: ", false)
		if err != nil {
			return err
		}
		if err := a.DecryptFile(passphrase, args[0], out); err != nil {
			return err
		}
		fmt.Printf("Decrypted to %s\n", out)
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View archive job history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd, "GetHistory")
		if err != nil {
			return err
		}
		defer a.Close()

		jobs, err := a.GetHistory(limit)
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			fmt.Println("No archive jobs recorded.")
			return nil
		}

		for _, j := range jobs {
			duration := ""
			if !j.FinishedAt.IsZero() {
				duration = j.FinishedAt.Sub(j.StartedAt).Truncate(time.Second).String()
			}
			fmt.Printf("%s  %s  %-9s  %d/%d  skipped:%d  %-6s  %q\n",
				shortID(j.ID),
				j.StartedAt.Format("2006-01-02 15:04:05"),
				j.Status,
				j.Completed,
				j.Total,
				j.Skipped,
				duration,
				j.Query,
			)
		}
		return nil
	},
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// devices command
var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List cameras from the directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "ListDevices")
		if err != nil {
			return err
		}
		defer a.Close()

		devices, err := a.ListDevices(cmd.Context())
		if err != nil {
			return err
		}
		if len(devices) == 0 {
			fmt.Println("No devices configured.")
			return nil
		}
		for _, d := range devices {
			fmt.Printf("%-20s  %s\n", d.Name, d.Address)
		}
		return nil
	},
}

// serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Capture photos and serve queries over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		noCapture, _ := cmd.Flags().GetBool("no-capture")

		a, err := newApp(cmd, "Serve")
		if err != nil {
			return err
		}
		defer a.Close()

		return a.Serve(cmd.Context(), !noCapture)
	},
}

// capture command
var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Capture photos without serving HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "Capture")
		if err != nil {
			return err
		}
		defer a.Close()

		return a.Capture(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")

	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// keys subcommands
	keysCmd.AddCommand(keysInitCmd)

	// db subcommands
	dbCmd.AddCommand(dbMigrateCmd)
	dbCmd.AddCommand(dbStatusCmd)
	dbCmd.AddCommand(dbBackupCmd)
	dbCmd.AddCommand(dbSchemaCmd)

	// index subcommands
	indexCmd.AddCommand(indexListCmd)
	indexListCmd.Flags().IntP("limit", "n", camarc.DefaultPreviewLimit, "Maximum number of photos to list")

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(archiveCmd)
	archiveCmd.Flags().StringP("output", "o", "", "Archive file to write")
	archiveCmd.MarkFlagRequired("output")
	rootCmd.AddCommand(decryptCmd)
	decryptCmd.Flags().StringP("output", "o", "", "Decrypted file to write")
	decryptCmd.MarkFlagRequired("output")
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of jobs to show")
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().Bool("no-capture", false, "Serve queries without capturing")
	rootCmd.AddCommand(captureCmd)
}
