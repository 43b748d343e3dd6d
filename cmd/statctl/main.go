// main.go - Admin control tool for webstats
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"
	"gorm.io/gorm"

	"webstats/internal"
	"webstats/internal/retention"
	"webstats/internal/settings"
)

// Command defines the interface for all command implementations
type Command interface {
	// Name returns the command name
	Name() string
	// Description returns the command description
	Description() string
	// Execute runs the command with the given app and args
	Execute(ctx context.Context, app *internal.Application, args []string) error
}

// The set of available commands
var commands = []Command{
	&SetAdminTokenCommand{},
	&PurgeCommand{},
	&VerifyBackupCommand{},
	&RestoreCommand{},
	&StatusCommand{},
	&HelpCommand{},
}

func main() {
	flag.Parse()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sig := <-sigChan
		log.Printf("Received signal: %v, initiating cleanup...", sig)
		cancel()
	}()

	cmdName, args := parseArgs()

	cmd := findCommand(cmdName)
	if cmd == nil {
		showUsageAndExit()
	}

	app, err := internal.NewApp()
	if err != nil {
		log.Fatalf("Failed to initialize app: %v", err)
	}

	defer func() {
		if err := app.Shutdown(); err != nil {
			log.Printf("Warning: Cleanup error: %v", err)
		}
	}()

	if err := cmd.Execute(ctx, app, args); err != nil {
		log.Fatalf("Command failed: %v", err)
	}

	log.Printf("Command %s completed successfully", cmd.Name())
}

func parseArgs() (string, []string) {
	args := flag.Args()
	if len(args) == 0 {
		return "help", nil
	}
	return args[0], args[1:]
}

func findCommand(name string) Command {
	for _, cmd := range commands {
		if cmd.Name() == name {
			return cmd
		}
	}
	return nil
}

func showUsageAndExit() {
	fmt.Println("Unknown command")
	_ = (&HelpCommand{}).Execute(context.Background(), nil, nil)
	os.Exit(1)
}

// SetAdminTokenCommand provisions or rotates the admin API token.
type SetAdminTokenCommand struct{}

func (c *SetAdminTokenCommand) Name() string { return "set-admin-token" }

func (c *SetAdminTokenCommand) Description() string {
	return "Sets the bearer token protecting the admin API"
}

func (c *SetAdminTokenCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	var token string
	if len(args) >= 1 {
		token = args[0]
	} else {
		fmt.Print("Enter new admin token: ")
		raw, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			return fmt.Errorf("failed to read token: %w", err)
		}

		fmt.Print("Confirm admin token: ")
		confirm, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			return fmt.Errorf("failed to read token: %w", err)
		}

		if string(raw) != string(confirm) {
			return fmt.Errorf("tokens do not match")
		}
		token = string(raw)
	}

	if len(token) < 12 {
		return fmt.Errorf("token must be at least 12 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash token: %w", err)
	}

	db := app.DBManager.GetConnection()
	if err := settings.CreateOrUpdateSetting(db, settings.KeyAdminTokenHash, string(hash)); err != nil {
		return fmt.Errorf("failed to store token hash: %w", err)
	}

	fmt.Println("Admin token updated")
	return nil
}

// PurgeCommand runs the configured retention pass once.
type PurgeCommand struct{}

func (c *PurgeCommand) Name() string        { return "purge" }
func (c *PurgeCommand) Description() string { return "Runs the configured retention pass now" }

func (c *PurgeCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	maintainer := app.Scheduler.Maintainer()

	cutoff := maintainer.Cutoff(time.Now())
	log.Printf("Retention mode: %s, cutoff: %s", app.Config.RetentionMode, cutoff.Format("2006-01-02"))

	counts, err := maintainer.Run(time.Now())
	if err != nil {
		return fmt.Errorf("retention pass failed: %w", err)
	}

	if len(counts) == 0 {
		log.Println("Nothing to purge")
		return nil
	}
	for table, n := range counts {
		log.Printf("- %s: %d rows removed", table, n)
	}
	return nil
}

// VerifyBackupCommand checks one archive file's checksum.
type VerifyBackupCommand struct{}

func (c *VerifyBackupCommand) Name() string        { return "verify-backup" }
func (c *VerifyBackupCommand) Description() string { return "Verifies an archive file's checksum" }

func (c *VerifyBackupCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: %s <path>", c.Name())
	}

	doc, err := retention.ReadDocument(args[0])
	if err != nil {
		return fmt.Errorf("verification failed: %w", err)
	}

	fmt.Printf("OK  %s\n", args[0])
	fmt.Printf("    created: %s  cutoff: %s  checksum: %s\n",
		doc.Meta.CreatedAt.Format(time.RFC3339), doc.Meta.CutoffDate, doc.Checksum)
	return nil
}

// RestoreCommand loads an archive file back into the database.
type RestoreCommand struct{}

func (c *RestoreCommand) Name() string        { return "restore" }
func (c *RestoreCommand) Description() string { return "Restores an archive file into the database" }

func (c *RestoreCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: %s <path>", c.Name())
	}

	counts, err := app.Scheduler.Maintainer().Restore(args[0])
	if err != nil {
		return fmt.Errorf("restore failed: %w", err)
	}

	for table, n := range counts {
		log.Printf("- %s: %d rows restored", table, n)
	}
	return nil
}

// factCounts returns the row counts of the core fact tables. Any table
// failing to count fails the whole status report.
func factCounts(db *gorm.DB) (map[string]int64, error) {
	counts := make(map[string]int64)
	for _, table := range []string{"visitors", "sessions", "views"} {
		var n int64
		if err := db.Table(table).Count(&n).Error; err != nil {
			return nil, fmt.Errorf("database error counting %s: %w", table, err)
		}
		counts[table] = n
	}
	return counts, nil
}

// StatusCommand implements a command to check the system status
type StatusCommand struct{}

func (c *StatusCommand) Name() string        { return "status" }
func (c *StatusCommand) Description() string { return "Shows the current system status" }

func (c *StatusCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	db := app.DBManager.GetConnection()

	counts, err := factCounts(db)
	if err != nil {
		return err
	}

	log.Println("System Status:")
	log.Println("- Database: Connected")
	log.Printf("- Visitors: %d", counts["visitors"])
	log.Printf("- Sessions: %d", counts["sessions"])
	log.Printf("- Views: %d", counts["views"])
	log.Printf("- Retention mode: %s", app.Config.RetentionMode)
	log.Printf("- GeoIP database: available=%v", app.Geo.Available())

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get SQL DB: %w", err)
	}
	log.Printf("- Open Connections: %d", sqlDB.Stats().OpenConnections)

	return nil
}

// HelpCommand implements a command to show usage information
type HelpCommand struct{}

func (c *HelpCommand) Name() string        { return "help" }
func (c *HelpCommand) Description() string { return "Shows usage information" }

func (c *HelpCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	fmt.Println("Usage: statctl [command] [args...]")
	fmt.Println("Available commands:")

	for _, cmd := range commands {
		fmt.Printf("  %s: %s\n", cmd.Name(), cmd.Description())
	}

	return nil
}
