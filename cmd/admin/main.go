package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"reportbot/backend/internal/api/handler"
	"reportbot/backend/internal/config"
	"reportbot/backend/internal/identity"
	"reportbot/backend/internal/models"
	"reportbot/backend/internal/notify"
	"reportbot/backend/internal/otp"
	"reportbot/backend/internal/storage"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

const usage = `Usage: admin <command> [args]

Commands:
  migrate                    apply database migrations
  add-admin <id> <level>     grant superadmin, admin or moderator rights
  list-admins                list every admin
  stats                      print user, report and admin counts
  token <id> [hours]         issue an admin API token (default 24h)
  prune-otps                 delete expired one-time codes`

// errUsage makes main print the usage text.
var errUsage = errors.New("bad usage")

const cliActor = "cli"

func main() {
	_ = godotenv.Load()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = config.DefaultPath
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := run(context.Background(), cfg, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Println(usage)
			os.Exit(1)
		}
		log.Fatalf("Error: %v", err)
	}
}

func run(ctx context.Context, cfg *config.AppConfig, args []string, out io.Writer) error {
	if len(args) < 1 {
		return errUsage
	}

	db, err := storage.Open(cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("failed to connect database: %w", err)
	}
	defer func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}()
	storageSvc := storage.NewStorageService(db, nil) // No redis needed for admin CLI

	switch args[0] {
	case "migrate":
		dialect, err := storage.DetectDialect(cfg.DatabaseDSN)
		if err != nil {
			return err
		}
		if err := storage.Migrate(db); err != nil {
			return err
		}
		fmt.Fprintf(out, "Migrations applied (%s).\n", dialect)

	case "add-admin":
		if len(args) != 3 {
			return errUsage
		}
		id, err := parseID(args[1])
		if err != nil {
			return err
		}
		level, err := models.ParseAdminLevel(args[2])
		if err != nil {
			return err
		}
		resolver := identity.NewResolver(storageSvc, notify.NewNotifier(storageSvc))
		admin, err := resolver.AddAdmin(ctx, id, level, cliActor)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "User %d is now %s.\n", admin.PlatformID, admin.Level)

	case "list-admins":
		admins, err := storageSvc.ListAdmins(ctx)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tLEVEL\tADDED BY\tADDED AT")
		for _, a := range admins {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", a.PlatformID, a.Level, a.AddedBy, a.AddedAt.Format(time.RFC3339))
		}
		return w.Flush()

	case "stats":
		users, err := storageSvc.CountUsers(ctx)
		if err != nil {
			return err
		}
		reports, err := storageSvc.CountReports(ctx)
		if err != nil {
			return err
		}
		admins, err := storageSvc.CountAdmins(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Users: %d\nReports: %d\nAdmins: %d\n", users, reports, admins)

	case "token":
		if len(args) < 2 || len(args) > 3 {
			return errUsage
		}
		id, err := parseID(args[1])
		if err != nil {
			return err
		}
		hours := 24
		if len(args) == 3 {
			hours, err = strconv.Atoi(args[2])
			if err != nil || hours <= 0 {
				return fmt.Errorf("invalid duration %q: provide a positive number of hours", args[2])
			}
		}
		if _, err := storageSvc.GetAdmin(ctx, id); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("user %d is not an admin", id)
			}
			return err
		}
		token, err := handler.GenerateToken([]byte(cfg.JWTSecret), id, time.Duration(hours)*time.Hour)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, token)

	case "prune-otps":
		n, err := otp.NewManager(storageSvc, cfg.OTP.TTL).Prune(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Deleted %d expired codes.\n", n)

	default:
		return errUsage
	}
	return nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid user id %q", s)
	}
	return id, nil
}
