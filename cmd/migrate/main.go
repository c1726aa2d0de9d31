package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/confops/pkg/config"
	"github.com/angelmondragon/confops/pkg/db"
	"github.com/angelmondragon/confops/pkg/logger"
	"github.com/angelmondragon/confops/pkg/migrate"
)

func main() {
	_ = godotenv.Load()

	cmd := flag.String("cmd", "up", "up|down|status|to|create|lint")
	name := flag.String("name", "", "migration name for -cmd=create")
	version := flag.String("version", "", "target YYYYMMDDHHMMSS for -cmd=to")
	dir := flag.String("dir", migrate.Dir, "directory -cmd=create writes to and -cmd=lint reads")
	flag.Parse()

	// Offline commands work on files and skip config entirely.
	switch *cmd {
	case "create":
		if *name == "" {
			exit("missing -name")
		}
		path, err := migrate.Scaffold(*dir, *name, time.Now())
		if err != nil {
			exit(err.Error())
		}
		fmt.Println("created", path)
		return
	case "lint":
		if err := migrate.Lint(os.DirFS(*dir)); err != nil {
			exit(err.Error())
		}
		fmt.Println("migrations ok")
		return
	}

	cfg, err := config.Load()
	if err != nil {
		exit("config: " + err.Error())
	}
	logg := logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx := logg.WithFields(context.Background(), map[string]any{"env": cfg.App.Env, "cmd": *cmd})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer dbClient.Close()
	if dbClient.Driver() != db.DriverPostgres {
		exit("goose migrations target postgres; sqlite schemas are applied on boot")
	}

	sqlDB, err := dbClient.DB().DB()
	requireResource(ctx, logg, "sql handle", err)
	migrator, err := migrate.New(sqlDB, nil)
	requireResource(ctx, logg, "migrator", err)

	var applied []migrate.Applied
	switch *cmd {
	case "up":
		applied, err = migrator.Up(ctx)
	case "down":
		applied, err = migrator.Down(ctx)
	case "to":
		if *version == "" {
			exit("missing -version")
		}
		applied, err = migrator.To(ctx, *version)
	case "status":
		rows, statusErr := migrator.Status(ctx)
		requireResource(ctx, logg, "status", statusErr)
		printStatus(rows)
		return
	default:
		exit("unknown -cmd " + *cmd)
	}

	for _, a := range applied {
		fmt.Printf("%-4s %s (%s)\n", a.Direction, a.Path, a.Duration.Round(time.Microsecond))
	}
	if err != nil {
		logg.Error(ctx, "migration failed", err)
		os.Exit(1)
	}
	logg.Info(logg.WithField(ctx, "applied", len(applied)), "migrations finished")
}

func printStatus(rows []migrate.Status) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tAPPLIED AT\tFILE")
	for _, row := range rows {
		at := "pending"
		if row.Applied {
			at = row.AppliedAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\n", row.Version, at, row.Path)
	}
	_ = w.Flush()
}

func exit(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, "resource not working: "+resource, err)
	os.Exit(1)
}
