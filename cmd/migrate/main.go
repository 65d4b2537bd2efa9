// Package main is a small schema tool for the bot database.
//
// Usage:
//
//	migrate [--path file:///srv/migrations] up|down|version
//
// Without --path the migrations embedded in the bot are used. DB_DSN selects
// the database.
package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/onnwee/chatxp-bot/db"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))
	if err := run(os.Args[1:], os.Stdout); err != nil {
		slog.Error("migrate failed", slog.Any("error", err))
		os.Exit(1)
	}
}

var errUsage = errors.New("usage: migrate [--path URL] up|down|version")

func run(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	path := fs.String("path", "", "Migration source URL (default: embedded migrations)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errUsage
	}
	action := fs.Arg(0)
	switch action {
	case "up", "down", "version":
	default:
		return errUsage
	}

	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		return errors.New("DB_DSN environment variable is required")
	}
	database, err := db.Connect(dsn)
	if err != nil {
		return err
	}
	defer database.Close()
	return apply(database, action, *path, out)
}

func apply(database *sql.DB, action, path string, out io.Writer) error {
	switch action {
	case "up":
		if err := db.RunMigrationsFromPath(database, path); err != nil {
			return err
		}
	case "down":
		if path != "" {
			return errors.New("--path is not supported for down")
		}
		if err := db.MigrateDown(database); err != nil {
			return err
		}
	}
	version, dirty, err := db.GetMigrationVersion(database)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "version=%d dirty=%t\n", version, dirty)
	return err
}
