package main

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"list39.org/internal/migrate"
	"list39.org/internal/store/sqlstore"
)

var flags = []cli.Flag{
	&cli.StringFlag{
		Name:    "store",
		Value:   "postgres",
		Usage:   "SQL backend: postgres or sqlite",
		EnvVars: []string{"LIST39_STORE"},
	},
	&cli.StringFlag{
		Name:    "dsn",
		Usage:   "PostgreSQL DSN",
		EnvVars: []string{"LIST39_PG_DSN"},
	},
	&cli.StringFlag{
		Name:    "sqlite-path",
		Value:   "list39.db",
		Usage:   "SQLite database file",
		EnvVars: []string{"LIST39_SQLITE_PATH"},
	},
	&cli.DurationFlag{
		Name:  "timeout",
		Value: 30 * time.Second,
		Usage: "Overall deadline for the command",
	},
}

func main() {
	log.SetFlags(0)
	app := &cli.App{
		Name:  "migrate",
		Usage: "manage the registry SQL schema",
		Flags: flags,
		Commands: []*cli.Command{
			{
				Name:  "up",
				Usage: "apply pending migrations",
				Action: withManager(func(ctx context.Context, mgr *migrate.Manager) error {
					return mgr.Up(ctx)
				}),
			},
			{
				Name:  "down",
				Usage: "roll back the most recent migration",
				Action: withManager(func(ctx context.Context, mgr *migrate.Manager) error {
					return mgr.Down(ctx)
				}),
			},
			{
				Name:  "status",
				Usage: "list applied migrations",
				Action: withManager(func(ctx context.Context, mgr *migrate.Manager) error {
					history, err := mgr.Status(ctx)
					if err != nil {
						return err
					}
					for _, item := range history {
						fmt.Println(item)
					}
					return nil
				}),
			},
			{
				Name:      "seed",
				Usage:     "apply SQL seed files from a directory",
				ArgsUsage: "<dir>",
				Action: func(cCtx *cli.Context) error {
					dir := cCtx.Args().First()
					if dir == "" {
						return cli.Exit("usage: migrate seed <dir>", 2)
					}
					return run(cCtx, os.DirFS(dir), func(ctx context.Context, mgr *migrate.Manager) error {
						return mgr.Seed(ctx)
					})
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func withManager(fn func(context.Context, *migrate.Manager) error) cli.ActionFunc {
	return func(cCtx *cli.Context) error {
		return run(cCtx, nil, fn)
	}
}

func run(cCtx *cli.Context, seeds fs.FS, fn func(context.Context, *migrate.Manager) error) error {
	var (
		dialect sqlstore.Dialect
		dsn     string
	)
	switch cCtx.String("store") {
	case "postgres":
		dialect, dsn = sqlstore.Postgres, cCtx.String("dsn")
		if dsn == "" {
			return cli.Exit("missing DSN: provide --dsn or LIST39_PG_DSN", 2)
		}
	case "sqlite":
		dialect, dsn = sqlstore.SQLite, cCtx.String("sqlite-path")
	default:
		return cli.Exit(fmt.Sprintf("store %q has no SQL schema", cCtx.String("store")), 2)
	}

	ctx, cancel := context.WithTimeout(cCtx.Context, cCtx.Duration("timeout"))
	defer cancel()

	store, err := sqlstore.Open(ctx, dialect, dsn)
	if err != nil {
		return err
	}
	defer store.Close()

	mgr, err := store.Migrator(seeds)
	if err != nil {
		return err
	}
	if err := fn(ctx, mgr); err != nil {
		return fmt.Errorf("migrate %s: %w", cCtx.Command.Name, err)
	}
	return nil
}
