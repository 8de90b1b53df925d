package main

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli"
	"github.com/user/ventana-link/netprobe"
	"github.com/user/ventana-link/report"
	"github.com/user/ventana-link/store"
	"github.com/user/ventana-link/syncstore"
	"github.com/user/ventana-link/util"
)

func openMirror(c *cli.Context) (*syncstore.SQLite, *store.DB, string, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, nil, "", err
	}
	db, err := store.OpenMigrated(cfg.DatabasePath)
	if err != nil {
		return nil, nil, "", err
	}
	return syncstore.NewSQLite(db), db, cfg.RemoteURL, nil
}

func syncStatus(c *cli.Context) error {
	mirror, db, _, err := openMirror(c)
	if err != nil {
		return err
	}
	defer db.Close()

	entries, err := mirror.All(context.Background())
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("mirror is empty")
	}
	for _, e := range entries {
		state := "synced"
		if !e.Synced {
			state = "pending"
		}
		fmt.Printf("%-16s %-8s %s  %s\n", e.Key, e.Value, e.UpdatedAt.Format(time.RFC3339), state)
	}
	return nil
}

func syncPush(c *cli.Context) error {
	mirror, db, remoteURL, err := openMirror(c)
	if err != nil {
		return err
	}
	defer db.Close()
	if v := c.String("remote"); v != "" {
		remoteURL = v
	}
	if remoteURL == "" {
		return errors.New("no remote; use --remote or VENTANA_REMOTE_URL")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	rep := syncstore.NewReplicator(mirror, syncstore.NewHTTPRemote(remoteURL), netprobe.New(""), 0)
	n, err := rep.SyncOnce(ctx)
	fmt.Printf("pushed %d entries\n", n)
	return err
}

func writeReport(c *cli.Context) error {
	if _, err := loadConfig(c); err != nil {
		return err
	}
	_, err := report.Generate(util.DataDir())
	return err
}
