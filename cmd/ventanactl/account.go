package main

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/urfave/cli"
	"github.com/user/ventana-link/account"
	"github.com/user/ventana-link/store"
	"github.com/user/ventana-link/util"
)

// withAccounts opens the database and runs fn on its account store
func withAccounts(c *cli.Context, fn func(ctx context.Context, accounts *account.Store) error) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if err := util.EnsureDir(util.DataDir()); err != nil {
		return err
	}
	db, err := store.OpenMigrated(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(context.Background(), account.NewStore(db))
}

func credentials(c *cli.Context) (string, string, error) {
	if c.NArg() != 2 {
		return "", "", errors.New("usage: USERNAME PASSWORD")
	}
	return c.Args().Get(0), c.Args().Get(1), nil
}

func userRegister(c *cli.Context) error {
	username, password, err := credentials(c)
	if err != nil {
		return err
	}
	return withAccounts(c, func(ctx context.Context, accounts *account.Store) error {
		u, err := accounts.Register(ctx, username, password)
		if err != nil {
			return err
		}
		fmt.Printf("registered %s\n", u.Username)
		return nil
	})
}

func userLogin(c *cli.Context) error {
	username, password, err := credentials(c)
	if err != nil {
		return err
	}
	return withAccounts(c, func(ctx context.Context, accounts *account.Store) error {
		u, err := accounts.Login(ctx, username, password)
		if err != nil {
			return err
		}
		fmt.Printf("welcome %s\n", u.Username)
		return nil
	})
}

func userList(c *cli.Context) error {
	return withAccounts(c, func(ctx context.Context, accounts *account.Store) error {
		users, err := accounts.List(ctx)
		if err != nil {
			return err
		}
		for _, u := range users {
			fmt.Printf("%-20s %s\n", u.Username, u.CreatedAt.Format("2006-01-02 15:04"))
		}
		return nil
	})
}
