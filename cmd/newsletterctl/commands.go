package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/unclebandit/newsletter-service/internal/app"
	"github.com/unclebandit/newsletter-service/internal/config"
	"github.com/unclebandit/newsletter-service/internal/db"
	"github.com/unclebandit/newsletter-service/internal/logger"
	"github.com/unclebandit/newsletter-service/internal/queue"
)

type cfgKey struct{}

func newApp() *cli.App {
	return &cli.App{
		Name:  "newsletterctl",
		Usage: "administer the Postmark newsletter module",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config.yaml",
				EnvVars: []string{"CONFIG_PATH"},
				Usage:   "path to the YAML config file",
			},
		},
		Before: func(c *cli.Context) error {
			cfg, err := config.Load(c.String("config"))
			if err != nil {
				return err
			}
			if _, err := logger.Init(cfg.Logger); err != nil {
				return err
			}
			c.Context = context.WithValue(c.Context, cfgKey{}, cfg)
			return nil
		},
		After: func(c *cli.Context) error {
			logger.Sync()
			return nil
		},
		Commands: []*cli.Command{
			installCommand(),
			uninstallCommand(),
			seedCommand(),
			createCommand(),
			dispatchCommand(),
			testConnectionCommand(),
			testEmailCommand(),
		},
	}
}

func configFrom(c *cli.Context) *config.Config {
	if cfg, ok := c.Context.Value(cfgKey{}).(*config.Config); ok {
		return cfg
	}
	return config.Default()
}

// withApp opens the database for the duration of fn.
func withApp(c *cli.Context, fn func(a *app.App) error) error {
	a, err := app.Open(c.Context, configFrom(c))
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func installCommand() *cli.Command {
	return &cli.Command{
		Name:  "install",
		Usage: "create the module tables and write the default settings",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "host-tables", Usage: "also create minimal customer and configuration tables (development only)"},
		},
		Action: func(c *cli.Context) error {
			return withApp(c, func(a *app.App) error {
				if c.Bool("host-tables") {
					if err := db.InstallHostTables(c.Context, a.DB, a.Tables); err != nil {
						return err
					}
				}
				if err := db.Install(c.Context, a.DB, a.Tables); err != nil {
					return err
				}
				if err := a.Settings.Install(c.Context); err != nil {
					return err
				}
				fmt.Println("Module installed with prefix", a.Tables.Prefix)
				return nil
			})
		},
	}
}

func uninstallCommand() *cli.Command {
	return &cli.Command{
		Name:  "uninstall",
		Usage: "drop the module tables and delete its settings",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "yes", Usage: "confirm that bounce history and delivery logs are deleted"},
		},
		Action: func(c *cli.Context) error {
			if !c.Bool("yes") {
				return cli.Exit("uninstall deletes every bounce and log row; rerun with --yes", 2)
			}
			return withApp(c, func(a *app.App) error {
				if err := db.Uninstall(c.Context, a.DB, a.Tables); err != nil {
					return err
				}
				if err := a.Settings.Uninstall(c.Context); err != nil {
					return err
				}
				fmt.Println("Module uninstalled")
				return nil
			})
		},
	}
}

func seedCommand() *cli.Command {
	return &cli.Command{
		Name:  "seed",
		Usage: "insert sample subscribers and run optional SQL seed files",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "customers", Value: 10, Usage: "number of opted-in sample customers"},
			&cli.StringSliceFlag{Name: "file", Usage: "SQL file to execute after seeding customers"},
		},
		Action: func(c *cli.Context) error {
			return withApp(c, func(a *app.App) error {
				n, err := db.SeedCustomers(c.Context, a.DB, a.Tables, c.Int("customers"))
				if err != nil {
					return err
				}
				fmt.Printf("Seeded %d customers\n", n)

				for _, file := range c.StringSlice("file") {
					if err := db.ExecFile(c.Context, a.DB, file); err != nil {
						return err
					}
					fmt.Printf("Seeded: %s\n", file)
				}
				return nil
			})
		},
	}
}

func createCommand() *cli.Command {
	return &cli.Command{
		Name:  "create",
		Usage: "store a newsletter as a draft, or scheduled with --at",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "subject", Required: true},
			&cli.StringFlag{Name: "html-file", Required: true, Usage: "file holding the HTML body"},
			&cli.TimestampFlag{Name: "at", Layout: time.RFC3339, Usage: "send time (RFC 3339)"},
		},
		Action: func(c *cli.Context) error {
			body, err := os.ReadFile(c.String("html-file"))
			if err != nil {
				return err
			}
			return withApp(c, func(a *app.App) error {
				n, err := a.Newsletters.CreateNewsletter(c.Context, c.String("subject"), string(body), c.Timestamp("at"))
				if err != nil {
					return err
				}
				return printJSON(n)
			})
		},
	}
}

func dispatchCommand() *cli.Command {
	return &cli.Command{
		Name:  "dispatch",
		Usage: "send a stored newsletter to every eligible subscriber",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "newsletter", Aliases: []string{"n"}, Required: true},
			&cli.BoolFlag{Name: "queue", Usage: "publish a trigger for the worker instead of sending here"},
		},
		Action: func(c *cli.Context) error {
			id := c.Int("newsletter")
			cfg := configFrom(c)

			if c.Bool("queue") {
				if cfg.AMQP.URL == "" {
					return cli.Exit("--queue needs amqp.url (RABBITMQ_URL)", 2)
				}
				q, err := queue.Dial(cfg.AMQP)
				if err != nil {
					return err
				}
				defer q.Close()
				if err := q.Enqueue(c.Context, id, "newsletterctl"); err != nil {
					return err
				}
				fmt.Printf("Queued dispatch of newsletter %d\n", id)
				return nil
			}

			return withApp(c, func(a *app.App) error {
				res, err := a.Dispatcher.SendNewsletter(c.Context, id)
				if err != nil {
					return err
				}
				return printJSON(res)
			})
		},
	}
}

func testConnectionCommand() *cli.Command {
	return &cli.Command{
		Name:  "test-connection",
		Usage: "check the configured Postmark server token",
		Action: func(c *cli.Context) error {
			return withApp(c, func(a *app.App) error {
				if err := a.Newsletters.TestConnection(c.Context); err != nil {
					return err
				}
				fmt.Println("Connection to Postmark successful")
				return nil
			})
		},
	}
}

func testEmailCommand() *cli.Command {
	return &cli.Command{
		Name:  "test-email",
		Usage: "send the test newsletter to one address",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "to", Required: true},
		},
		Action: func(c *cli.Context) error {
			return withApp(c, func(a *app.App) error {
				messageID, err := a.Newsletters.SendTestEmail(c.Context, c.String("to"))
				if err != nil {
					return err
				}
				fmt.Println("Test email sent, message id", messageID)
				return nil
			})
		},
	}
}
