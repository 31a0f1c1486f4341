package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"regexp"
	"runtime"
	"syscall"
	"time"

	"github.com/mdouchement/logger"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dmytros/cursorbot/internal/bot"
	"github.com/dmytros/cursorbot/internal/config"
	"github.com/dmytros/cursorbot/internal/cursor"
	"github.com/dmytros/cursorbot/internal/scheduler"
	"github.com/dmytros/cursorbot/internal/store"
	"github.com/dmytros/cursorbot/internal/webserver"
)

var (
	version  = "dev"
	revision = "none"
	date     = "unknown"
)

func main() {
	c := &cobra.Command{
		Use:     "cursorbot",
		Short:   "Telegram bot for Cursor cloud agents",
		Version: fmt.Sprintf("%s - build %.7s @ %s - %s", version, revision, date, runtime.Version()),
		Args:    cobra.ExactArgs(0),
	}
	c.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Version for cursorbot",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Println(c.Version)
		},
	})
	c.AddCommand(initCmd)
	c.AddCommand(serveCmd)

	if err := c.Execute(); err != nil {
		log.Fatalf("%+v", err)
	}
}

var (
	initCmd = &cobra.Command{
		Use:   "init",
		Short: "Init the database",
		Args:  cobra.ExactArgs(0),
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			db, err := store.Open(cfg.DatabasePath)
			if err != nil {
				return err
			}
			defer db.Close()

			return db.InitSchema()
		},
	}

	//

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the bot",
		Args:  cobra.ExactArgs(0),
		RunE: func(c *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			//

			l := logrus.New()
			l.SetFormatter(&logger.LogrusTextFormatter{
				DisableColors:   false,
				ForceColors:     true,
				ForceFormatting: true,
				PrefixRE:        regexp.MustCompile(`^(\[.*?\])\s`),
				FullTimestamp:   true,
				TimestampFormat: "2006-01-02 15:04:05",
			})
			log := logger.WrapLogrus(l)

			//

			db, err := store.Open(cfg.DatabasePath)
			if err != nil {
				return errors.Wrap(err, "could not open database")
			}
			defer db.Close()

			if err := db.InitSchema(); err != nil {
				return errors.Wrap(err, "could not init database")
			}

			//

			client := cursor.NewClient(cfg.CursorAPIKey, cfg.APIBase, cfg.RepositoryURL, log.WithPrefix("[cursor]"))
			defer client.Close()

			tasks := cursor.NewTasks(client, cursor.WaitOptions{
				Timeout:      cfg.AgentWaitTimeout,
				PollInterval: cfg.AgentPollInterval,
			}, log.WithPrefix("[cursor]"))

			//

			scheduler.Start(scheduler.Controller{
				Logger:        log,
				Store:         db,
				Specification: "@every 1h",
				Retention:     72 * time.Hour,
			})

			//

			engine := webserver.EchoEngine(webserver.Controller{
				Version: c.Parent().Version,
				Logger:  log.WithPrefix("[webserver]"),
				Store:   db,
			})
			go func() {
				listen := fmt.Sprintf("%s:%s", cfg.HealthBinding, cfg.HealthPort)
				log.Infof("Ops server listening on %s", listen)
				if err := engine.Start(listen); err != nil && err != http.ErrServerClosed {
					log.Fatalf("Ops server: %v", err)
				}
			}()

			//

			b, err := bot.New(bot.Config{
				Token:        cfg.TelegramToken,
				OwnerID:      cfg.AllowedUserID,
				WaitTimeout:  cfg.AgentWaitTimeout,
				PollInterval: cfg.AgentPollInterval,
			}, db, client, tasks, log.WithPrefix("[bot]"))
			if err != nil {
				return errors.Wrap(err, "could not create bot")
			}

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				s := <-sig
				log.Infof("Received %s, shutting down", s)
				b.Stop()
				engine.Close()
			}()

			log.Infof("Bot @%s is running", b.Username())
			b.Start()
			return nil
		},
	}
)
