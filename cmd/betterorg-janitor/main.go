package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/betterorg/betterorg/pkg/billing"
	"github.com/betterorg/betterorg/pkg/config"
	"github.com/betterorg/betterorg/pkg/observability"
	"github.com/betterorg/betterorg/pkg/orgs"
	"github.com/betterorg/betterorg/pkg/storage"
)

var (
	invitationSchedule = flag.String("invitation-schedule", "0 * * * *", "Cron schedule for expired invitation cleanup (default: every hour)")
	lapsedSchedule     = flag.String("lapsed-schedule", "30 0 * * *", "Cron schedule for marking lapsed subscriptions expired (default: 00:30 UTC)")
	runOnce            = flag.Bool("run-once", false, "Run both jobs once and exit")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(observability.ParseLevel(cfg.Observability.LogLevel), os.Stdout)
	ctx := context.Background()

	db, err := storage.Open(ctx, cfg.Database)
	if err != nil {
		logger.WithError(err).Error("failed to connect to database")
		os.Exit(1)
	}
	defer db.Close()

	orgService := orgs.NewPostgresService(db)
	subscriptions := billing.NewSubscriptionStore(db)

	cleanupInvitations := func() {
		defer observability.RecoverPanic(logger, "invitation cleanup")
		removed, err := orgService.CleanupExpiredInvitations(context.Background())
		if err != nil {
			logger.WithError(err).Error("invitation cleanup failed")
			return
		}
		if removed > 0 {
			logger.WithField("removed", removed).Info("expired invitations removed")
		}
	}

	// Grace period before a lapsed subscription stops granting access:
	// webhooks normally deliver the terminal status first, this is the
	// backstop when they do not.
	expireLapsed := func() {
		defer observability.RecoverPanic(logger, "subscription expiry")
		cutoff := time.Now().UTC().Add(-24 * time.Hour)
		expired, err := subscriptions.ExpireLapsed(context.Background(), cutoff)
		if err != nil {
			logger.WithError(err).Error("subscription expiry failed")
			return
		}
		if expired > 0 {
			logger.WithField("expired", expired).Info("lapsed subscriptions marked expired")
		}
	}

	if *runOnce {
		cleanupInvitations()
		expireLapsed()
		logger.Info("janitor run complete")
		return
	}

	c := cron.New()
	if _, err := c.AddFunc(*invitationSchedule, cleanupInvitations); err != nil {
		logger.WithError(err).Error("failed to schedule invitation cleanup")
		os.Exit(1)
	}
	if _, err := c.AddFunc(*lapsedSchedule, expireLapsed); err != nil {
		logger.WithError(err).Error("failed to schedule subscription expiry")
		os.Exit(1)
	}

	c.Start()
	logger.WithField("invitation_schedule", *invitationSchedule).
		WithField("lapsed_schedule", *lapsedSchedule).
		Info("janitor started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	<-c.Stop().Done()
	logger.Info("janitor stopped")
}
