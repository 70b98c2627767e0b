// The reminder command is run by an external scheduler (cron, systemd timer).
// One invocation sends pending-approval reminders and optionally runs a
// failed-email retry sweep, then exits.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"backend/internal/config"
	"backend/internal/database"
	"backend/internal/mailer"
	"backend/internal/model"
	"backend/internal/repository"
	"backend/internal/service"
	"backend/pkg/logger"
)

const runTimeout = 5 * time.Minute

func main() {
	schedulePath := flag.String("schedule", "configs/email_schedule.json", "path to the email schedule file")
	flag.Parse()

	if err := godotenv.Load("configs/.env"); err != nil {
		log.Println("No configs/.env file found or error loading it")
	}

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("FATAL: load config: %v", err)
	}

	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		log.Fatalf("FATAL: init logger: %v", err)
	}
	defer logger.Sync()

	sched, err := config.LoadEmailSchedule(*schedulePath)
	if err != nil {
		logger.Error("failed to load email schedule", zap.Error(err))
		os.Exit(1)
	}

	db, err := database.NewConnection(cfg.Database.DSN())
	if err != nil {
		logger.Error("failed to connect to database", zap.Error(err))
		os.Exit(1)
	}

	userRepo := repository.NewUserRepository(db)
	directoryRepo := repository.NewDirectoryRepository(db)
	requisitionRepo := repository.NewRequisitionRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)

	mail := mailer.NewSMTPMailer(cfg.SMTP)
	resolver := service.NewApproverResolver(directoryRepo, cfg.Approval.Policy, cfg.Approval.FallbackContact)

	// No websocket hub here; pushes are skipped, notification rows still land.
	notificationService, err := service.NewNotificationService(
		notificationRepo, userRepo, directoryRepo, mail, nil, cfg.Dispatch.PoolSize)
	if err != nil {
		logger.Error("failed to start notification dispatcher", zap.Error(err))
		os.Exit(1)
	}
	defer notificationService.Close()

	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	now := time.Now().In(sched.Location())
	cutoff := now.Add(-time.Duration(sched.PendingOlderThanHours) * time.Hour)

	pending, err := requisitionRepo.ListPendingOlderThan(ctx, cutoff)
	if err != nil {
		logger.Error("failed to list pending requisitions", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("reminder run starting",
		zap.Int("pending", len(pending)),
		zap.Time("cutoff", cutoff),
	)

	// Reminders are deduplicated per approver and requisition within one run;
	// an approver covering several requesters still gets one email each.
	sent := 0
	for _, req := range pending {
		if req.Requester == nil {
			continue
		}
		approvers, err := resolver.Resolve(ctx, req.Requester.EmployeeID)
		if err != nil {
			logger.Warn("cannot resolve approvers for reminder",
				zap.String("requisition_id", req.ID.String()),
				zap.Error(err),
			)
			continue
		}

		days := int(now.Sub(req.CreatedAt).Hours() / 24)
		tctx := service.TemplateContext{
			RequisitionID: req.ID.String(),
			RequesterName: req.Requester.DisplayName,
			TotalAmount:   req.TotalAmount.StringFixed(2),
			PendingDays:   days,
		}
		for _, approver := range approvers {
			// Synchronous send: the command must not exit before delivery.
			if err := notificationService.Notify(ctx, approver.EmployeeID, model.NotifKindReminder, tctx); err != nil {
				logger.Warn("reminder delivery failed",
					zap.String("recipient", approver.EmployeeID),
					zap.Error(err),
				)
				continue
			}
			sent++
		}
	}
	logger.Info("reminders sent", zap.Int("count", sent))

	if sched.IncludeRetrySweep {
		summary, err := notificationService.RetryFailed(ctx, cfg.Dispatch.MaxAttempts)
		if err != nil {
			logger.Error("retry sweep failed", zap.Error(err))
			os.Exit(1)
		}
		logger.Info("retry sweep done",
			zap.Int("attempted", summary.Attempted),
			zap.Int("succeeded", summary.Succeeded),
			zap.Int("failed", summary.Failed),
			zap.Int("dead", summary.Dead),
		)
	}
}
