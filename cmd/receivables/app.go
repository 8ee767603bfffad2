package main

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/receivables/internal/audit"
	auditdomain "github.com/smallbiznis/receivables/internal/audit/domain"
	"github.com/smallbiznis/receivables/internal/auditcontext"
	"github.com/smallbiznis/receivables/internal/authorization"
	"github.com/smallbiznis/receivables/internal/clock"
	"github.com/smallbiznis/receivables/internal/config"
	"github.com/smallbiznis/receivables/internal/importer"
	"github.com/smallbiznis/receivables/internal/migration"
	"github.com/smallbiznis/receivables/internal/observability"
	"github.com/smallbiznis/receivables/internal/providers/pdf"
	"github.com/smallbiznis/receivables/internal/ratelimit"
	"github.com/smallbiznis/receivables/internal/receivable"
	"github.com/smallbiznis/receivables/internal/reconcile"
	"github.com/smallbiznis/receivables/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

const (
	startTimeout = 30 * time.Second
	stopTimeout  = 15 * time.Second
)

// ledgerModules is the graph shared by the server and the one-shot commands.
func ledgerModules() fx.Option {
	return fx.Options(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		audit.Module,
		authorization.Module,
		ratelimit.Module,
		pdf.Module,

		receivable.Module,
		importer.Module,
		reconcile.Module,
	)
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}

func fxLogger(log *zap.Logger) fxevent.Logger {
	return &fxevent.ZapLogger{Logger: log.Named("fx")}
}

// runOnce starts a short-lived app, runs fn and stops the app so queued
// activity is flushed before the process exits.
func runOnce(cmd *cobra.Command, fn func(ctx context.Context) error, opts ...fx.Option) error {
	app := fx.New(
		ledgerModules(),
		fx.Options(opts...),
		fx.NopLogger,
	)
	if err := app.Err(); err != nil {
		return err
	}

	startCtx, cancel := context.WithTimeout(cmd.Context(), startTimeout)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return err
	}

	runErr := fn(operatorContext(cmd))

	stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil && runErr == nil {
		return err
	}
	return runErr
}

// operatorContext tags ledger changes made from the command line.
func operatorContext(cmd *cobra.Command) context.Context {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	name, _ := cmd.Flags().GetString("actor")
	if name == "" {
		name = "cli"
	}
	ctx = auditcontext.WithActor(ctx, string(auditdomain.ActorTypeSystem), authorization.ActorSystem)
	ctx = auditcontext.WithActorName(ctx, name)
	return auditcontext.WithRole(ctx, authorization.RoleSystem)
}
