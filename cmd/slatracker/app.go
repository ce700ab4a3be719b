package main

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/ShapArt/outlook-exporter/internal/api/http/handlers"
	"github.com/ShapArt/outlook-exporter/internal/config"
	"github.com/ShapArt/outlook-exporter/internal/events"
	"github.com/ShapArt/outlook-exporter/internal/mail"
	"github.com/ShapArt/outlook-exporter/internal/observability"
	"github.com/ShapArt/outlook-exporter/internal/persistence"
	"github.com/ShapArt/outlook-exporter/internal/repository"
	"github.com/ShapArt/outlook-exporter/internal/repository/memory"
	"github.com/ShapArt/outlook-exporter/internal/repository/sqlite"
	"github.com/ShapArt/outlook-exporter/internal/service"
	"github.com/ShapArt/outlook-exporter/internal/spreadsheet"
	"github.com/ShapArt/outlook-exporter/internal/worker"
)

// application holds everything a command needs, built once per invocation.
type application struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *observability.Metrics
	tracker *service.Tracker
	lease   worker.Lease
	checks  map[string]handlers.PingFunc
	closers []func()
}

type stores struct {
	tickets   repository.TicketRepository
	events    repository.TicketEventRepository
	responses repository.VotingResponseRepository
}

func newApplication(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*application, error) {
	app := &application{
		cfg:     cfg,
		logger:  logger,
		metrics: observability.NewMetrics(),
		checks:  map[string]handlers.PingFunc{},
	}

	st, err := app.openStore(ctx)
	if err != nil {
		app.Close()
		return nil, err
	}

	calendar, err := cfg.Policy.Calendar()
	if err != nil {
		app.Close()
		return nil, err
	}
	table, err := cfg.Policy.SLATable()
	if err != nil {
		app.Close()
		return nil, err
	}

	dispatcher := events.NewInMemoryDispatcher()
	var forwarders []events.EventHandler
	if cfg.NATS.URL != "" {
		conn, err := nats.Connect(cfg.NATS.URL, nats.Name(cfg.App.Name))
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		forwarder := events.NewNATSForwarder(conn, cfg.NATS.SubjectPrefix)
		forwarders = append(forwarders, forwarder.Handle)
		app.closers = append(app.closers, func() { _ = forwarder.Close() })
		logger.Info("forwarding events to nats", zap.String("url", cfg.NATS.URL))
	}
	worker.StartNotificationWorker(dispatcher, logger, forwarders...)

	if rdb := persistence.NewRedis(cfg.Redis, logger); rdb != nil {
		app.closers = append(app.closers, rdb.Close)
		app.checks["redis"] = rdb.Ping
		app.lease = worker.NewRedisLease(rdb.Client, cfg.Scheduler.LeaseKey, cfg.Scheduler.LeaseTTL())
	}

	app.tracker = service.NewTracker(service.Dependencies{
		TicketRepo:   st.tickets,
		EventRepo:    st.events,
		ResponseRepo: st.responses,
		Dispatcher:   dispatcher,
		Calendar:     calendar,
		Table:        table,
		Policy:       cfg.Policy,
		Mailbox:      mail.NewSpoolMailbox(cfg.Mail.SpoolDir, logger),
		SenderFilter: mail.SenderFilter{Mode: cfg.Mail.SenderFilterMode, Value: cfg.Mail.SenderFilterValue},
		Sender:       mail.NewSMTPSender(cfg.Mail, logger),
		Spreadsheet: spreadsheet.NewWorkbook(spreadsheet.Config{
			Path:     cfg.Excel.Path,
			Password: cfg.Excel.Password,
			Sheet:    cfg.Excel.Sheet,
			Location: calendar.Location(),
		}, logger),
		Logger:  logger,
		Metrics: app.metrics,
	})
	return app, nil
}

func (a *application) openStore(ctx context.Context) (stores, error) {
	switch a.cfg.Store.Driver {
	case "postgres":
		pg, err := persistence.NewPostgres(ctx, a.cfg.Postgres, a.logger)
		if err != nil {
			return stores{}, err
		}
		a.closers = append(a.closers, pg.Close)
		a.checks["postgres"] = pg.Ping
		if a.cfg.Postgres.RunMigrations {
			if err := persistence.RunMigrations(ctx, pg.Pool, a.logger); err != nil {
				return stores{}, err
			}
		}
		return stores{
			tickets:   repository.NewTicketRepository(pg.Pool),
			events:    repository.NewTicketEventRepository(pg.Pool),
			responses: repository.NewVotingResponseRepository(pg.Pool),
		}, nil
	case "memory":
		a.logger.Warn("using the in-memory store, tickets are lost on exit")
		store := memory.NewStore()
		return stores{tickets: store.Tickets(), events: store.Events(), responses: store.Responses()}, nil
	default:
		db, err := persistence.NewSQLite(ctx, a.cfg.SQLite, a.logger)
		if err != nil {
			return stores{}, err
		}
		a.closers = append(a.closers, func() { persistence.CloseSQLite(db) })
		a.checks["sqlite"] = func(ctx context.Context) error { return persistence.PingSQLite(ctx, db) }
		store, err := sqlite.NewStore(db)
		if err != nil {
			return stores{}, err
		}
		return stores{tickets: store.Tickets(), events: store.Events(), responses: store.Responses()}, nil
	}
}

// Close releases connections in reverse order of opening.
func (a *application) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
