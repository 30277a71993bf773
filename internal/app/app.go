// Package app initializes and runs the payroll daemon. It wires the
// ciphertext engine, the trust registry, the payroll engine and the
// confidential ledger, handles graceful shutdown and runs the keeper loop
// that releases matured delayed payments.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/veilpay/internal/audit"
	"github.com/dmitrijs2005/veilpay/internal/config"
	"github.com/dmitrijs2005/veilpay/internal/export"
	"github.com/dmitrijs2005/veilpay/internal/fhe"
	"github.com/dmitrijs2005/veilpay/internal/ledger"
	"github.com/dmitrijs2005/veilpay/internal/logging"
	"github.com/dmitrijs2005/veilpay/internal/payroll"
	"github.com/dmitrijs2005/veilpay/internal/repo"
	"github.com/dmitrijs2005/veilpay/internal/trust"
)

// EngineAccount is the ledger principal that holds the payroll funds.
const EngineAccount fhe.Principal = "payroll-engine"

type App struct {
	config   *config.Config
	logger   logging.Logger
	db       *sql.DB
	repos    repo.Manager
	engine   *fhe.DevEngine
	registry *trust.Registry
	payroll  *payroll.Service
	token    *ledger.ConfidentialToken
	export   *export.Service
}

func NewApp(c *config.Config) (*App, error) {

	logger := logging.NewDefault()

	db, err := sql.Open("pgx", c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}

	repos, err := repo.NewPostgresManager()
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	if err := repos.RunMigrations(context.Background(), db); err != nil {
		return nil, fmt.Errorf("migration error: %w", err)
	}

	engine := fhe.NewDevEngine([]byte(c.EnginePassphrase), []byte(c.EngineSalt))

	events := audit.RepoFactory(repos.Events)
	owner := fhe.Principal(c.OwnerAddress)
	employer := fhe.Principal(c.EmployerAddress)

	registry := trust.NewRegistry(db, repos, events, engine, owner, logger)
	token := ledger.NewConfidentialToken(engine, EngineAccount)
	service := payroll.NewService(db, repos, events, engine, registry, token, logger,
		owner, employer, EngineAccount)
	exporter := export.NewService(db, repos, c)

	return &App{
		config:   c,
		logger:   logger,
		db:       db,
		repos:    repos,
		engine:   engine,
		registry: registry,
		payroll:  service,
		token:    token,
		export:   exporter,
	}, nil
}

// Registry returns the trust registry collaborator.
func (app *App) Registry() *trust.Registry { return app.registry }

// Payroll returns the payroll engine.
func (app *App) Payroll() *payroll.Service { return app.payroll }

// Token returns the confidential ledger.
func (app *App) Token() *ledger.ConfidentialToken { return app.token }

// Export returns the report export service.
func (app *App) Export() *export.Service { return app.export }

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// runKeeper periodically releases delayed payments whose time lock has
// elapsed. Escrowed payments are skipped: those need the employer.
func (app *App) runKeeper(ctx context.Context) {
	ticker := time.NewTicker(app.config.KeeperInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			app.releaseMatured(ctx)
		}
	}
}

func (app *App) releaseMatured(ctx context.Context) {
	ids, err := app.payroll.GetReleasablePayments(ctx)
	if err != nil {
		app.logger.Error(ctx, err.Error())
		return
	}

	for _, id := range ids {
		p, err := app.payroll.GetPendingPayment(ctx, id)
		if err != nil {
			app.logger.Error(ctx, err.Error())
			continue
		}
		if p.Status != payroll.StatusDelayed {
			continue
		}
		if err := app.payroll.ReleasePayment(ctx, EngineAccount, id); err != nil {
			app.logger.Error(ctx, err.Error())
			continue
		}
		app.logger.Info(ctx, "released delayed payment", "payment", id)
	}
}

func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.runKeeper(ctx)
	}()

	wg.Wait()

	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, err.Error())
	}
}
