// Package cli implements the payrollctl operator tool: minting role tokens
// and exporting payroll-run reports to the object store.
package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/dmitrijs2005/veilpay/internal/auth"
	"github.com/dmitrijs2005/veilpay/internal/config"
	"github.com/dmitrijs2005/veilpay/internal/export"
	"github.com/dmitrijs2005/veilpay/internal/repo"
)

var ErrUsage = errors.New("cli: usage: payrollctl <token|report|report-url> ...")

type App struct {
	config *config.Config
	out    io.Writer
}

func NewApp(c *config.Config, out io.Writer) *App {
	return &App{config: c, out: out}
}

// Run dispatches one subcommand.
//
//	token <address> <role>   mint a role token (secret read from the terminal)
//	report <run-id>          build a run report and print it with an upload URL
//	report-url <key>         print a presigned download URL for a stored report
func (a *App) Run(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return ErrUsage
	}

	switch args[0] {
	case "token":
		return a.mintToken(args[1:])
	case "report":
		return a.exportReport(ctx, args[1:])
	case "report-url":
		return a.reportURL(ctx, args[1:])
	default:
		return ErrUsage
	}
}

func (a *App) mintToken(args []string) error {
	if len(args) != 2 {
		return ErrUsage
	}
	address, role := args[0], args[1]

	switch role {
	case auth.RoleOwner, auth.RoleEmployer, auth.RoleOracle, auth.RoleAuditor:
	default:
		return fmt.Errorf("cli: unknown role %q", role)
	}

	secret, err := GetSecret(a.out)
	if err != nil {
		return fmt.Errorf("cli: read secret: %w", err)
	}

	token, err := auth.GenerateToken(address, role, secret, a.config.TokenValidityDuration)
	if err != nil {
		return fmt.Errorf("cli: mint token: %w", err)
	}

	fmt.Fprintln(a.out, token)
	return nil
}

func (a *App) exportService() (*export.Service, *sql.DB, error) {
	db, err := sql.Open("pgx", a.config.DatabaseDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("cli: db open: %w", err)
	}

	repos, err := repo.NewPostgresManager()
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("cli: db init: %w", err)
	}

	return export.NewService(db, repos, a.config), db, nil
}

func (a *App) exportReport(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return ErrUsage
	}
	runID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("cli: invalid run id %q", args[0])
	}

	svc, db, err := a.exportService()
	if err != nil {
		return err
	}
	defer db.Close()

	report, err := svc.BuildReport(ctx, runID)
	if err != nil {
		return fmt.Errorf("cli: build report: %w", err)
	}

	data, err := export.MarshalReport(report)
	if err != nil {
		return err
	}

	key, url, err := svc.GetPresignedPutUrl(ctx, runID)
	if err != nil {
		return fmt.Errorf("cli: presign upload: %w", err)
	}

	fmt.Fprintln(a.out, string(data))
	fmt.Fprintf(a.out, "key: %s\nupload: %s\n", key, url)
	return nil
}

func (a *App) reportURL(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return ErrUsage
	}

	svc, db, err := a.exportService()
	if err != nil {
		return err
	}
	defer db.Close()

	url, err := svc.GetPresignedGetUrl(ctx, args[0])
	if err != nil {
		return fmt.Errorf("cli: presign download: %w", err)
	}

	fmt.Fprintln(a.out, url)
	return nil
}
