// Package usertool implements a small administrative CLI that creates
// accounts directly in the database, bypassing the HTTP API. Useful for
// bootstrapping the first user of a fresh deployment.
package usertool

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"io"

	"github.com/dmitrijs2005/accountd/internal/server/config"
	"github.com/dmitrijs2005/accountd/internal/server/models"
	"github.com/dmitrijs2005/accountd/internal/server/repositories/repomanager"
	"golang.org/x/crypto/bcrypt"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type App struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	in          *bufio.Reader
	out         io.Writer
}

func NewApp(cfg *config.Config, in *bufio.Reader, out io.Writer) (*App, error) {
	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	return &App{
		db:          db,
		repomanager: repomanager.NewPostgresRepositoryManager(),
		in:          in,
		out:         out,
	}, nil
}

func (a *App) Close() error {
	return a.db.Close()
}

// CreateUser prompts for account details and inserts the user row.
func (a *App) CreateUser(ctx context.Context) error {
	name, err := GetSimpleText(a.in, "Enter name", a.out)
	if err != nil {
		return err
	}
	email, err := GetSimpleText(a.in, "Enter email", a.out)
	if err != nil {
		return err
	}

	password, err := GetPassword(a.out)
	if err != nil {
		return err
	}
	if password == "" {
		return fmt.Errorf("password must not be empty")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	user := &models.User{Name: name, Email: email, PasswordHash: string(hash)}

	created, err := a.repomanager.Users(a.db).Create(ctx, user)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "created user id=%s\n", created.ID)
	return nil
}

// ListUsers prints every account, one per line.
func (a *App) ListUsers(ctx context.Context) error {
	list, err := a.repomanager.Users(a.db).List(ctx)
	if err != nil {
		return err
	}
	for _, u := range list {
		fmt.Fprintf(a.out, "%s\t%s\t%s\n", u.ID, u.Name, u.Email)
	}
	return nil
}
