package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/accountd/internal/dbx"
	"github.com/dmitrijs2005/accountd/internal/server/repositories/tokens"
	"github.com/dmitrijs2005/accountd/internal/server/repositories/users"
)

// RepositoryManager hands out repositories bound to either the pool or a
// transaction, and owns schema migration.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	Tokens(db dbx.DBTX) tokens.Repository
}
