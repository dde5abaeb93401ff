// Package repomanager hands out repositories bound to a database handle, so
// services can run the same repository code inside or outside a transaction.
package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/attendkeeper/internal/dbx"
	"github.com/dmitrijs2005/attendkeeper/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/attendkeeper/internal/server/repositories/rows"
	"github.com/dmitrijs2005/attendkeeper/internal/server/repositories/users"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	RefreshTokens(db dbx.DBTX) refreshtokens.Repository
	Rows(db dbx.DBTX) rows.Repository
}
