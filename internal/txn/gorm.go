package txn

import (
	"context"
	"database/sql"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// OpenGorm wraps an existing pool so gorm-backed stores share its
// connections with the database/sql stores.
func OpenGorm(db *sql.DB) (*gorm.DB, error) {
	return gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
}

// Gorm returns g bound to ctx. Inside a SQLRunner unit of work the
// statement runs on the open transaction.
func Gorm(ctx context.Context, g *gorm.DB) *gorm.DB {
	db := g.WithContext(ctx)
	if tx := TxFromContext(ctx); tx != nil {
		db.Statement.ConnPool = tx
	}
	return db
}
