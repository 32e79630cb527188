package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jmoiron/sqlx"

	"github.com/voicegroup/purchasing/billing"
	"github.com/voicegroup/purchasing/history"
	"github.com/voicegroup/purchasing/query"
)

//go:embed schema.sql
var schema string

type pgStore struct {
	db *sqlx.DB
}

// NewInPostgres returns a history.Store over db, which must be opened with
// the pgx driver.
func NewInPostgres(db *sql.DB) history.Store {
	return &pgStore{
		db: sqlx.NewDb(db, "pgx"),
	}
}

// Migrate creates the history table if it does not exist.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply history schema: %w", err)
	}
	return nil
}

func (s *pgStore) reset() {
	_, err := s.db.ExecContext(context.Background(), `DELETE FROM `+historyTable)
	if err != nil {
		panic(err)
	}
}

func (s *pgStore) Record(ctx context.Context, record *billing.PurchaseHistoryRecord) error {
	if record.PurchaseToken == "" {
		return errors.New("purchase token is required")
	}

	q := `INSERT INTO ` + historyTable + `
		("purchaseToken", "account", "productIds", "productType", "quantity", "purchaseTime", "createdAt")
		VALUES (:purchaseToken, :account, :productIds, :productType, :quantity, :purchaseTime, :createdAt)`

	_, err := s.db.NamedExecContext(ctx, q, toHistoryModel(record))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return history.ErrExists
		}
		return err
	}
	return nil
}

func (s *pgStore) Get(ctx context.Context, purchaseToken string) (*billing.PurchaseHistoryRecord, error) {
	var m historyModel
	q := `SELECT "purchaseToken", "account", "productIds", "productType", "quantity", "purchaseTime", "createdAt"
		FROM ` + historyTable + ` WHERE "purchaseToken" = $1`

	err := s.db.GetContext(ctx, &m, q, purchaseToken)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, history.ErrNotFound
	} else if err != nil {
		return nil, err
	}

	return fromHistoryModel(&m), nil
}

func (s *pgStore) List(ctx context.Context, account string, productType billing.ProductType, opts ...query.Option) ([]*billing.PurchaseHistoryRecord, error) {
	options := history.ListOptions(opts...)

	var models []historyModel
	q := `SELECT "purchaseToken", "account", "productIds", "productType", "quantity", "purchaseTime", "createdAt"
		FROM ` + historyTable + `
		WHERE "account" = $1 AND "productType" = $2
		ORDER BY "purchaseTime" ` + options.Order.SQL() + `, "purchaseToken" ASC
		LIMIT $3`

	err := s.db.SelectContext(ctx, &models, q, account, string(productType), options.Limit)
	if err != nil {
		return nil, err
	}

	records := make([]*billing.PurchaseHistoryRecord, 0, len(models))
	for i := range models {
		records = append(records, fromHistoryModel(&models[i]))
	}
	return records, nil
}
