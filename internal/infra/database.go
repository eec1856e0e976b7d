package infra

import (
	"fmt"

	"nexopos/internal/model"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDatabase opens a GORM connection backed by pgx and brings the schema up
// to date. Safe to call on every boot.
func NewDatabase(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)

	if err := RunMigrations(db); err != nil {
		return nil, err
	}
	return db, nil
}

// RunMigrations creates the tables and applies the DDL AutoMigrate cannot
// express. Integration tests call it directly against their container.
func RunMigrations(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&model.StockRecord{},
		&model.StockMovement{},
		&model.StockReservation{},
		&model.Sale{},
		&model.SaleItem{},
		&model.SalePayment{},
		&model.CashRegisterSession{},
		&model.CashMovement{},
		&model.Sequence{},
		&model.Invoice{},
	); err != nil {
		return fmt.Errorf("AutoMigrate: %w", err)
	}
	if err := applySchemaPatches(db); err != nil {
		return fmt.Errorf("schema patches: %w", err)
	}
	return nil
}

// applySchemaPatches runs idempotent DDL: partial indexes, check constraints
// and composite uniques. Each statement is guarded so re-running is a no-op.
func applySchemaPatches(db *gorm.DB) error {
	patches := []struct{ descr, sql string }{
		// Sale numbers come from a sequence: unique and increasing per tenant,
		// gaps allowed, and no counter row for concurrent checkouts to queue on.
		{"sale number sequence", `CREATE SEQUENCE IF NOT EXISTS sale_number_seq`},
		// At most one OPEN or SUSPENDED session per user. OpenSession maps the
		// violation of this index to a state error when two opens race.
		{"one active session per user", `
CREATE UNIQUE INDEX IF NOT EXISTS idx_cash_sessions_active_user
    ON cash_register_sessions (tenant_id, user_id)
    WHERE status IN ('OPEN', 'SUSPENDED')`},
		{"session numbers unique per tenant", `
CREATE UNIQUE INDEX IF NOT EXISTS idx_cash_sessions_number
    ON cash_register_sessions (tenant_id, number)`},
		{"sale numbers unique per tenant", `
CREATE UNIQUE INDEX IF NOT EXISTS idx_sales_number
    ON sales (tenant_id, number)`},
		// The sweeper scans only live holds.
		{"active reservations by expiry", `
CREATE INDEX IF NOT EXISTS idx_stock_reservations_active_expiry
    ON stock_reservations (expires_at)
    WHERE status = 'ACTIVE'`},
		{"movements in ledger order", `
CREATE INDEX IF NOT EXISTS idx_stock_movements_record_created
    ON stock_movements (stock_record_id, created_at)`},
		{"invoice retry scan", `
CREATE INDEX IF NOT EXISTS idx_invoices_pending_retry
    ON invoices (next_retry_at)
    WHERE status = 'ERROR'`},
		{"stock row check constraints", `
DO $$ BEGIN
  IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = 'chk_stock_records_quantities') THEN
    ALTER TABLE stock_records
      ADD CONSTRAINT chk_stock_records_quantities
      CHECK (quantity >= 0 AND reserved_quantity >= 0);
  END IF;
END $$`},
		{"reservation quantity positive", `
DO $$ BEGIN
  IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = 'chk_stock_reservations_quantity') THEN
    ALTER TABLE stock_reservations
      ADD CONSTRAINT chk_stock_reservations_quantity CHECK (quantity > 0);
  END IF;
END $$`},
	}
	for _, p := range patches {
		if err := db.Exec(p.sql).Error; err != nil {
			return fmt.Errorf("patch %q: %w", p.descr, err)
		}
	}
	return nil
}
