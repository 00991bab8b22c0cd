package warehouse

import (
	"database/sql"
	"fmt"

	"github.com/snowflakedb/gosnowflake"

	"github.com/vaultline/cashops/internal/domain"
)

// SnowflakeFields are the required config keys for a Snowflake-like
// warehouse connection: account, warehouse, database, schema.
type SnowflakeFields struct {
	Account   string
	User      string
	Password  string
	Warehouse string
	Database  string
	Schema    string
}

// OpenSnowflake opens a *sql.DB against a Snowflake account using the
// gosnowflake driver.
func OpenSnowflake(f SnowflakeFields) (*sql.DB, error) {
	cfg := &gosnowflake.Config{
		Account:   f.Account,
		User:      f.User,
		Password:  f.Password,
		Warehouse: f.Warehouse,
		Database:  f.Database,
		Schema:    f.Schema,
	}
	dsn, err := gosnowflake.DSN(cfg)
	if err != nil {
		return nil, &domain.InfrastructureError{Message: "build snowflake dsn", Cause: err}
	}
	db, err := sql.Open("snowflake", dsn)
	if err != nil {
		return nil, &domain.InfrastructureError{Message: "open snowflake connection", Cause: err}
	}
	return db, nil
}

// NewSnowflakeConnector validates the required config fields and opens
// a warehouse_sql Connector bound to the given query.
func NewSnowflakeConnector(f SnowflakeFields, query, locale string) (*Connector, error) {
	if f.Account == "" || f.Warehouse == "" || f.Database == "" || f.Schema == "" {
		return nil, &domain.InputError{Field: "config", Message: fmt.Sprintf(
			"snowflake config requires account, warehouse, database, schema (got account=%q warehouse=%q database=%q schema=%q)",
			f.Account, f.Warehouse, f.Database, f.Schema)}
	}
	db, err := OpenSnowflake(f)
	if err != nil {
		return nil, err
	}
	return New(db, Config{WarehouseType: "snowflake", Query: query}, locale), nil
}
