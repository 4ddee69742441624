package store

import (
	"context"
	"time"

	"github.com/relabs-tech/awsiot/core/csql"
	"github.com/relabs-tech/awsiot/core/registry"
	"github.com/relabs-tech/awsiot/iot/greengrass"
)

// PostgresConfiguration contains the configuration for the postgres driver
type PostgresConfiguration struct {
	DataSourceName string
	Schema         string
}

// Postgres stores discovery results in the registry of a postgres database
type Postgres struct {
	db       *csql.DB
	accessor registry.Accessor
}

// NewPostgres connects to the database and creates the registry if needed
func NewPostgres(ctx context.Context, config PostgresConfiguration) (*Postgres, error) {
	db, err := csql.OpenWithSchema(ctx, config.DataSourceName, config.Schema)
	if err != nil {
		return nil, err
	}
	p, err := NewPostgresWithDB(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return p, nil
}

// NewPostgresWithDB returns a postgres driver on an open database
func NewPostgresWithDB(ctx context.Context, db *csql.DB) (*Postgres, error) {
	reg, err := registry.New(ctx, db)
	if err != nil {
		return nil, err
	}
	return &Postgres{db: db, accessor: reg.Accessor("discovery")}, nil
}

// Save writes the discovery result of thing
func (p *Postgres) Save(ctx context.Context, thing string, data *greengrass.DiscoveryCallbackData) error {
	if err := validThing(thing); err != nil {
		return err
	}
	return p.accessor.Write(ctx, thing, data)
}

// Load reads the discovery result of thing
func (p *Postgres) Load(ctx context.Context, thing string) (*greengrass.DiscoveryCallbackData, time.Time, error) {
	if err := validThing(thing); err != nil {
		return nil, time.Time{}, err
	}
	var data greengrass.DiscoveryCallbackData
	savedAt, err := p.accessor.Read(ctx, thing, &data)
	if err != nil {
		return nil, time.Time{}, err
	}
	if savedAt.IsZero() {
		return nil, time.Time{}, ErrNotFound
	}
	return &data, savedAt, nil
}

// Delete deletes the discovery result of thing
func (p *Postgres) Delete(ctx context.Context, thing string) error {
	if err := validThing(thing); err != nil {
		return err
	}
	return p.accessor.Delete(ctx, thing)
}

// Close closes the database
func (p *Postgres) Close() error {
	return p.db.Close()
}
