// Package store persists Greengrass discovery results, so that a device can connect to its core
// even when the discovery service is not reachable.
//
// There are three drivers: a local file system, AWS S3 and a postgres registry.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/relabs-tech/awsiot/iot/greengrass"
)

// ErrNotFound is returned by Load when nothing is stored for a thing
var ErrNotFound = errors.New("no discovery result stored")

// Driver defines the interface of a discovery store
type Driver interface {
	Save(ctx context.Context, thing string, data *greengrass.DiscoveryCallbackData) error
	// Load returns the stored result and the time it was saved
	Load(ctx context.Context, thing string) (*greengrass.DiscoveryCallbackData, time.Time, error)
	Delete(ctx context.Context, thing string) error
}

// DriverType represents the different type of drivers
type DriverType string

// DriverTypeLocal is the local filesystem driver
const DriverTypeLocal DriverType = "Local"

// DriverTypeAWSS3 is the AWS S3 driver
const DriverTypeAWSS3 DriverType = "AWSS3"

// DriverTypePostgres is the postgres registry driver
const DriverTypePostgres DriverType = "Postgres"

// None is used when no store is configured
const None DriverType = ""

// Configuration contains the configuration of the store
type Configuration struct {
	DriverType            DriverType
	LocalConfiguration    *LocalConfiguration
	S3Configuration       *S3Configuration
	PostgresConfiguration *PostgresConfiguration
}

// record is the stored document
type record struct {
	Thing   string                            `json:"thing"`
	SavedAt time.Time                         `json:"saved_at"`
	Data    *greengrass.DiscoveryCallbackData `json:"data"`
}

// New creates the driver selected by the configuration. It returns nil for None.
func New(ctx context.Context, config Configuration) (Driver, error) {
	switch config.DriverType {
	case None:
		return nil, nil
	case DriverTypeLocal:
		if config.LocalConfiguration == nil {
			return nil, fmt.Errorf("local configuration missing")
		}
		return NewLocalFilesystem(*config.LocalConfiguration)
	case DriverTypeAWSS3:
		if config.S3Configuration == nil {
			return nil, fmt.Errorf("S3 configuration missing")
		}
		return NewS3(ctx, *config.S3Configuration)
	case DriverTypePostgres:
		if config.PostgresConfiguration == nil {
			return nil, fmt.Errorf("postgres configuration missing")
		}
		return NewPostgres(ctx, *config.PostgresConfiguration)
	default:
		return nil, fmt.Errorf("unknown store driver %q", config.DriverType)
	}
}

func validThing(thing string) error {
	if thing == "" {
		return fmt.Errorf("thing name missing")
	}
	return nil
}
