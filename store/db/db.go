// Package db resolves the configured relational driver.
package db

import (
	"github.com/pkg/errors"

	"github.com/parasol-ai/parasol/internal/profile"
	"github.com/parasol-ai/parasol/store"
	"github.com/parasol-ai/parasol/store/db/mysql"
	"github.com/parasol-ai/parasol/store/db/postgres"
	"github.com/parasol-ai/parasol/store/db/sqlite"
)

// NewDBDriver creates a store driver based on the profile.
func NewDBDriver(profile *profile.Profile) (store.Driver, error) {
	var driver store.Driver
	var err error

	switch profile.Driver {
	case "sqlite":
		driver, err = sqlite.NewDB(profile)
	case "mysql":
		driver, err = mysql.NewDB(profile)
	case "postgres":
		driver, err = postgres.NewDB(profile)
	default:
		return nil, errors.Errorf("unknown db driver %q", profile.Driver)
	}
	if err != nil {
		return nil, errors.Wrap(err, "create db driver")
	}
	return driver, nil
}
