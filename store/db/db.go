// Package db provides the database driver factory.
package db

import (
	"github.com/pkg/errors"

	"github.com/tinychat/tinychat/internal/profile"
	"github.com/tinychat/tinychat/store"
	"github.com/tinychat/tinychat/store/db/postgres"
	"github.com/tinychat/tinychat/store/db/sqlite"
)

// NewDriver creates a new store driver based on the profile.
func NewDriver(profile *profile.Profile) (store.Driver, error) {
	switch profile.Driver {
	case "sqlite":
		return sqlite.NewDB(profile)
	case "postgres":
		return postgres.NewDB(profile)
	default:
		return nil, errors.Errorf("unknown db driver %q", profile.Driver)
	}
}
