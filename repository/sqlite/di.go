package sqlite

import (
	"context"
	"time"

	"github.com/nijaru/catchup/config"
	"github.com/nijaru/catchup/repository"
	"github.com/samber/do/v2"
)

const databaseInitTimeout = 15 * time.Second

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*DB, error) {
		c := do.MustInvoke[*config.Config](i)
		ctx, cancel := context.WithTimeout(context.Background(), databaseInitTimeout)
		defer cancel()

		db, err := Open(ctx, c.Database)
		if err != nil {
			return nil, err
		}
		if err := db.Ping(ctx); err != nil {
			db.Close()
			return nil, err
		}
		return db, nil
	})
	do.Provide(injector, func(i do.Injector) (repository.UsageRepository, error) {
		db, err := do.Invoke[*DB](i)
		if err != nil {
			return nil, err
		}
		return NewUsageRepository(db), nil
	})
}
