package storage

import (
	"github.com/nijaru/catchup/config"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*SpacesStager, error) {
		c := do.MustInvoke[*config.Config](i)
		return NewSpacesStager(c.Spaces)
	})
}
