package extractor

import (
	"github.com/nijaru/catchup/config"
	"github.com/nijaru/catchup/retry"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Extractor, error) {
		c := do.MustInvoke[*config.Config](i)
		return New(c.Extractor, do.MustInvoke[retry.Policy](i)), nil
	})
}
