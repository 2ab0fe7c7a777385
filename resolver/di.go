package resolver

import (
	"github.com/nijaru/catchup/config"
	"github.com/nijaru/catchup/models"
	"github.com/nijaru/catchup/retry"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Resolver, error) {
		c := do.MustInvoke[*config.Config](i)
		policy := do.MustInvoke[retry.Policy](i)
		return New(c.Pipeline.MaxDurationMinutes, map[models.Platform]Catalog{
			models.PlatformTwitch:  NewTwitchCatalog(c.Twitch, policy),
			models.PlatformYouTube: NewYouTubeCatalog(c.YouTube, c.Extractor.UserAgent, policy),
			models.PlatformKick:    NewKickCatalog(c.Kick, c.Extractor.UserAgent, policy),
		}), nil
	})
}
