package transcription

import (
	"github.com/nijaru/catchup/config"
	"github.com/nijaru/catchup/storage"
	"github.com/samber/do/v2"
)

// RegisterDI provides the AssemblyAI client. Audio is staged in Spaces when
// it is enabled and uploaded to AssemblyAI otherwise.
func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Client, error) {
		c := do.MustInvoke[*config.Config](i)
		if !c.Spaces.Enabled {
			return New(c.AssemblyAI, nil), nil
		}
		stager, err := do.Invoke[*storage.SpacesStager](i)
		if err != nil {
			return nil, err
		}
		return New(c.AssemblyAI, stager), nil
	})
}
