package crawler

import (
	"go.uber.org/zap"

	"github.com/avmeta/harvester/internal/browser"
	"github.com/avmeta/harvester/internal/common/config"
	"github.com/avmeta/harvester/internal/events"
	"github.com/avmeta/harvester/internal/webclient"
	"github.com/avmeta/harvester/pkg/types"
)

// Context carries everything a site crawler needs for one lookup.
type Context struct {
	LookupID string
	Input    types.LookupInput

	Client  *webclient.Client
	Browser *browser.Pool // nil when the pool is disabled
	Logger  *zap.Logger
	Events  events.Emitter
	Config  config.SitesConfig
}

// Emit sends a progress event; a nil emitter is fine.
func (c *Context) Emit(site types.Website, kind events.Kind, format string, args ...interface{}) {
	if c.Events == nil {
		return
	}
	c.Events.Emit(events.New(c.LookupID, c.Input.Number, site, kind, format, args...))
}

// Language returns the lookup language, falling back to the configured
// default.
func (c *Context) Language() string {
	if c.Input.Language != "" {
		return c.Input.Language
	}
	return c.Config.Language
}
