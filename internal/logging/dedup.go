package logging

import (
	"sync"

	"go.uber.org/zap/zapcore"
)

// dedupCore drops a log entry if its message and logger name were the
// most recently emitted one. Sub-suite and environment-discovery poll
// loops log on every tick; without this, "environment status: PENDING"
// floods the output once every five seconds for the lifetime of a run.
type dedupCore struct {
	zapcore.Core
	mu   *sync.Mutex
	last *string
}

// Dedup wraps a core so that immediately-repeated (logger, message)
// pairs are suppressed. Ported from the dedup log filter this repo's
// originating implementation used around its own poll loops.
func Dedup(core zapcore.Core) zapcore.Core {
	return &dedupCore{Core: core, mu: &sync.Mutex{}, last: new(string)}
}

func (c *dedupCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *dedupCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	key := ent.LoggerName + "|" + ent.Message
	c.mu.Lock()
	isDup := *c.last == key
	*c.last = key
	c.mu.Unlock()
	if isDup {
		return nil
	}
	return c.Core.Write(ent, fields)
}

func (c *dedupCore) With(fields []zapcore.Field) zapcore.Core {
	return &dedupCore{Core: c.Core.With(fields), mu: c.mu, last: c.last}
}
