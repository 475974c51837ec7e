package logging

import (
	"go.uber.org/zap/zapcore"
)

// newSampledCore gives each configured level its own sampler. Levels
// without a budget, and Error and above, pass through untouched.
func newSampledCore(core zapcore.Core, cfg SamplingConfig) zapcore.Core {
	if !cfg.Enabled || len(cfg.Levels) == 0 {
		return core
	}

	cores := make([]zapcore.Core, 0, 6)
	for lvl := TraceLevel; lvl <= zapcore.FatalLevel; lvl++ {
		budget, ok := cfg.Levels[lvl]
		only := &levelRangeCore{Core: core, min: lvl, max: lvl}
		if !ok || lvl >= zapcore.ErrorLevel {
			cores = append(cores, only)
			continue
		}
		cores = append(cores, zapcore.NewSamplerWithOptions(only, cfg.Tick.Duration(), budget.Initial, budget.Thereafter))
	}
	return zapcore.NewTee(cores...)
}

// levelRangeCore admits entries with min <= level <= max.
type levelRangeCore struct {
	zapcore.Core
	min, max zapcore.Level
}

func (c *levelRangeCore) Enabled(lvl zapcore.Level) bool {
	return lvl >= c.min && lvl <= c.max && c.Core.Enabled(lvl)
}

func (c *levelRangeCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.Enabled(e.Level) {
		return ce
	}
	return c.Core.Check(e, ce)
}

func (c *levelRangeCore) With(fields []zapcore.Field) zapcore.Core {
	return &levelRangeCore{Core: c.Core.With(fields), min: c.min, max: c.max}
}
