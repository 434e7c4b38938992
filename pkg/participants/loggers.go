package participants

import (
	"context"
	"fmt"

	"github.com/dd0wney/cluso-controlplane/pkg/controlerr"
	"github.com/dd0wney/cluso-controlplane/pkg/logging"
	"github.com/dd0wney/cluso-controlplane/pkg/validation"
)

// LoggerLevelsName is the resync participant name for logger levels
const LoggerLevelsName = "logger-levels"

type levelState struct {
	Level string `json:"level"`
}

// LoggerLevels applies stored component log levels to a LevelRegistry
type LoggerLevels struct {
	state[levelState]
	levels *logging.LevelRegistry
}

// NewLoggerLevels creates the logger level participant
func NewLoggerLevels(opts Options, levels *logging.LevelRegistry) *LoggerLevels {
	return &LoggerLevels{
		state:  newState[levelState](LoggerLevelsName, opts),
		levels: levels,
	}
}

// Name implements resync.Participant
func (l *LoggerLevels) Name() string { return LoggerLevelsName }

// SetLevel persists a component level and broadcasts it
func (l *LoggerLevels) SetLevel(ctx context.Context, component, level string) error {
	const op = "set log level"
	if err := validation.ValidateIdentifier("component", component); err != nil {
		return controlerr.Validation(op, err)
	}
	lvl, err := logging.ParseLevelStrict(level)
	if err != nil {
		return controlerr.Validation(op, err)
	}

	cur, ok, err := l.get(ctx, component)
	if err != nil {
		return err
	}
	if ok && cur.Level == lvl.String() {
		return controlerr.Precondition(op, fmt.Errorf("%w: %s already at %s", ErrUnchanged, component, lvl))
	}
	if err := l.put(ctx, component, levelState{Level: lvl.String()}); err != nil {
		return err
	}
	l.levels.Set(component, lvl)
	return nil
}

// ResetLevel drops a stored override so the component follows the root
// level again
func (l *LoggerLevels) ResetLevel(ctx context.Context, component string) error {
	removed, err := l.remove(ctx, component)
	if err != nil {
		return err
	}
	if !removed {
		return controlerr.Precondition("reset log level", fmt.Errorf("%w: %s has no override", ErrUnchanged, component))
	}
	l.levels.Reset(component)
	return nil
}

// Overrides returns the stored component levels
func (l *LoggerLevels) Overrides(ctx context.Context) (map[string]string, error) {
	all, err := l.all(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(all))
	for component, st := range all {
		out[component] = st.Level
	}
	return out, nil
}

// Resync reapplies one component, or every component when empty
func (l *LoggerLevels) Resync(ctx context.Context, component string) error {
	if component != "" {
		st, ok, err := l.get(ctx, component)
		if err != nil {
			return err
		}
		l.apply(component, st, ok)
		return nil
	}

	all, err := l.all(ctx)
	if err != nil {
		return err
	}
	for _, c := range l.levels.Components() {
		if _, ok := all[c]; !ok {
			l.levels.Reset(c)
		}
	}
	for _, c := range sortedKeys(all) {
		l.apply(c, all[c], true)
	}
	return nil
}

func (l *LoggerLevels) apply(component string, st levelState, ok bool) {
	if !ok {
		l.levels.Reset(component)
		return
	}
	lvl, err := logging.ParseLevelStrict(st.Level)
	if err != nil {
		l.logger.Warn("Ignoring stored log level", logging.String("target", component), logging.Error(err))
		return
	}
	if l.levels.Level(component) != lvl {
		l.levels.Set(component, lvl)
		l.logger.Info("Log level applied", logging.String("target", component), logging.String("level", lvl.String()))
	}
}
