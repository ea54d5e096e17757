package logging

import "sync"

var globalLoggerRegistry = newRegistry()

// Registry tracks named loggers so that level patterns reach loggers created before and after
// the patterns are loaded.
type Registry struct {
	mu      sync.RWMutex
	loggers map[string]Logger
	rules   []levelRule
}

func newRegistry() *Registry {
	return &Registry{loggers: make(map[string]Logger)}
}

func (lr *Registry) registerLogger(name string, logger Logger) {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	lr.loggers[name] = logger
}

func (lr *Registry) loggerNamed(name string) (Logger, bool) {
	lr.mu.RLock()
	defer lr.mu.RUnlock()
	logger, ok := lr.loggers[name]
	return logger, ok
}

// UpdateConfig replaces the level patterns and applies them to every registered logger. Loggers
// no pattern matches keep their level.
func (lr *Registry) UpdateConfig(logConfig []LoggerPatternConfig) error {
	rules, err := compileLevelRules(logConfig)
	if err != nil {
		return err
	}

	lr.mu.Lock()
	defer lr.mu.Unlock()
	lr.rules = rules
	for name, logger := range lr.loggers {
		if level, ok := levelFor(rules, name); ok {
			logger.SetLevel(level)
		}
	}
	return nil
}

// registerConfigured registers the logger under name, replacing any previous logger of that
// name, and applies the current patterns to it.
func (lr *Registry) registerConfigured(name string, logger Logger) {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	lr.loggers[name] = logger
	if level, ok := levelFor(lr.rules, name); ok {
		logger.SetLevel(level)
	}
}

// UpdateLoggerLevels applies level patterns to all current and future named loggers.
func UpdateLoggerLevels(logConfig []LoggerPatternConfig) error {
	return globalLoggerRegistry.UpdateConfig(logConfig)
}

// LoggerNamed returns a registered logger by its full dotted name.
func LoggerNamed(name string) (Logger, bool) {
	return globalLoggerRegistry.loggerNamed(name)
}
