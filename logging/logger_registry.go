package logging

import (
	"fmt"
	"regexp"
	"sort"
	"sync"
)

var globalLoggerRegistry = newRegistry()

// Registry tracks named loggers so their levels can be changed by pattern.
type Registry struct {
	mu        sync.RWMutex
	loggers   map[string]Logger
	logConfig []LoggerPatternConfig
}

func newRegistry() *Registry {
	return &Registry{
		loggers: make(map[string]Logger),
	}
}

// RegisterLogger registers a logger under the given name in the global registry.
func RegisterLogger(name string, logger Logger) {
	globalLoggerRegistry.registerLogger(name, logger)
}

// LoggerNamed returns a logger previously registered under name.
func LoggerNamed(name string) (Logger, bool) {
	return globalLoggerRegistry.loggerNamed(name)
}

// RegisteredLoggerNames returns the sorted names of every registered logger.
func RegisteredLoggerNames() []string {
	names := globalLoggerRegistry.getRegisteredLoggerNames()
	sort.Strings(names)
	return names
}

// UpdateLoggerRegistry applies the pattern configs to every registered logger. Loggers matched by
// no pattern are reset to INFO.
func UpdateLoggerRegistry(logConfig []LoggerPatternConfig, errorLogger Logger) error {
	return globalLoggerRegistry.UpdateConfig(logConfig, errorLogger)
}

func (lr *Registry) registerLogger(name string, logger Logger) {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	lr.loggers[name] = logger
}

func (lr *Registry) deregisterLogger(name string) bool {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	_, ok := lr.loggers[name]
	if ok {
		delete(lr.loggers, name)
	}
	return ok
}

func (lr *Registry) loggerNamed(name string) (logger Logger, ok bool) {
	lr.mu.RLock()
	defer lr.mu.RUnlock()
	logger, ok = lr.loggers[name]
	return
}

// levelFromConfigLocked returns the level of the last pattern matching name. Callers must hold mu.
func (lr *Registry) levelFromConfigLocked(name string) (Level, bool, error) {
	var (
		found bool
		level Level
	)
	for _, lpc := range lr.logConfig {
		r, err := regexp.Compile(buildRegexFromPattern(lpc.Pattern))
		if err != nil {
			return level, false, err
		}
		if !r.MatchString(name) {
			continue
		}
		level, err = LevelFromString(lpc.Level)
		if err != nil {
			return level, false, err
		}
		found = true
	}
	return level, found, nil
}

func (lr *Registry) updateLoggerLevel(name string, level Level) error {
	lr.mu.RLock()
	defer lr.mu.RUnlock()
	logger, ok := lr.loggers[name]
	if !ok {
		return fmt.Errorf("logger named %s not recognized", name)
	}
	logger.SetLevel(level)
	return nil
}

// UpdateConfig stores the pattern configs and applies them to every registered logger.
func (lr *Registry) UpdateConfig(logConfig []LoggerPatternConfig, errorLogger Logger) error {
	valid := make([]LoggerPatternConfig, 0, len(logConfig))
	for _, lpc := range logConfig {
		if !ValidatePattern(lpc.Pattern) {
			errorLogger.Warnw("failed to validate a pattern", "pattern", lpc.Pattern)
			continue
		}
		valid = append(valid, lpc)
	}

	lr.mu.Lock()
	lr.logConfig = valid
	lr.mu.Unlock()

	for _, name := range lr.getRegisteredLoggerNames() {
		lr.mu.RLock()
		level, found, err := lr.levelFromConfigLocked(name)
		lr.mu.RUnlock()
		if err != nil {
			return err
		}
		if !found {
			level = INFO
		}
		if err := lr.updateLoggerLevel(name, level); err != nil {
			return err
		}
	}

	return nil
}

func (lr *Registry) getRegisteredLoggerNames() []string {
	lr.mu.RLock()
	defer lr.mu.RUnlock()
	registeredNames := make([]string, 0, len(lr.loggers))
	for name := range lr.loggers {
		registeredNames = append(registeredNames, name)
	}
	return registeredNames
}

// registerAndConfigure registers `logger` under `name`, replacing any previous logger with that
// name, and applies the level of the last matching pattern config.
func (lr *Registry) registerAndConfigure(name string, logger Logger) Logger {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	lr.loggers[name] = logger
	if level, found, err := lr.levelFromConfigLocked(name); err == nil && found {
		logger.SetLevel(level)
	}
	return logger
}
