package logging

import (
	"testing"

	"go.viam.com/test"
)

func TestValidatePattern(t *testing.T) {
	test.That(t, ValidatePattern("scampca"), test.ShouldBeTrue)
	test.That(t, ValidatePattern("scampca.match"), test.ShouldBeTrue)
	test.That(t, ValidatePattern("scampca.*"), test.ShouldBeTrue)
	test.That(t, ValidatePattern("*.resolve"), test.ShouldBeTrue)
	test.That(t, ValidatePattern("scampca..match"), test.ShouldBeFalse)
	test.That(t, ValidatePattern("scampca.match."), test.ShouldBeFalse)
	test.That(t, ValidatePattern(""), test.ShouldBeFalse)
}

func TestRegistryPatterns(t *testing.T) {
	logger := NewTestLogger(t)
	root := logger.Sublogger("registrytest")
	match := root.Sublogger("match")
	resolve := root.Sublogger("resolve")
	defer func() {
		for _, name := range []string{"registrytest", "registrytest.match", "registrytest.resolve"} {
			globalLoggerRegistry.deregisterLogger(name)
		}
	}()

	registered, ok := LoggerNamed("registrytest.match")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, registered, test.ShouldEqual, match)
	test.That(t, RegisteredLoggerNames(), test.ShouldContain, "registrytest.resolve")

	err := UpdateLoggerRegistry([]LoggerPatternConfig{
		{Pattern: "registrytest.*", Level: "error"},
		{Pattern: "registrytest.match", Level: "debug"},
		{Pattern: "bad..pattern", Level: "debug"},
	}, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, match.GetLevel(), test.ShouldEqual, DEBUG)
	test.That(t, resolve.GetLevel(), test.ShouldEqual, ERROR)
	test.That(t, root.GetLevel(), test.ShouldEqual, INFO)

	// Loggers created after the update pick up the stored patterns.
	fallback := root.Sublogger("fallback")
	defer globalLoggerRegistry.deregisterLogger("registrytest.fallback")
	test.That(t, fallback.GetLevel(), test.ShouldEqual, ERROR)

	test.That(t, UpdateLoggerRegistry(nil, logger), test.ShouldBeNil)
	test.That(t, match.GetLevel(), test.ShouldEqual, INFO)
}

func TestRegisterRootLogger(t *testing.T) {
	root := NewTestLogger(t)
	RegisterLogger("registrytest.root", root)
	defer globalLoggerRegistry.deregisterLogger("registrytest.root")

	registered, ok := LoggerNamed("registrytest.root")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, registered, test.ShouldEqual, root)

	defer UpdateLoggerRegistry(nil, root)
	test.That(t, UpdateLoggerRegistry([]LoggerPatternConfig{{Pattern: "registrytest.root", Level: "warn"}}, root), test.ShouldBeNil)
	test.That(t, root.GetLevel(), test.ShouldEqual, WARN)
}

func TestGlobalLogger(t *testing.T) {
	original := Global()
	defer ReplaceGlobal(original)

	logger := NewTestLogger(t)
	ReplaceGlobal(logger)
	test.That(t, Global(), test.ShouldEqual, logger)
}
