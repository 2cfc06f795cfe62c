package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.viam.com/test"

	"go.viam.com/scampca/logging"
)

func TestFromReaderValidate(t *testing.T) {
	logger := logging.NewTestLogger(t)

	_, err := FromReader("somepath", strings.NewReader(""), logger)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "EOF")

	_, err = FromReader("somepath", strings.NewReader(`{"camera": 1}`), logger)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "unmarshal")

	conf, err := FromReader("somepath", strings.NewReader(`{}`), logger)
	test.That(t, err, test.ShouldBeNil)
	expected := Default()
	expected.ConfigFilePath = "somepath"
	test.That(t, conf, test.ShouldResemble, expected)

	_, err = FromReader("somepath", strings.NewReader(`{"camera": {"baseline": 0}}`), logger)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, `camera`)
	test.That(t, err.Error(), test.ShouldContainSubstring, `"baseline" is required`)

	conf, err = FromReader("somepath", strings.NewReader(`{"matching": {"vertical_tolerance": 3.5}}`), logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, conf.Matching.VerticalTolerance, test.ShouldEqual, 3.5)
	test.That(t, conf.Matching.Epsilon, test.ShouldEqual, Default().Matching.Epsilon)
}

func TestConfigCheckValid(t *testing.T) {
	for _, tc := range []struct {
		name   string
		mutate func(*Config)
		errStr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"focal length", func(c *Config) { c.Camera.FocalLength = 0 }, `"focal_length" is required`},
		{"width", func(c *Config) { c.Camera.Width = -1 }, `"width" is required`},
		{"thresholds", func(c *Config) { c.Edges.LowThreshold = 0.9 }, "low_threshold"},
		{"planarity", func(c *Config) { c.Matching.PlanarityThresholdDegrees = 0 }, "planarity_threshold_degrees"},
		{"levels", func(c *Config) { c.Octree.Maximal.Level = c.Octree.Minimal.Level }, "must be coarser"},
		{"isotropy", func(c *Config) { c.Octree.Minimal.MinIsotropy = 2 }, "octree.minimal"},
		{"min points", func(c *Config) { c.Octree.MinNodePoints = 2 }, "min_node_points"},
		{"sigma", func(c *Config) { c.Resolve.OutlierSigma = 0 }, `"outlier_sigma" is required`},
		{"policy", func(c *Config) { c.Pipeline.DropPolicy = "newest" }, `unknown drop_policy "newest"`},
		{"workers", func(c *Config) { c.Pipeline.MaxWorkers = 0 }, `"max_workers" is required`},
		{"log pattern", func(c *Config) {
			c.LogConfig = []logging.LoggerPatternConfig{{Pattern: "scampca..match", Level: "debug"}}
		}, "log.0"},
		{"log level", func(c *Config) {
			c.LogConfig = []logging.LoggerPatternConfig{{Pattern: "scampca.match", Level: "loud"}}
		}, "unknown log level"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			conf := Default()
			tc.mutate(conf)
			err := conf.Validate()
			if tc.errStr == "" {
				test.That(t, err, test.ShouldBeNil)
				return
			}
			test.That(t, err, test.ShouldNotBeNil)
			test.That(t, err.Error(), test.ShouldContainSubstring, tc.errStr)
		})
	}
}

func TestReadWithEnv(t *testing.T) {
	logger := logging.NewTestLogger(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "scampca.json")
	test.That(t, os.WriteFile(path, []byte(`{
		"camera": {"baseline": ${SCAMPCA_TEST_BASELINE}},
		"pipeline": {"drop_policy": "drop_oldest", "queue_depth": 10},
		"log": [{"pattern": "scampca.*", "level": "debug"}]
	}`), 0o600), test.ShouldBeNil)
	t.Setenv("SCAMPCA_TEST_BASELINE", "120")

	conf, err := Read(path, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, conf.ConfigFilePath, test.ShouldEqual, path)
	test.That(t, conf.Camera.Baseline, test.ShouldEqual, 120.)
	test.That(t, conf.Pipeline.DropPolicy, test.ShouldEqual, DropPolicyDropOldest)
	test.That(t, conf.Pipeline.QueueDepth, test.ShouldEqual, 10)
	test.That(t, conf.LogConfig, test.ShouldResemble, []logging.LoggerPatternConfig{{Pattern: "scampca.*", Level: "debug"}})

	_, err = Read(filepath.Join(dir, "missing.json"), logger)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestWriteRoundTrip(t *testing.T) {
	logger := logging.NewTestLogger(t)
	path := filepath.Join(t.TempDir(), "default.json")
	conf := Default()
	conf.Resolve.WritePointDepths = true
	test.That(t, conf.Write(path), test.ShouldBeNil)

	read, err := Read(path, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, read.Resolve.WritePointDepths, test.ShouldBeTrue)
	test.That(t, read.Octree, test.ShouldResemble, conf.Octree)
}
