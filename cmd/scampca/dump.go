package main

import (
	"context"
	"fmt"
	"image/color"
	"os"
	"path/filepath"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"go.viam.com/scampca/logging"
	pc "go.viam.com/scampca/pointcloud"
	"go.viam.com/scampca/rimage"
	"go.viam.com/scampca/stereo"
	"go.viam.com/scampca/utils"
)

const (
	formatXYZ = "xyz"
	formatPCD = "pcd"

	histogramBins = 32
)

// dumpConsumer writes the files describing each frame into one directory.
type dumpConsumer struct {
	dir       string
	format    string
	histogram bool
	maxDepth  float64
	logger    logging.Logger
}

// newDumpConsumer returns nil when dir is empty.
func newDumpConsumer(dir, format string, histogram bool, maxDepth float64, logger logging.Logger) (stereo.Consumer, error) {
	if dir == "" {
		return nil, nil
	}
	if format != formatXYZ && format != formatPCD {
		return nil, errors.Errorf("unknown point cloud format %q, want %s or %s", format, formatXYZ, formatPCD)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, err
	}
	return &dumpConsumer{dir: dir, format: format, histogram: histogram, maxDepth: maxDepth, logger: logger}, nil
}

func (dc *dumpConsumer) path(kind string, seq uint64, ext string) string {
	return filepath.Join(dc.dir, fmt.Sprintf("%s_%06d.%s", kind, seq, ext))
}

// HandleFrame writes the envelope cloud, the written point depths if any, both edge maps and
// optionally a depth histogram.
func (dc *dumpConsumer) HandleFrame(ctx context.Context, result *stereo.FrameResult) error {
	var err error
	err = multierr.Append(err, pc.WriteToFile(dc.envelopeCloud(result), dc.path("envelopes", result.Seq, dc.format)))
	if result.Cloud != nil {
		err = multierr.Append(err, pc.WriteToFile(result.Cloud, dc.path("points", result.Seq, dc.format)))
	}
	if result.LeftEdges != nil {
		err = multierr.Append(err, rimage.WriteImageToFile(dc.path("edges_left", result.Seq, "png"), result.LeftEdges.ToGray()))
	}
	if result.RightEdges != nil {
		err = multierr.Append(err, rimage.WriteImageToFile(dc.path("edges_right", result.Seq, "png"), result.RightEdges.ToGray()))
	}
	if dc.histogram && len(result.Matched) > 0 {
		depths := make([]float64, 0, len(result.Matched))
		for _, env := range result.Matched {
			depths = append(depths, env.Depth)
		}
		err = multierr.Append(err, writeHistogram(dc.path("depths", result.Seq, "png"), result.Seq, depths))
	}
	if err == nil {
		dc.logger.CDebugw(ctx, "dumped frame", "seq", result.Seq, "dir", dc.dir)
	}
	return err
}

// envelopeCloud places one point at the center of every maximal envelope that has a depth, at
// z = depth, colored from blue (near) to red (far).
func (dc *dumpConsumer) envelopeCloud(result *stereo.FrameResult) pc.PointCloud {
	cloud := pc.NewWithPrealloc(len(result.Resolved) + len(result.Borrowed))
	for _, envs := range [][]*stereo.Envelope{result.Resolved, result.Borrowed} {
		for _, env := range envs {
			center := env.Bounds.Center()
			if err := cloud.Set(pc.NewVector(center.X, center.Y, env.Depth), pc.NewColoredData(dc.depthColor(env.Depth))); err != nil {
				dc.logger.Debugw("skipping envelope", "seq", result.Seq, "error", err)
			}
		}
	}
	return cloud
}

func (dc *dumpConsumer) depthColor(depth float64) color.NRGBA {
	t := 0.0
	if dc.maxDepth > 0 {
		t = utils.Clamp(depth/dc.maxDepth, 0, 1)
	}
	r, g, b := colorful.Hsv(240*(1-t), 1, 1).RGB255()
	return color.NRGBA{R: r, G: g, B: b, A: 255}
}

func writeHistogram(path string, seq uint64, depths []float64) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("frame %d matched depths", seq)
	p.X.Label.Text = "depth"
	p.Y.Label.Text = "envelopes"

	hist, err := plotter.NewHist(plotter.Values(depths), histogramBins)
	if err != nil {
		return errors.Wrap(err, "depth histogram")
	}
	p.Add(hist)
	return p.Save(8*vg.Inch, 4*vg.Inch, path)
}
