// Package stereo turns synchronized pairs of edge images into depth envelopes. Each frame goes
// through a fixed sequence of stages: edge points are inserted into one octree per side, the fine
// coplanar nodes of both sides are matched row by row, the coarse nodes of the left side take the
// mean depth of the fine nodes they enclose, and coarse nodes enclosing nothing borrow a depth from
// their resolved neighbors.
package stereo

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"go.uber.org/atomic"

	"go.viam.com/scampca/camera"
	"go.viam.com/scampca/config"
	"go.viam.com/scampca/logging"
	"go.viam.com/scampca/octree"
	pc "go.viam.com/scampca/pointcloud"
	"go.viam.com/scampca/rimage"
	"go.viam.com/scampca/utils"
)

const slowStageInterval = 2 * time.Second

// State is the stage a pipeline is in.
type State int32

// A frame moves through the states in order. Fallback is skipped when every maximal envelope
// resolved, and Reset always runs.
const (
	StateAwaitFrame = State(iota)
	StatePopulate
	StateMatch
	StateResolve
	StateFallback
	StateReset
)

func (s State) String() string {
	switch s {
	case StateAwaitFrame:
		return "await_frame"
	case StatePopulate:
		return "populate"
	case StateMatch:
		return "match"
	case StateResolve:
		return "resolve"
	case StateFallback:
		return "fallback"
	case StateReset:
		return "reset"
	default:
		return "unknown"
	}
}

// SpatialIndex stores the edge points of one side and splits them into coplanar nodes.
type SpatialIndex interface {
	PointInserter
	PointDepthWriter
	Size() int
	Subdivide(ctx context.Context, level int, maxDistanceToPlane, minIsotropy float64) error
	Nodes() []*octree.Node
	// Clear drops the nodes and keeps the points.
	Clear()
	// Reset drops everything.
	Reset()
	PointCloud() pc.PointCloud
}

// EdgeDetector turns an image into an edge magnitude map.
type EdgeDetector interface {
	DetectEdges(img image.Image) (*rimage.MagnitudeMap, error)
}

// FrameSource hands out frame pairs. Take returns camera.ErrQueueClosed when no frame will come.
type FrameSource interface {
	Take(ctx context.Context) (*camera.FramePair, error)
}

// A Consumer receives the result of every frame that made it through the pipeline.
type Consumer interface {
	HandleFrame(ctx context.Context, result *FrameResult) error
}

// ConsumerFunc adapts a function to a Consumer.
type ConsumerFunc func(ctx context.Context, result *FrameResult) error

// HandleFrame calls f.
func (f ConsumerFunc) HandleFrame(ctx context.Context, result *FrameResult) error {
	return f(ctx, result)
}

// FrameResult is everything one frame produced.
type FrameResult struct {
	Seq        uint64
	CapturedAt time.Time

	LeftEdges, RightEdges *rimage.MagnitudeMap
	Stats                 DepthStats

	// Matched and Unmatched are the minimal envelopes.
	Matched   []*Envelope
	Unmatched []*Envelope
	// Gated minimal envelopes failed the outlier gate and Unenclosed ones lie in no maximal envelope.
	Gated      []*Envelope
	Unenclosed []*Envelope

	// Resolved, Borrowed and Unresolved are the maximal envelopes.
	Resolved   []*Envelope
	Borrowed   []*Envelope
	Unresolved []*Envelope

	// Cloud holds the left points that received a depth, with z = baseline·focal/2 - depth. It is
	// only set when point depths are written.
	Cloud pc.PointCloud

	Durations map[State]time.Duration
}

// Pipeline runs frames through the stages one at a time. The work within a stage fans out over a
// bounded pool.
type Pipeline struct {
	cfg         *config.Config
	left, right SpatialIndex
	detector    EdgeDetector

	logger         logging.Logger
	populateLogger logging.Logger
	matchLogger    logging.Logger
	resolveLogger  logging.Logger
	fallbackLogger logging.Logger

	state       atomic.Int32
	diagnostics *Diagnostics
	debugFrames map[uint64]bool
}

// NewPipeline returns a pipeline over the given indices and edge detector.
func NewPipeline(cfg *config.Config, left, right SpatialIndex, detector EdgeDetector, logger logging.Logger) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if left == nil || right == nil {
		return nil, errors.New("pipeline needs a left and a right index")
	}
	if detector == nil {
		return nil, errors.New("pipeline needs an edge detector")
	}
	return &Pipeline{
		cfg:            cfg,
		left:           left,
		right:          right,
		detector:       detector,
		logger:         logger,
		populateLogger: logger.Sublogger(StatePopulate.String()),
		matchLogger:    logger.Sublogger(StateMatch.String()),
		resolveLogger:  logger.Sublogger(StateResolve.String()),
		fallbackLogger: logger.Sublogger(StateFallback.String()),
		diagnostics:    newDiagnostics(),
		debugFrames:    map[uint64]bool{},
	}, nil
}

// NewPipelineFromConfig builds the octrees and the Canny detector the configuration describes.
func NewPipelineFromConfig(cfg *config.Config, logger logging.Logger) (*Pipeline, error) {
	left, err := octree.New(cfg.Octree.MinNodePoints, cfg.Octree.MaxExtraLevels, logger.Sublogger("octree.left"))
	if err != nil {
		return nil, err
	}
	right, err := octree.New(cfg.Octree.MinNodePoints, cfg.Octree.MaxExtraLevels, logger.Sublogger("octree.right"))
	if err != nil {
		return nil, err
	}
	detector := rimage.NewCannyEdgeDetectorWithParameters(cfg.Edges.LowThreshold, cfg.Edges.HighThreshold, cfg.Edges.BlurRadius)
	return NewPipeline(cfg, left, right, detector, logger)
}

// DebugFrames turns on debug logging for the frames with the given sequence numbers. It must be
// called before Run.
func (p *Pipeline) DebugFrames(seqs ...uint64) {
	for _, seq := range seqs {
		p.debugFrames[seq] = true
	}
}

// State returns the stage the pipeline is in.
func (p *Pipeline) State() State {
	return State(p.state.Load())
}

// Diagnostics returns the pipeline's counters.
func (p *Pipeline) Diagnostics() *Diagnostics {
	return p.diagnostics
}

// Run processes frames until the source is closed, in which case it returns nil, or ctx is done.
// A frame that fails a stage is logged and dropped, and so is an error from the consumer.
func (p *Pipeline) Run(ctx context.Context, frames FrameSource, consumer Consumer) error {
	for {
		p.state.Store(int32(StateAwaitFrame))
		pair, err := frames.Take(ctx)
		if err != nil {
			if errors.Is(err, camera.ErrQueueClosed) {
				return nil
			}
			return err
		}

		result, err := p.ProcessFrame(ctx, pair)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.Warnw("dropping frame", "seq", pair.Seq, "error", err)
			continue
		}
		if consumer == nil {
			continue
		}
		if err := consumer.HandleFrame(ctx, result); err != nil {
			p.diagnostics.consumerFailures.Inc()
			p.logger.Errorw("frame consumer failed", "seq", result.Seq, "error", err)
		}
	}
}

// ProcessFrame runs one frame pair through every stage and releases it. The indices are reset
// whether the frame succeeds or not.
func (p *Pipeline) ProcessFrame(ctx context.Context, pair *camera.FramePair) (*FrameResult, error) {
	ctx, span := trace.StartSpan(ctx, "stereo::Pipeline::ProcessFrame")
	defer span.End()
	start := time.Now()
	if p.debugFrames[pair.Seq] {
		ctx = logging.EnableDebugMode(ctx, fmt.Sprintf("frame-%d", pair.Seq))
	}
	defer p.reset(ctx, pair)

	result := &FrameResult{
		Seq:        pair.Seq,
		CapturedAt: pair.CapturedAt,
		Durations:  map[State]time.Duration{},
	}
	if err := p.runStage(ctx, StatePopulate, result, func(ctx context.Context) error {
		return p.populate(ctx, pair, result)
	}); err != nil {
		return nil, p.frameFailed(err, StatePopulate)
	}
	if err := p.runStage(ctx, StateMatch, result, func(ctx context.Context) error {
		return p.match(ctx, result)
	}); err != nil {
		return nil, p.frameFailed(err, StateMatch)
	}

	var zero []*Envelope
	if err := p.runStage(ctx, StateResolve, result, func(ctx context.Context) error {
		var err error
		zero, err = p.resolve(ctx, result)
		return err
	}); err != nil {
		return nil, p.frameFailed(err, StateResolve)
	}
	if len(zero) > 0 {
		if err := p.runStage(ctx, StateFallback, result, func(ctx context.Context) error {
			return p.fallback(ctx, zero, result)
		}); err != nil {
			return nil, p.frameFailed(err, StateFallback)
		}
	}

	if p.cfg.Resolve.WritePointDepths {
		result.Cloud = p.depthCloud()
	}
	p.diagnostics.addFrame(result, time.Since(start))
	p.logger.CDebugw(ctx, "frame done",
		"seq", result.Seq,
		"matched", len(result.Matched),
		"unmatched", len(result.Unmatched),
		"resolved", len(result.Resolved),
		"borrowed", len(result.Borrowed),
		"unresolved", len(result.Unresolved))
	return result, nil
}

func (p *Pipeline) runStage(ctx context.Context, state State, result *FrameResult, fn func(ctx context.Context) error) error {
	p.state.Store(int32(state))
	ctx, span := trace.StartSpan(ctx, "stereo::Pipeline::"+state.String())
	defer span.End()
	defer utils.SlowLogger(ctx, "stage still running", slowStageInterval, p.logger, "stage", state.String(), "seq", result.Seq)()
	start := time.Now()
	err := fn(ctx)
	result.Durations[state] = time.Since(start)
	return err
}

func (p *Pipeline) frameFailed(err error, state State) error {
	p.diagnostics.framesFailed.Inc()
	return errors.Wrap(err, state.String())
}

// ErrSubdivision is returned when a spatial index cannot be subdivided. The frame is skipped.
var ErrSubdivision = errors.New("subdivision failed")

func subdivisionError(side string, err error) error {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return errors.Wrapf(ErrSubdivision, "%s index: %v", side, err)
}

func (p *Pipeline) countTaskFailures(err error) []*utils.TaskError {
	taskErrs := utils.TaskErrors(err)
	p.diagnostics.taskFailures.Add(uint64(len(taskErrs)))
	return taskErrs
}

func (p *Pipeline) populate(ctx context.Context, pair *camera.FramePair, result *FrameResult) error {
	frameSize := image.Pt(p.cfg.Camera.Width, p.cfg.Camera.Height)
	if size := pair.Left.Bounds().Size(); !size.Eq(frameSize) {
		return errors.Errorf("left frame is %v but the camera is configured for %v", size, frameSize)
	}
	if size := pair.Right.Bounds().Size(); !size.Eq(frameSize) {
		return errors.Errorf("right frame is %v but the camera is configured for %v", size, frameSize)
	}

	if _, err := utils.RunInParallel(ctx, []utils.SimpleFunc{
		func(ctx context.Context) error {
			var err error
			result.LeftEdges, err = p.detector.DetectEdges(pair.Left)
			return errors.Wrap(err, "left edges")
		},
		func(ctx context.Context) error {
			var err error
			result.RightEdges, err = p.detector.DetectEdges(pair.Right)
			return errors.Wrap(err, "right edges")
		},
	}); err != nil {
		return err
	}

	err := Populate(ctx, result.LeftEdges, result.RightEdges, pair.Left, pair.Right,
		p.left, p.right, p.cfg.Matching.ConstantZ, p.cfg.Pipeline.MaxWorkers)
	for _, taskErr := range p.countTaskFailures(err) {
		p.populateLogger.Errorw("row failed to populate", "seq", pair.Seq, "row", taskErr.Task, "error", taskErr.Err)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	minimal := p.cfg.Octree.Minimal
	if _, err := utils.RunInParallel(ctx, []utils.SimpleFunc{
		func(ctx context.Context) error {
			return subdivisionError("left", p.left.Subdivide(ctx, minimal.Level, minimal.MaxDistanceToPlane, minimal.MinIsotropy))
		},
		func(ctx context.Context) error {
			return subdivisionError("right", p.right.Subdivide(ctx, minimal.Level, minimal.MaxDistanceToPlane, minimal.MinIsotropy))
		},
	}); err != nil {
		return err
	}
	p.populateLogger.CDebugw(ctx, "populated",
		"seq", pair.Seq,
		"left_points", p.left.Size(),
		"right_points", p.right.Size())
	return nil
}

func (p *Pipeline) matchParams() MatchParams {
	return MatchParams{
		VerticalTolerance:       p.cfg.Matching.VerticalTolerance,
		PlanarityThreshold:      utils.DegToRad(p.cfg.Matching.PlanarityThresholdDegrees),
		FocalLength:             p.cfg.Camera.FocalLength,
		Baseline:                p.cfg.Camera.Baseline,
		MaxHorizontalSeparation: p.cfg.Matching.MaxHorizontalSeparation,
		Epsilon:                 p.cfg.Matching.Epsilon,
	}
}

func (p *Pipeline) match(ctx context.Context, result *FrameResult) error {
	leftNodes, rightNodes := p.left.Nodes(), p.right.Nodes()
	matches, err := Match(ctx, leftNodes, rightNodes, p.matchParams(), p.cfg.Pipeline.MaxWorkers, p.matchLogger)
	if err != nil {
		return err
	}
	result.Matched = matches.Matched
	result.Unmatched = matches.Unmatched

	result.Stats, err = ComputeDepthStats(matches.Depths())
	if err != nil {
		return err
	}
	p.matchLogger.CDebugw(ctx, "matched",
		"seq", result.Seq,
		"left_nodes", len(leftNodes),
		"right_nodes", len(rightNodes),
		"partitions", len(matches.Partitions),
		"matched", len(result.Matched),
		"mean", result.Stats.Mean,
		"stddev", result.Stats.StdDev)
	return nil
}

func (p *Pipeline) resolve(ctx context.Context, result *FrameResult) ([]*Envelope, error) {
	maximalLevel := p.cfg.Octree.Maximal
	p.left.Clear()
	if err := p.left.Subdivide(ctx, maximalLevel.Level, maximalLevel.MaxDistanceToPlane, maximalLevel.MinIsotropy); err != nil {
		return nil, subdivisionError("left", err)
	}

	nodes := p.left.Nodes()
	maximal := make([]*Envelope, 0, len(nodes))
	for _, node := range nodes {
		maximal = append(maximal, NewMaximalEnvelope(node, p.cfg.Resolve.EnvelopeScale))
	}

	params := ResolveParams{
		OutlierSigma: p.cfg.Resolve.OutlierSigma,
		MaxWorkers:   p.cfg.Pipeline.MaxWorkers,
	}
	if p.cfg.Resolve.WritePointDepths {
		params.Points = p.left
	}
	resolved, err := Resolve(ctx, result.Matched, maximal, result.Stats, params)
	for _, taskErr := range p.countTaskFailures(err) {
		fields := []interface{}{"seq", result.Seq, "envelope", taskErr.Task, "error", taskErr.Err}
		if taskErr.Task >= 0 {
			fields = append(fields, "bounds", fmt.Sprint(maximal[taskErr.Task].Bounds))
		}
		p.resolveLogger.Errorw("maximal envelope failed to resolve", fields...)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	result.Resolved = resolved.Resolved
	result.Gated = resolved.Gated
	result.Unenclosed = resolved.Unenclosed
	p.resolveLogger.CDebugw(ctx, "resolved",
		"seq", result.Seq,
		"maximal", len(maximal),
		"resolved", len(resolved.Resolved),
		"zero_enclosing", len(resolved.ZeroEnclosing),
		"gated", len(resolved.Gated),
		"gate", result.Stats.Gate(p.cfg.Resolve.OutlierSigma))
	return resolved.ZeroEnclosing, nil
}

func (p *Pipeline) fallback(ctx context.Context, zero []*Envelope, result *FrameResult) error {
	var points PointDepthWriter
	if p.cfg.Resolve.WritePointDepths {
		points = p.left
	}
	borrowed, unresolved, err := Fallback(ctx, zero, result.Resolved, p.cfg.Pipeline.MaxWorkers, points)
	for _, taskErr := range p.countTaskFailures(err) {
		p.fallbackLogger.Errorw("zero enclosing envelope failed", "seq", result.Seq, "envelope", taskErr.Task, "error", taskErr.Err)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	result.Borrowed = borrowed
	result.Unresolved = unresolved
	p.fallbackLogger.CDebugw(ctx, "fallback done",
		"seq", result.Seq,
		"borrowed", len(borrowed),
		"unresolved", len(unresolved))
	return nil
}

// depthCloud copies the left points carrying a depth, with z = baseline·focal/2 - depth.
func (p *Pipeline) depthCloud() pc.PointCloud {
	zero := p.cfg.Camera.Baseline * p.cfg.Camera.FocalLength / 2
	src := p.left.PointCloud()
	cloud := pc.NewWithPrealloc(src.Size())
	src.Iterate(0, 0, func(pt r3.Vector, d pc.Data) bool {
		if d == nil || !d.HasValue() {
			return true
		}
		out := pc.NewValueData(d.Value())
		if d.HasColor() {
			r, g, b := d.RGB255()
			out.SetColor(color.NRGBA{R: r, G: g, B: b, A: 255})
		}
		if err := cloud.Set(pc.NewVector(pt.X, pt.Y, zero-d.Value()), out); err != nil {
			p.logger.Debugw("skipping point", "error", err)
		}
		return true
	})
	return cloud
}

func (p *Pipeline) reset(ctx context.Context, pair *camera.FramePair) {
	p.state.Store(int32(StateReset))
	p.left.Reset()
	p.right.Reset()
	pair.Release()
	p.logger.CDebugw(ctx, "reset", "seq", pair.Seq)
	p.state.Store(int32(StateAwaitFrame))
}
