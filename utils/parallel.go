// Package utils contains the concurrency, error and math helpers shared by the depth pipeline.
package utils

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"runtime"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.viam.com/utils"
	"golang.org/x/sync/errgroup"
)

// ParallelFactor controls the max level of parallelization. This might be useful
// to set in tests where too much parallelism actually slows tests down in
// aggregate.
var ParallelFactor = runtime.GOMAXPROCS(0)

func init() {
	if ParallelFactor <= 0 {
		ParallelFactor = 1
	}
}

// WorkerCount returns the size of the worker pool for numTasks tasks: one worker per task, capped
// at maxWorkers. A non-positive maxWorkers falls back to ParallelFactor.
func WorkerCount(numTasks, maxWorkers int) int {
	if maxWorkers <= 0 {
		maxWorkers = ParallelFactor
	}
	return max(1, min(numTasks, maxWorkers))
}

// TaskFunc is one unit of work of a fan-out stage.
type TaskFunc func(ctx context.Context, taskNum int) error

// RunTasks runs fn for every task number in [0, numTasks) on at most maxWorkers goroutines and
// returns once every task has finished. A failing or panicking task never stops the others; every
// failure is returned as a *TaskError combined with multierr.
//
// There is no per-task timeout. A task that never returns blocks RunTasks forever.
func RunTasks(ctx context.Context, numTasks, maxWorkers int, fn TaskFunc) error {
	if numTasks <= 0 {
		return nil
	}

	var (
		group   errgroup.Group
		errMu   sync.Mutex
		allErrs error
	)
	group.SetLimit(WorkerCount(numTasks, maxWorkers))
	for taskNum := 0; taskNum < numTasks; taskNum++ {
		taskNum := taskNum
		group.Go(func() error {
			if err := runTask(ctx, taskNum, fn); err != nil {
				errMu.Lock()
				allErrs = multierr.Append(allErrs, err)
				errMu.Unlock()
			}
			return nil
		})
	}
	//nolint:errcheck
	group.Wait()
	return allErrs
}

func runTask(ctx context.Context, taskNum int, fn TaskFunc) (err error) {
	defer func() {
		if thePanic := recover(); thePanic != nil {
			err = &TaskError{Task: taskNum, Err: fmt.Errorf("panic: %v", thePanic)}
		}
	}()
	if err := fn(ctx, taskNum); err != nil {
		return &TaskError{Task: taskNum, Err: err}
	}
	return nil
}

// ParallelForEachPixel loops through the image and calls f functions for each [x, y] position.
// The image is divided into N * N blocks, where N is the number of available processor threads. For each block a
// parallel Goroutine is started.
func ParallelForEachPixel(size image.Point, f func(x, y int)) {
	procs := ParallelFactor
	blockW := int(math.Floor(float64(size.X) / float64(procs)))
	blockH := int(math.Floor(float64(size.Y) / float64(procs)))

	var waitGroup sync.WaitGroup
	waitGroup.Add(procs * procs)
	for i := 0; i < procs; i++ {
		startX, endX := i*blockW, (i+1)*blockW
		if i == procs-1 {
			endX = size.X
		}
		for j := 0; j < procs; j++ {
			startY, endY := j*blockH, (j+1)*blockH
			if j == procs-1 {
				endY = size.Y
			}
			sX, eX, sY, eY := startX, endX, startY, endY
			utils.PanicCapturingGo(func() {
				defer waitGroup.Done()
				for x := sX; x < eX; x++ {
					for y := sY; y < eY; y++ {
						f(x, y)
					}
				}
			})
		}
	}
	waitGroup.Wait()
}

// SimpleFunc is for RunInParallel.
type SimpleFunc func(ctx context.Context) error

// RunInParallel runs all functions in parallel, return is elapsed time and an error.
// The first failure cancels the context handed to the remaining functions.
func RunInParallel(ctx context.Context, fs []SimpleFunc) (time.Duration, error) {
	start := time.Now()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup

	var bigError error
	var bigErrorMutex sync.Mutex
	storeError := func(err error) {
		bigErrorMutex.Lock()
		defer bigErrorMutex.Unlock()
		if bigError == nil || !errors.Is(err, context.Canceled) {
			bigError = multierr.Combine(bigError, err)
		}
	}

	helper := func(f SimpleFunc) {
		defer func() {
			if thePanic := recover(); thePanic != nil {
				storeError(fmt.Errorf("got panic running something in parallel: %v", thePanic))
				cancel()
			}
			wg.Done()
		}()
		if err := f(ctx); err != nil {
			storeError(err)
			cancel()
		}
	}

	for _, f := range fs {
		wg.Add(1)
		go helper(f)
	}

	wg.Wait()
	return time.Since(start), bigError
}
