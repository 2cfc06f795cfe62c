// Package camera defines the frame sources feeding the depth pipeline, the bounded queue of stereo
// frame pairs, and the producers that fill it.
package camera

import (
	"context"
	"image"
	"io"
	"sync"

	"github.com/pkg/errors"
	"go.opencensus.io/trace"

	"go.viam.com/scampca/rimage"
)

// A VideoSource produces frames. The returned release function must be called once the caller is
// done with the image. io.EOF signals that the source has no more frames.
type VideoSource interface {
	Next(ctx context.Context) (image.Image, func(), error)
	Close(ctx context.Context) error
}

// StaticSource returns the same image every time.
type StaticSource struct {
	img image.Image

	mu        sync.Mutex
	remaining int
	limited   bool
}

// NewStaticSource returns a source that yields img frames times, or forever when frames <= 0.
func NewStaticSource(img image.Image, frames int) *StaticSource {
	return &StaticSource{img: img, remaining: frames, limited: frames > 0}
}

// Next returns the stored image.
func (ss *StaticSource) Next(ctx context.Context) (image.Image, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if ss.limited {
		if ss.remaining == 0 {
			return nil, nil, io.EOF
		}
		ss.remaining--
	}
	return ss.img, func() {}, nil
}

// Close does nothing.
func (ss *StaticSource) Close(ctx context.Context) error {
	return nil
}

// FileSource reads one image file per frame, in order.
type FileSource struct {
	paths []string
	loop  bool

	mu   sync.Mutex
	next int
}

// NewFileSource returns a source over the given image files. With loop set it starts over after
// the last file instead of returning io.EOF.
func NewFileSource(paths []string, loop bool) (*FileSource, error) {
	if len(paths) == 0 {
		return nil, errors.New("file source needs at least one image path")
	}
	return &FileSource{paths: paths, loop: loop}, nil
}

// Next decodes the next file.
func (fs *FileSource) Next(ctx context.Context) (image.Image, func(), error) {
	_, span := trace.StartSpan(ctx, "camera::FileSource::Next")
	defer span.End()

	fs.mu.Lock()
	if fs.next == len(fs.paths) {
		if !fs.loop {
			fs.mu.Unlock()
			return nil, nil, io.EOF
		}
		fs.next = 0
	}
	path := fs.paths[fs.next]
	fs.next++
	fs.mu.Unlock()

	img, err := rimage.ReadImageFromFile(path)
	if err != nil {
		return nil, nil, err
	}
	return img, func() {}, nil
}

// Close does nothing.
func (fs *FileSource) Close(ctx context.Context) error {
	return nil
}
