package rimage

import (
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/lmittmann/ppm"
	"go.viam.com/test"
)

func TestImageFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	img := rectangleImage(30, 20, image.Rect(5, 5, 15, 10))

	for _, name := range []string{"frame.png", "frame.bmp", "frame.tiff"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, "nested", name)
			test.That(t, WriteImageToFile(path, img), test.ShouldBeNil)
			read, err := ReadImageFromFile(path)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, read.Bounds(), test.ShouldResemble, img.Bounds())
			r, _, _, _ := read.At(6, 6).RGBA()
			test.That(t, r>>8, test.ShouldEqual, uint32(255))
		})
	}

	t.Run("ppm", func(t *testing.T) {
		path := filepath.Join(dir, "frame.ppm")
		f, err := os.Create(path)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, ppm.Encode(f, img), test.ShouldBeNil)
		test.That(t, f.Close(), test.ShouldBeNil)

		read, err := ReadImageFromFile(path)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, read.Bounds().Dx(), test.ShouldEqual, 30)
		test.That(t, read.Bounds().Dy(), test.ShouldEqual, 20)
	})

	t.Run("errors", func(t *testing.T) {
		_, err := ReadImageFromFile(filepath.Join(dir, "missing.png"))
		test.That(t, err, test.ShouldNotBeNil)

		garbage := filepath.Join(dir, "garbage.png")
		test.That(t, os.WriteFile(garbage, []byte("not an image"), 0o600), test.ShouldBeNil)
		_, err = ReadImageFromFile(garbage)
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "cannot decode")
	})
}
