package pointcloud

import (
	"bytes"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func TestPointCloudBasic(t *testing.T) {
	pc := New()
	test.That(t, pc.Size(), test.ShouldEqual, 0)

	p0 := NewVector(0, 0, 0)
	d0 := NewValueData(5)
	test.That(t, pc.Set(p0, d0), test.ShouldBeNil)
	d, got := pc.At(0, 0, 0)
	test.That(t, got, test.ShouldBeTrue)
	test.That(t, d, test.ShouldResemble, d0)

	_, got = pc.At(1, 0, 1)
	test.That(t, got, test.ShouldBeFalse)

	p1 := NewVector(1, 0, 1)
	d1 := NewColoredData(color.NRGBA{10, 20, 30, 255})
	test.That(t, pc.Set(p1, d1), test.ShouldBeNil)
	test.That(t, pc.Size(), test.ShouldEqual, 2)

	// setting an existing position replaces its data.
	test.That(t, pc.Set(p0, NewValueData(7)), test.ShouldBeNil)
	test.That(t, pc.Size(), test.ShouldEqual, 2)
	d, _ = pc.At(0, 0, 0)
	test.That(t, d.Value(), test.ShouldEqual, 7.)

	meta := pc.MetaData()
	test.That(t, meta.HasColor, test.ShouldBeTrue)
	test.That(t, meta.HasValue, test.ShouldBeTrue)
	test.That(t, meta.MinX, test.ShouldEqual, 0.)
	test.That(t, meta.MaxX, test.ShouldEqual, 1.)
	test.That(t, meta.MaxZ, test.ShouldEqual, 1.)

	test.That(t, pc.Set(NewVector(math.NaN(), 0, 0), nil), test.ShouldNotBeNil)
	test.That(t, pc.Set(NewVector(0, math.Inf(1), 0), nil), test.ShouldNotBeNil)
}

func TestIterateOrderAndBatches(t *testing.T) {
	pc := NewWithPrealloc(10)
	for i := 0; i < 10; i++ {
		test.That(t, pc.Set(NewVector(float64(10-i), 0, 0), NewBasicData()), test.ShouldBeNil)
	}

	xs := []float64{}
	pc.Iterate(0, 0, func(p r3.Vector, d Data) bool {
		xs = append(xs, p.X)
		return true
	})
	test.That(t, xs, test.ShouldResemble, []float64{10, 9, 8, 7, 6, 5, 4, 3, 2, 1})

	total := 0
	for batch := 0; batch < 3; batch++ {
		pc.Iterate(3, batch, func(p r3.Vector, d Data) bool {
			total++
			return true
		})
	}
	test.That(t, total, test.ShouldEqual, 10)

	count := 0
	pc.Iterate(0, 0, func(p r3.Vector, d Data) bool {
		count++
		return count < 4
	})
	test.That(t, count, test.ShouldEqual, 4)
}

func TestWriteXYZRGB(t *testing.T) {
	pc := New()
	test.That(t, pc.Set(NewVector(-320, -240, 305.5), NewColoredData(color.NRGBA{255, 0, 12, 255})), test.ShouldBeNil)
	test.That(t, pc.Set(NewVector(4, 0.25, 0), NewBasicData()), test.ShouldBeNil)

	var buf bytes.Buffer
	test.That(t, WriteXYZRGB(pc, &buf), test.ShouldBeNil)
	test.That(t, buf.String(), test.ShouldEqual, "-320 -240 305.5 255 0 12\r\n4 0.25 0 0 0 0\r\n")
}

func TestToPCD(t *testing.T) {
	pc := New()
	test.That(t, pc.Set(NewVector(1, 2, 3), NewColoredData(color.NRGBA{1, 2, 3, 255})), test.ShouldBeNil)

	var buf bytes.Buffer
	test.That(t, ToPCD(pc, &buf, PCDAscii), test.ShouldBeNil)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	test.That(t, lines[1], test.ShouldEqual, "FIELDS x y z rgb")
	test.That(t, lines[len(lines)-2], test.ShouldEqual, "DATA ascii")
	test.That(t, lines[len(lines)-1], test.ShouldEqual, "1.000000 2.000000 3.000000 66051")

	buf.Reset()
	test.That(t, ToPCD(pc, &buf, PCDBinary), test.ShouldBeNil)
	header, data, found := strings.Cut(buf.String(), "DATA binary\n")
	test.That(t, found, test.ShouldBeTrue)
	test.That(t, header, test.ShouldContainSubstring, "POINTS 1")
	test.That(t, len(data), test.ShouldEqual, 16)

	test.That(t, ToPCD(pc, &buf, PCDType(9)), test.ShouldNotBeNil)
}

func TestWriteToFile(t *testing.T) {
	pc := New()
	test.That(t, pc.Set(NewVector(1, 1, 1), NewBasicData()), test.ShouldBeNil)
	dir := t.TempDir()

	txt := filepath.Join(dir, "frames", "000001.txt")
	test.That(t, WriteToFile(pc, txt), test.ShouldBeNil)
	data, err := os.ReadFile(txt)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(data), test.ShouldEqual, "1 1 1 0 0 0\r\n")

	pcd := filepath.Join(dir, "frames", "000001.pcd")
	test.That(t, WriteToFile(pc, pcd), test.ShouldBeNil)
	data, err = os.ReadFile(pcd)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(data), test.ShouldContainSubstring, "FIELDS x y z\n")
}
