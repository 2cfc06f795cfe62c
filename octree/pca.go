package octree

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// degenerateVariance is the variance gap below which two principal axes are treated as tied.
const degenerateVariance = 1e-9

// planeFit is the principal component analysis of a set of points.
type planeFit struct {
	centroid  r3.Vector
	normals   [3]r3.Vector
	variances [3]float64
}

// fitPlane computes the centroid and the eigen decomposition of the sample covariance of the
// points, eigenpairs ascending. It returns false when the decomposition fails.
func fitPlane(points []r3.Vector) (planeFit, bool) {
	var fit planeFit
	if len(points) < 2 {
		return fit, false
	}

	data := mat.NewDense(len(points), 3, nil)
	for i, p := range points {
		data.SetRow(i, []float64{p.X, p.Y, p.Z})
		fit.centroid = fit.centroid.Add(p)
	}
	fit.centroid = fit.centroid.Mul(1 / float64(len(points)))

	var cov mat.SymDense
	stat.CovarianceMatrix(&cov, data, nil)

	var eig mat.EigenSym
	if ok := eig.Factorize(&cov, true); !ok {
		return fit, false
	}
	values := eig.Values(nil)
	var vectors mat.Dense
	eig.VectorsTo(&vectors)

	for i := 0; i < 3; i++ {
		fit.variances[i] = math.Max(values[i], 0)
		fit.normals[i] = r3.Vector{X: vectors.At(0, i), Y: vectors.At(1, i), Z: vectors.At(2, i)}.Normalize()
	}
	fit.resolveTiedNormal()
	for i := range fit.normals {
		fit.normals[i] = canonical(fit.normals[i])
	}
	return fit, true
}

// resolveTiedNormal picks a stable plane normal when the two smallest variances tie, as they do
// for points on a single line in a constant depth plane. Any vector of the tied eigenspace is a
// valid normal there, so the one closest to +Z is used and the second axis is rebuilt orthogonal
// to it.
func (fit *planeFit) resolveTiedNormal() {
	if fit.variances[1]-fit.variances[0] > degenerateVariance {
		return
	}
	z := r3.Vector{Z: 1}
	e1, e2 := fit.normals[0], fit.normals[1]
	proj := e1.Mul(z.Dot(e1)).Add(e2.Mul(z.Dot(e2)))
	if proj.Norm() < degenerateVariance {
		return
	}
	fit.normals[0] = proj.Normalize()
	fit.normals[1] = fit.normals[2].Cross(fit.normals[0]).Normalize()
}

// canonical flips v so that its first non-negligible component is positive. Principal axes have
// no inherent sign; this makes fits of the same points reproducible.
func canonical(v r3.Vector) r3.Vector {
	for _, c := range []float64{v.X, v.Y, v.Z} {
		if math.Abs(c) < 1e-12 {
			continue
		}
		if c < 0 {
			return v.Mul(-1)
		}
		return v
	}
	return v
}

// isCoplanar applies the per level plane test: the spread along the normal is within
// maxDistanceToPlane and the in-plane spread is isotropic enough.
func (fit *planeFit) isCoplanar(maxDistanceToPlane, minIsotropy float64) bool {
	if fit.variances[2] <= 0 {
		return false
	}
	if math.Sqrt(fit.variances[0]) > maxDistanceToPlane {
		return false
	}
	return fit.variances[1]/fit.variances[2] >= minIsotropy
}
