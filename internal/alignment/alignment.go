// Package alignment 计算示教坐标系到运行时坐标系的映射 (Mark 点配准)
package alignment

import (
	"aoi-edge/internal/types"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ErrInsufficientPoints 任意一侧基准点少于 2 个
var ErrInsufficientPoints = errors.New("insufficient points: need at least 2 reference points on each side")

// Method 记录最终采用的拟合方式
type Method string

const (
	MethodAffine      Method = "affine"      // 3 点仿射 (6 自由度)
	MethodSimilarity  Method = "similarity"  // 2 点相似变换 (旋转 + 等比缩放 + 平移)
	MethodTranslation Method = "translation" // 退化时仅平移
)

// Matrix 是 2x3 仿射矩阵
// [a b tx]
// [c d ty]
type Matrix [2][3]float64

// Apply 对一个点应用变换
func (m Matrix) Apply(x, y float64) (float64, float64) {
	return x*m[0][0] + y*m[0][1] + m[0][2], x*m[1][0] + y*m[1][1] + m[1][2]
}

func (m Matrix) finite() bool {
	for _, row := range m {
		for _, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}

// Translation 返回纯平移矩阵
func Translation(dx, dy float64) Matrix {
	return Matrix{{1, 0, dx}, {0, 1, dy}}
}

// Result 是配准结果
type Result struct {
	Matrix          Matrix        `json:"matrix"`
	Method          Method        `json:"method"`
	CorrectedPoints []types.Point `json:"corrected_points"`
}

// Align 根据示教基准点和实测基准点求解变换，并修正所有检测点
// 策略：两侧均 >=3 点用前 3 点精确仿射；否则相似变换；相似变换无解时退化为首点平移
func Align(taught, measured, inspection []types.Point) (Result, error) {
	if len(taught) < 2 || len(measured) < 2 {
		return Result{}, fmt.Errorf("%w (taught=%d, measured=%d)", ErrInsufficientPoints, len(taught), len(measured))
	}

	m, method := Solve(taught, measured)

	corrected := make([]types.Point, len(inspection))
	for i, p := range inspection {
		x, y := m.Apply(p.X, p.Y)
		corrected[i] = types.Point{
			ID:   p.ID,
			X:    round2(x),
			Y:    round2(y),
			Kind: types.KindInspection,
		}
	}
	return Result{Matrix: m, Method: method, CorrectedPoints: corrected}, nil
}

// Solve 按回退链求解变换矩阵，调用方保证两侧至少各有 2 个点
func Solve(taught, measured []types.Point) (Matrix, Method) {
	if len(taught) >= 3 && len(measured) >= 3 {
		if m, err := affineFrom3(taught[:3], measured[:3]); err == nil {
			return m, MethodAffine
		}
		// 3 点共线时线性方程组奇异，继续走相似变换
	}

	n := min(len(taught), len(measured), 3)
	if m, ok := similarity(taught[:n], measured[:n]); ok {
		return m, MethodSimilarity
	}

	return Translation(measured[0].X-taught[0].X, measured[0].Y-taught[0].Y), MethodTranslation
}

// affineFrom3 解 3 组对应点的精确仿射：
// x' = a*x + b*y + tx, y' = c*x + d*y + ty
func affineFrom3(src, dst []types.Point) (Matrix, error) {
	A := mat.NewDense(6, 6, nil)
	B := mat.NewVecDense(6, nil)
	for i := 0; i < 3; i++ {
		x, y := src[i].X, src[i].Y

		A.Set(i*2, 0, x)
		A.Set(i*2, 1, y)
		A.Set(i*2, 2, 1)
		B.SetVec(i*2, dst[i].X)

		A.Set(i*2+1, 3, x)
		A.Set(i*2+1, 4, y)
		A.Set(i*2+1, 5, 1)
		B.SetVec(i*2+1, dst[i].Y)
	}

	var params mat.VecDense
	if err := params.SolveVec(A, B); err != nil {
		return Matrix{}, fmt.Errorf("affine solve: %w", err)
	}

	m := Matrix{
		{params.AtVec(0), params.AtVec(1), params.AtVec(2)},
		{params.AtVec(3), params.AtVec(4), params.AtVec(5)},
	}
	if !m.finite() {
		return Matrix{}, errors.New("affine solve: non-finite solution")
	}
	return m, nil
}

// similarity 以质心为中心做最小二乘，求旋转 + 等比缩放 + 平移：
// x' = a*x - b*y + tx, y' = b*x + a*y + ty
func similarity(src, dst []types.Point) (Matrix, bool) {
	n := float64(len(src))

	var scx, scy, dcx, dcy float64
	for i := range src {
		scx += src[i].X
		scy += src[i].Y
		dcx += dst[i].X
		dcy += dst[i].Y
	}
	scx /= n
	scy /= n
	dcx /= n
	dcy /= n

	var dot, cross, norm float64
	for i := range src {
		sx, sy := src[i].X-scx, src[i].Y-scy
		dx, dy := dst[i].X-dcx, dst[i].Y-dcy
		dot += sx*dx + sy*dy
		cross += sx*dy - sy*dx
		norm += sx*sx + sy*sy
	}
	// 源点重合时无法确定旋转和缩放
	if norm < 1e-12 {
		return Matrix{}, false
	}

	a := dot / norm
	b := cross / norm
	m := Matrix{
		{a, -b, dcx - (a*scx - b*scy)},
		{b, a, dcy - (b*scx + a*scy)},
	}
	if !m.finite() || (a == 0 && b == 0) {
		return Matrix{}, false
	}
	return m, true
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
