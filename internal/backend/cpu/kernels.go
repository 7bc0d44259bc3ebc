package cpu

import (
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/tessera-ml/tessera/internal/ir"
)

// matmulParallelMin is the flop count below which row-parallel matmul
// is not worth the goroutine overhead.
const matmulParallelMin = 1 << 16

func (p *Plan) exec(op ir.Op, slots [][]float32) error {
	dst := make([]float32, mustElements(p.graph.Slots[op.Out].Shape))
	switch op.Code {
	case ir.OpAdd:
		a, b := slots[op.In[0]], slots[op.In[1]]
		for i := range dst {
			dst[i] = a[i] + b[i]
		}
	case ir.OpMul:
		a, b := slots[op.In[0]], slots[op.In[1]]
		for i := range dst {
			dst[i] = a[i] * b[i]
		}
	case ir.OpMatMul:
		if err := p.matmul(op, slots, dst); err != nil {
			return err
		}
	case ir.OpRelu:
		for i, v := range slots[op.In[0]] {
			if v > 0 {
				dst[i] = v
			}
		}
	case ir.OpSigmoid:
		for i, v := range slots[op.In[0]] {
			dst[i] = float32(1 / (1 + math.Exp(-float64(v))))
		}
	case ir.OpTanh:
		for i, v := range slots[op.In[0]] {
			dst[i] = float32(math.Tanh(float64(v)))
		}
	case ir.OpSoftmax:
		softmaxLastDim(dst, slots[op.In[0]], p.graph.Slots[op.In[0]].Shape)
	case ir.OpReshape, ir.OpTranspose:
		src := slots[op.In[0]]
		if op.Code == ir.OpReshape {
			copy(dst, src)
		} else {
			shape := p.graph.Slots[op.In[0]].Shape
			transpose2D(dst, src, shape[0], shape[1])
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnsupported, op.Code)
	}
	slots[op.Out] = dst
	return nil
}

func (p *Plan) matmul(op ir.Op, slots [][]float32, dst []float32) error {
	a, b := slots[op.In[0]], slots[op.In[1]]
	as := p.graph.Slots[op.In[0]].Shape
	bs := p.graph.Slots[op.In[1]].Shape
	m, k, n := as[0], as[1], bs[1]

	if p.workers <= 1 || m*k*n < matmulParallelMin {
		matmulRows(dst, a, b, 0, m, k, n)
		return nil
	}

	var g errgroup.Group
	g.SetLimit(p.workers)
	rows := (m + p.workers - 1) / p.workers
	for start := 0; start < m; start += rows {
		end := start + rows
		if end > m {
			end = m
		}
		g.Go(func() error {
			matmulRows(dst, a, b, start, end, k, n)
			return nil
		})
	}
	return g.Wait()
}

func matmulRows(dst, a, b []float32, rowStart, rowEnd, k, n int) {
	for i := rowStart; i < rowEnd; i++ {
		for kk := 0; kk < k; kk++ {
			av := a[i*k+kk]
			if av == 0 {
				continue
			}
			row := b[kk*n : kk*n+n]
			out := dst[i*n : i*n+n]
			for j, bv := range row {
				out[j] += av * bv
			}
		}
	}
}

// softmaxLastDim applies a numerically stable softmax over the final
// dimension, independently per leading index.
func softmaxLastDim(dst, src []float32, shape ir.Shape) {
	inner := shape[len(shape)-1]
	for base := 0; base < len(src); base += inner {
		row := src[base : base+inner]
		out := dst[base : base+inner]

		maxv := row[0]
		for _, v := range row[1:] {
			if v > maxv {
				maxv = v
			}
		}
		var sum float64
		for i, v := range row {
			e := math.Exp(float64(v - maxv))
			out[i] = float32(e)
			sum += e
		}
		inv := float32(1 / sum)
		for i := range out {
			out[i] *= inv
		}
	}
}

func transpose2D(dst, src []float32, rows, cols int) {
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			dst[j*rows+i] = src[i*cols+j]
		}
	}
}

func mustElements(s ir.Shape) int {
	n, err := s.Elements()
	if err != nil {
		return 0
	}
	return n
}
