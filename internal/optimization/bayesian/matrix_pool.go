package bayesian

import (
	"sync"

	"gonum.org/v1/gonum/mat"
)

// MatrixPool keeps released matrices keyed by shape so repeated GP fits on
// growing histories reuse their buffers. It is safe for concurrent use.
type MatrixPool struct {
	mu     sync.Mutex
	syms   map[int][]*mat.SymDense
	denses map[[2]int][]*mat.Dense
}

// NewMatrixPool creates a new MatrixPool
func NewMatrixPool() *MatrixPool {
	return &MatrixPool{
		syms:   make(map[int][]*mat.SymDense),
		denses: make(map[[2]int][]*mat.Dense),
	}
}

// GetSymDense returns an n×n symmetric matrix. Its contents are unspecified.
func (p *MatrixPool) GetSymDense(n int) *mat.SymDense {
	p.mu.Lock()
	defer p.mu.Unlock()
	if free := p.syms[n]; len(free) > 0 {
		m := free[len(free)-1]
		p.syms[n] = free[:len(free)-1]
		return m
	}
	return mat.NewSymDense(n, nil)
}

// PutSymDense returns a symmetric matrix to the pool
func (p *MatrixPool) PutSymDense(m *mat.SymDense) {
	if m == nil {
		return
	}
	n := m.SymmetricDim()
	p.mu.Lock()
	p.syms[n] = append(p.syms[n], m)
	p.mu.Unlock()
}

// GetDense returns an r×c matrix. Its contents are unspecified.
func (p *MatrixPool) GetDense(r, c int) *mat.Dense {
	key := [2]int{r, c}
	p.mu.Lock()
	defer p.mu.Unlock()
	if free := p.denses[key]; len(free) > 0 {
		m := free[len(free)-1]
		p.denses[key] = free[:len(free)-1]
		return m
	}
	return mat.NewDense(r, c, nil)
}

// PutDense returns a dense matrix to the pool
func (p *MatrixPool) PutDense(m *mat.Dense) {
	if m == nil {
		return
	}
	r, c := m.Dims()
	key := [2]int{r, c}
	p.mu.Lock()
	p.denses[key] = append(p.denses[key], m)
	p.mu.Unlock()
}
