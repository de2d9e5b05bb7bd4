package track

// Matrix is a small dense row-major float64 matrix. The filter state is 4x4
// at most, so no external linear algebra package is warranted.
type Matrix struct {
	rows, cols int
	data       []float64
}

// NewMatrix creates a zero matrix of the given size.
func NewMatrix(rows, cols int) *Matrix {
	return &Matrix{
		rows: rows,
		cols: cols,
		data: make([]float64, rows*cols),
	}
}

// Identity returns the n x n identity matrix.
func Identity(n int) *Matrix {
	m := NewMatrix(n, n)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1.0)
	}
	return m
}

// Scaled returns the n x n diagonal matrix s * I.
func Scaled(n int, s float64) *Matrix {
	m := NewMatrix(n, n)
	for i := 0; i < n; i++ {
		m.Set(i, i, s)
	}
	return m
}

// At returns the value at row r, column c.
func (m *Matrix) At(r, c int) float64 {
	return m.data[r*m.cols+c]
}

// Set stores val at row r, column c.
func (m *Matrix) Set(r, c int, val float64) {
	m.data[r*m.cols+c] = val
}

// Add returns m + other.
func (m *Matrix) Add(other *Matrix) *Matrix {
	res := NewMatrix(m.rows, m.cols)
	for i := range m.data {
		res.data[i] = m.data[i] + other.data[i]
	}
	return res
}

// Subtract returns m - other.
func (m *Matrix) Subtract(other *Matrix) *Matrix {
	res := NewMatrix(m.rows, m.cols)
	for i := range m.data {
		res.data[i] = m.data[i] - other.data[i]
	}
	return res
}

// Multiply returns the product m * other.
func (m *Matrix) Multiply(other *Matrix) *Matrix {
	if m.cols != other.rows {
		panic("track: matrix dimensions incompatible for multiplication")
	}
	res := NewMatrix(m.rows, other.cols)
	for i := 0; i < m.rows; i++ {
		for j := 0; j < other.cols; j++ {
			sum := 0.0
			for k := 0; k < m.cols; k++ {
				sum += m.At(i, k) * other.At(k, j)
			}
			res.Set(i, j, sum)
		}
	}
	return res
}

// Transpose returns the transpose of m.
func (m *Matrix) Transpose() *Matrix {
	res := NewMatrix(m.cols, m.rows)
	for i := 0; i < m.rows; i++ {
		for j := 0; j < m.cols; j++ {
			res.Set(j, i, m.At(i, j))
		}
	}
	return res
}

// Inverse returns the inverse of a 2x2 matrix. The innovation covariance is
// the only matrix the filter inverts.
func (m *Matrix) Inverse() *Matrix {
	if m.rows != 2 || m.cols != 2 {
		panic("track: inverse implemented for 2x2 matrices only")
	}
	a, b := m.At(0, 0), m.At(0, 1)
	c, d := m.At(1, 0), m.At(1, 1)

	det := a*d - b*c
	if det == 0 {
		panic("track: singular matrix")
	}
	invDet := 1.0 / det

	res := NewMatrix(2, 2)
	res.Set(0, 0, d*invDet)
	res.Set(0, 1, -b*invDet)
	res.Set(1, 0, -c*invDet)
	res.Set(1, 1, a*invDet)
	return res
}
