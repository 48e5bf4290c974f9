package potts

import (
	"encoding/json"
	"fmt"
	"os"

	"gonum.org/v1/gonum/mat"
)

// modelVersion tags the on-disk layout; Load rejects other versions.
const modelVersion = "potts/v1"

// modelFile is the JSON layout shared by Save and Load. Each coupling
// matrix is stored as one flat row-major K×K slice, pairs in the order
// New expects.
type modelFile struct {
	Version   string      `json:"version"`
	P         int         `json:"p"`
	K         int         `json:"k"`
	Couplings [][]float64 `json:"couplings"`
	Fields    []float64   `json:"fields"`
}

// Save writes the model to path as indented JSON, so a drawn instance
// can be pinned down and re-annealed or enumerated later.
func (m *Potts) Save(path string) error {
	mf := modelFile{
		Version:   modelVersion,
		P:         m.p,
		K:         m.k,
		Couplings: make([][]float64, len(m.couplings)),
		Fields:    m.fields,
	}
	for i, J := range m.couplings {
		flat := make([]float64, 0, m.k*m.k)
		for r := 0; r < m.k; r++ {
			flat = append(flat, J.RawRowView(r)...)
		}
		mf.Couplings[i] = flat
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("potts: save model: %w", err)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(mf); err != nil {
		return fmt.Errorf("potts: encode model: %w", err)
	}
	return nil
}

// Load reads a model written by Save, revalidating every dimension
// before handing the parameters to New.
func Load(path string) (*Potts, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("potts: load model: %w", err)
	}
	var mf modelFile
	if err := json.Unmarshal(data, &mf); err != nil {
		return nil, fmt.Errorf("potts: parse model %s: %w", path, err)
	}
	if mf.Version != modelVersion {
		return nil, fmt.Errorf("potts: %s has model version %q, want %q", path, mf.Version, modelVersion)
	}
	if mf.P <= 0 || mf.K <= 0 {
		return nil, fmt.Errorf("potts: %s has dims P=%d K=%d", path, mf.P, mf.K)
	}
	couplings := make([]*mat.Dense, len(mf.Couplings))
	for i, flat := range mf.Couplings {
		if len(flat) != mf.K*mf.K {
			return nil, fmt.Errorf("potts: %s coupling %d has %d entries, want %d", path, i, len(flat), mf.K*mf.K)
		}
		couplings[i] = mat.NewDense(mf.K, mf.K, flat)
	}
	return New(mf.P, mf.K, couplings, mf.Fields)
}
