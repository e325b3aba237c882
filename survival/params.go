package survival

// Params exposes the model's trainable weights as live backing slices, in a
// fixed order: one slice per embedding table, then the input projection, LSTM,
// hidden projection, and output head, weights before biases. Optimizers update
// these slices in place; the order must stay stable across calls so gradient
// slices line up.
func (m *Model) Params() [][]float64 {
	params := make([][]float64, 0, len(m.embeddings)+8)
	for _, emb := range m.embeddings {
		params = append(params, emb.RawMatrix().Data)
	}
	params = append(params,
		m.wIn.RawMatrix().Data,
		m.bIn.RawVector().Data,
		m.wLSTMx.RawMatrix().Data,
		m.wLSTMh.RawMatrix().Data,
		m.bLSTM.RawVector().Data,
		m.wHid.RawMatrix().Data,
		m.bHid.RawVector().Data,
		m.wOut.RawVector().Data,
		m.bOut.RawVector().Data,
	)
	return params
}
