package semantic

// Hit is a single nearest-neighbour result: the matched document and its
// squared Euclidean distance from the query (smaller is more similar).
type Hit struct {
	DocID    string  `json:"doc_id"`
	Distance float32 `json:"distance"`
}

// VectorRecord is a single vector to store in a remote index.
type VectorRecord struct {
	DocID     string
	Embedding []float32
}
