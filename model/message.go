package model

import "time"

// Message is the per-hop transport envelope a relay acknowledges.
type Message struct {
	ID            string
	Timestamp     time.Time
	SuggestedPath []string
	Traversed     []string
	Hash          string
	Payload       []byte
}

// Share is one of the t+1 pieces a payload is split into. It travels to the
// sink independently of its siblings.
type Share struct {
	Index         int      `json:"index"`
	Payload       []byte   `json:"payload"`
	Hash          string   `json:"hash"`
	SuggestedPath []string `json:"suggested_path"`
	Traversed     []string `json:"traversed_path"`
	Timestamp     string   `json:"timestamp"`
	BlockSize     int      `json:"block_size"`
	TotalLen      int      `json:"total_len"`
	Threshold     int      `json:"threshold"`
	PayloadID     string   `json:"payload_id,omitempty"`
}

// Origin returns the node the share started from.
func (s *Share) Origin() string {
	if len(s.Traversed) == 0 {
		return ""
	}
	return s.Traversed[0]
}

// Visited reports whether id already appears in the traversed path.
func (s *Share) Visited(id string) bool {
	for _, v := range s.Traversed {
		if v == id {
			return true
		}
	}
	return false
}

// OnSuggestedPath reports whether id lies on the suggested path.
func (s *Share) OnSuggestedPath(id string) bool {
	for _, v := range s.SuggestedPath {
		if v == id {
			return true
		}
	}
	return false
}
