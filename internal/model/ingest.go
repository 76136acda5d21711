package model

// IngestEnvelope carries one raw event line with source metadata.
// It is the transport contract between input plugins and line decoding.
type IngestEnvelope struct {
	Source string
	Line   string
}
