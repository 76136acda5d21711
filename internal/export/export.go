// Package export encodes snapshots into their wire formats.
package export

import (
	"bytes"
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"github.com/tinytelemetry/tally/internal/model"
	"gopkg.in/yaml.v3"
)

// Encode writes v in format, gzip-compressed when gz is set.
func Encode(w io.Writer, format string, v any, gz bool) error {
	if !gz {
		return encode(w, format, v)
	}
	zw := gzip.NewWriter(w)
	if err := encode(zw, format, v); err != nil {
		_ = zw.Close()
		return err
	}
	return zw.Close()
}

func encode(w io.Writer, format string, v any) error {
	switch format {
	case model.FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("encode json: %w", err)
		}
		return nil
	case model.FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return enc.Close()
	default:
		return fmt.Errorf("%w: %q", model.ErrUnsupportedFormat, format)
	}
}

// Marshal encodes a snapshot in its own format.
func Marshal(snap *model.ExportSnapshot, gz bool) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, snap.Format, snap, gz); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ContentType returns the HTTP content type for format.
func ContentType(format string, gz bool) string {
	if gz {
		return "application/gzip"
	}
	if format == model.FormatYAML {
		return "application/yaml"
	}
	return "application/json"
}

// Extension returns the file extension for format, without the dot.
func Extension(format string, gz bool) string {
	ext := "json"
	if format == model.FormatYAML {
		ext = "yaml"
	}
	if gz {
		ext += ".gz"
	}
	return ext
}
