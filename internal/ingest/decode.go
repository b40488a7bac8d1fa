package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

var (
	// ErrEmptyBatch is returned when a body carries no records at all
	ErrEmptyBatch = errors.New("empty batch")
	// ErrUnparseableBatch is returned when not a single record could be decoded
	ErrUnparseableBatch = errors.New("unparseable batch")
	// ErrBatchTooLarge is returned when a body decodes to more than the allowed size
	ErrBatchTooLarge = errors.New("batch too large")
)

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// Record is one decoded telemetry record before normalization
type Record map[string]any

// Batch is the decoded form of one request body
type Batch struct {
	Records []Record
	// BadLines counts NDJSON lines or array items that were not objects
	BadLines int
}

// Decode decompresses and parses a telemetry body. JSON bodies hold an array
// or a single object, CBOR bodies an array; anything else is read as NDJSON.
// maxBytes caps the decoded body size; zero or less disables the cap.
func Decode(body []byte, contentType, contentEncoding string, maxBytes int64) (*Batch, error) {
	raw, err := decompress(body, contentEncoding, maxBytes)
	if errors.Is(err, ErrBatchTooLarge) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparseableBatch, err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, ErrEmptyBatch
	}

	var batch *Batch
	switch mediaType(contentType) {
	case "application/json":
		batch, err = decodeJSON(raw)
	case "application/cbor":
		batch, err = decodeCBOR(raw)
	default:
		batch = decodeNDJSON(raw)
	}
	if err != nil {
		return nil, err
	}

	if len(batch.Records) == 0 {
		if batch.BadLines > 0 {
			return nil, fmt.Errorf("%w: %d bad lines", ErrUnparseableBatch, batch.BadLines)
		}
		return nil, ErrEmptyBatch
	}
	return batch, nil
}

func decompress(body []byte, encoding string, limit int64) ([]byte, error) {
	encoding = strings.ToLower(strings.TrimSpace(encoding))

	switch {
	case bytes.HasPrefix(body, gzipMagic) || encoding == "gzip":
		zr, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip body: %w", err)
		}
		defer zr.Close()
		out, err := readLimited(zr, limit)
		if err != nil {
			return nil, fmt.Errorf("failed to read gzip body: %w", err)
		}
		return out, nil
	case bytes.HasPrefix(body, zstdMagic) || encoding == "zstd":
		opts := []zstd.DOption{zstd.WithDecoderConcurrency(1)}
		if limit > 0 {
			opts = append(opts, zstd.WithDecoderMaxMemory(uint64(limit)))
		}
		// small bodies are decoded eagerly by NewReader
		dec, err := zstd.NewReader(bytes.NewReader(body), opts...)
		if zstdTooLarge(err) {
			return nil, ErrBatchTooLarge
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
		}
		defer dec.Close()
		out, err := readLimited(dec, limit)
		if zstdTooLarge(err) {
			return nil, ErrBatchTooLarge
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read zstd body: %w", err)
		}
		return out, nil
	}
	if limit > 0 && int64(len(body)) > limit {
		return nil, ErrBatchTooLarge
	}
	return body, nil
}

func zstdTooLarge(err error) bool {
	return errors.Is(err, zstd.ErrDecoderSizeExceeded) || errors.Is(err, zstd.ErrWindowSizeExceeded)
}

// readLimited reads r to the end, failing with ErrBatchTooLarge once more
// than limit bytes come out
func readLimited(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	out, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(out)) > limit {
		return nil, ErrBatchTooLarge
	}
	return out, nil
}

func mediaType(contentType string) string {
	mt, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(mt))
}

func decodeJSON(raw []byte) (*Batch, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparseableBatch, err)
	}

	batch := &Batch{}
	switch v := doc.(type) {
	case map[string]any:
		batch.Records = append(batch.Records, Record(v))
	case []any:
		for _, item := range v {
			obj, ok := item.(map[string]any)
			if !ok {
				batch.BadLines++
				continue
			}
			batch.Records = append(batch.Records, Record(obj))
		}
	default:
		return nil, fmt.Errorf("%w: expected array or object", ErrUnparseableBatch)
	}
	return batch, nil
}

func decodeCBOR(raw []byte) (*Batch, error) {
	var items []map[string]any
	if err := cbor.Unmarshal(raw, &items); err != nil {
		var single map[string]any
		if errSingle := cbor.Unmarshal(raw, &single); errSingle != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnparseableBatch, err)
		}
		items = append(items, single)
	}

	batch := &Batch{}
	for _, item := range items {
		if item == nil {
			batch.BadLines++
			continue
		}
		batch.Records = append(batch.Records, Record(item))
	}
	return batch, nil
}

func decodeNDJSON(raw []byte) *Batch {
	batch := &Batch{}
	for _, line := range bytes.Split(raw, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		dec := json.NewDecoder(bytes.NewReader(line))
		dec.UseNumber()
		var obj map[string]any
		if err := dec.Decode(&obj); err != nil || obj == nil {
			batch.BadLines++
			continue
		}
		batch.Records = append(batch.Records, Record(obj))
	}
	return batch
}
