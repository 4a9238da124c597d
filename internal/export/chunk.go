package export

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/bl4ck0w1/tesuite/internal/flatten"
	"github.com/bl4ck0w1/tesuite/pkg/models"
	"github.com/sirupsen/logrus"
)

// Streamer opens a newline-delimited JSON download.
type Streamer interface {
	Stream(ctx context.Context, path string) (io.ReadCloser, error)
}

// ChunkReader downloads one chunk and flattens every line. A line that is not
// valid JSON is logged and dropped; the rest of the chunk is still used.
type ChunkReader struct {
	client    Streamer
	flattener flatten.Flattener
	logger    *logrus.Logger
}

func NewChunkReader(client Streamer, logger *logrus.Logger) *ChunkReader {
	if logger == nil {
		logger = logrus.New()
	}
	return &ChunkReader{
		client:    client,
		flattener: flatten.New(flatten.DefaultSeparator),
		logger:    logger,
	}
}

// Read fetches path and returns its records. Transfer failures are returned
// unchanged so the caller sees the TransferError.
func (r *ChunkReader) Read(ctx context.Context, domain models.Domain, path string) ([]flatten.Record, []Warning, error) {
	body, err := r.client.Stream(ctx, path)
	if err != nil {
		r.logger.WithFields(logrus.Fields{"domain": domain, "chunk": path}).WithError(err).Error("Chunk download failed")
		return nil, nil, err
	}
	defer body.Close()
	return r.ReadFrom(body, domain, path)
}

// ReadFrom decodes newline-delimited JSON from rd. source only labels log lines.
func (r *ChunkReader) ReadFrom(rd io.Reader, domain models.Domain, source string) ([]flatten.Record, []Warning, error) {
	var (
		records  []flatten.Record
		warnings []Warning
	)
	br := bufio.NewReaderSize(rd, 64<<10)
	log := r.logger.WithFields(logrus.Fields{"domain": domain, "chunk": source})

	for lineNum := 1; ; lineNum++ {
		line, readErr := br.ReadBytes('\n')
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return records, warnings, fmt.Errorf("read chunk %s line %d: %w", source, lineNum, readErr)
		}

		line = bytes.TrimSpace(line)
		if len(line) > 0 {
			v, err := flatten.Parse(line)
			if err != nil {
				w := Warning{
					Kind:    WarnDecode,
					Domain:  domain,
					Message: fmt.Sprintf("failed to decode line %d from %s: %v", lineNum, source, err),
				}
				warnings = append(warnings, w)
				log.WithField("line", lineNum).Warnf("Failed to decode line: %v", err)
			} else {
				records = r.appendValue(records, v)
			}
		}

		if readErr != nil {
			break
		}
	}
	return records, warnings, nil
}

func (r *ChunkReader) appendValue(records []flatten.Record, v flatten.Value) []flatten.Record {
	switch v.Kind() {
	case flatten.Object:
		return append(records, r.flattener.Flatten(v))
	case flatten.Array:
		for _, item := range v.Items() {
			if item.Kind() == flatten.Object {
				records = append(records, r.flattener.Flatten(item))
			} else {
				records = append(records, flatten.Wrap(item))
			}
		}
		return records
	default:
		return append(records, flatten.Wrap(v))
	}
}
