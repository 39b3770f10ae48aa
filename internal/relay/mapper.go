package relay

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"unicode/utf8"

	"github.com/Adithya-Monish-Kumar-K/kafka-search-relay/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/kafka-search-relay/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/kafka-search-relay/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/kafka-search-relay/pkg/search"
)

var (
	errNotObject   = errors.New("payload is not a JSON object")
	errInvalidUTF8 = errors.New("payload is not valid UTF-8")
)

// Mapper turns a record payload into an index operation. The payload must be
// a JSON object; it is compacted to a single line, which the bulk format
// requires.
type Mapper struct {
	index string
	ids   string
}

// NewMapper returns a Mapper targeting index. ids is config.DocumentIDsAuto
// (the cluster assigns ids) or config.DocumentIDsOffset (ids derived from the
// record position, so redelivery overwrites instead of duplicating).
func NewMapper(index, ids string) *Mapper {
	return &Mapper{index: index, ids: ids}
}

// Map converts one record. Errors match apperrors.ErrMalformedPayload.
func (m *Mapper) Map(rec kafka.Record) (search.Operation, error) {
	trimmed := bytes.TrimSpace(rec.Value)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return search.Operation{}, m.malformed(rec, errNotObject)
	}
	// json.Compact passes invalid UTF-8 inside strings through untouched
	if !utf8.Valid(trimmed) {
		return search.Operation{}, m.malformed(rec, errInvalidUTF8)
	}
	var buf bytes.Buffer
	buf.Grow(len(trimmed))
	if err := json.Compact(&buf, trimmed); err != nil {
		return search.Operation{}, m.malformed(rec, err)
	}

	op := search.Operation{
		Index:    m.index,
		Document: buf.Bytes(),
	}
	if m.ids == config.DocumentIDsOffset {
		op.DocumentID = DocumentID(rec)
	}
	return op, nil
}

func (m *Mapper) malformed(rec kafka.Record, cause error) error {
	return apperrors.New(apperrors.ErrMalformedPayload, "map",
		fmt.Errorf("record %s: %w", DocumentID(rec), cause))
}

// DocumentID is the position-derived id topic-partition-offset.
func DocumentID(rec kafka.Record) string {
	return rec.Topic + "-" + strconv.Itoa(rec.Partition) + "-" + strconv.FormatInt(rec.Offset, 10)
}
