package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// epochMillisThreshold separates epoch seconds from epoch milliseconds in a
// numeric published field.
const epochMillisThreshold = 1e12

// UnmarshalJSON decodes the record and keeps a copy of the original bytes.
// It never fails: counts that are not integers become unknown, a numeric
// published field is read as a Unix epoch (UTC), and any other mismatch is
// kept in DecodeErr.
func (r *SourceRecord) UnmarshalJSON(data []byte) error {
	type plain SourceRecord
	payload := append(json.RawMessage(nil), data...)

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		*r = SourceRecord{Payload: payload, DecodeErr: &ValidationError{Field: "record", Reason: "not a JSON object"}}
		return nil
	}

	published, pubErr := decodePublished(fields["published"])
	free := decodeCount(fields["free"])
	total := decodeCount(fields["total"])
	delete(fields, "published")
	delete(fields, "free")
	delete(fields, "total")

	var p plain
	rest, err := json.Marshal(fields)
	if err == nil {
		err = json.Unmarshal(rest, &p)
	}

	*r = SourceRecord(p)
	r.Published = published
	r.Free = free
	r.Total = total
	r.Payload = payload
	switch {
	case err != nil:
		r.DecodeErr = fieldError(err)
	case pubErr != nil:
		r.DecodeErr = pubErr
	}
	return nil
}

func decodePublished(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		sec, nsec := math.Modf(n)
		if math.Abs(n) >= epochMillisThreshold {
			sec, nsec = math.Modf(n / 1000)
		}
		return time.Unix(int64(sec), int64(nsec*1e9)).UTC().Format(time.RFC3339Nano), nil
	}
	return "", &ValidationError{Field: "published", Reason: fmt.Sprintf("unsupported value %s", raw)}
}

// decodeCount reads a space count leniently: integral numbers and numeric
// strings are accepted, anything else is unknown.
func decodeCount(raw json.RawMessage) *int {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil
		}
		if n, err = strconv.ParseFloat(strings.TrimSpace(s), 64); err != nil {
			return nil
		}
	}
	if math.IsNaN(n) || math.IsInf(n, 0) || n != math.Trunc(n) || math.Abs(n) > math.MaxInt32 {
		return nil
	}
	v := int(n)
	return &v
}

func fieldError(err error) *ValidationError {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return &ValidationError{Field: typeErr.Field, Reason: fmt.Sprintf("expected %s, got %s", typeErr.Type, typeErr.Value)}
	}
	return &ValidationError{Field: "record", Reason: err.Error()}
}
