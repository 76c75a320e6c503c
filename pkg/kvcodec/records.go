package kvcodec

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/genc-murat/ringtsdb/internal/core/models"
)

var errTruncatedKey = fmt.Errorf("kvcodec: truncated key")

// Sample records are fixed-size: i64 big-endian timestamp followed by the
// f64 value in IEEE-754 little-endian. Constant record size keeps disk usage
// at num_metrics * slots * SampleRecordSize.
const SampleRecordSize = 16

func EncodeSample(ts int64, value float64) []byte {
	b := make([]byte, SampleRecordSize)
	binary.BigEndian.PutUint64(b[0:8], uint64(ts))
	binary.LittleEndian.PutUint64(b[8:16], math.Float64bits(value))
	return b
}

func DecodeSample(b []byte) (ts int64, value float64, err error) {
	if len(b) != SampleRecordSize {
		return 0, 0, fmt.Errorf("kvcodec: sample record is %d bytes, want %d", len(b), SampleRecordSize)
	}
	ts = int64(binary.BigEndian.Uint64(b[0:8]))
	value = math.Float64frombits(binary.LittleEndian.Uint64(b[8:16]))
	return ts, value, nil
}

// Counter state shares the sample layout: last_ts then last_raw.
func EncodeCounterState(st models.CounterState) []byte {
	return EncodeSample(st.LastTS, st.LastRaw)
}

func DecodeCounterState(b []byte) (models.CounterState, error) {
	ts, raw, err := DecodeSample(b)
	if err != nil {
		return models.CounterState{}, err
	}
	return models.CounterState{LastTS: ts, LastRaw: raw}, nil
}

// Descriptor records are a length-prefixed map in a fixed field order. Each
// field is (u8 id, u32 big-endian length, payload); unknown ids are skipped
// on decode so fields can be added without rewriting stored records.
const (
	fieldName      byte = 1
	fieldTags      byte = 2
	fieldStep      byte = 3
	fieldSlots     byte = 4
	fieldType      byte = 5
	fieldCreatedAt byte = 6
	fieldDeleting  byte = 7
)

func EncodeMetric(m models.Metric) []byte {
	var out []byte
	out = appendField(out, fieldName, []byte(m.Name))
	out = appendField(out, fieldTags, encodeTags(m.Tags))
	out = appendField(out, fieldStep, beUint32(m.Step))
	out = appendField(out, fieldSlots, beUint32(m.Slots))
	out = appendField(out, fieldType, []byte{byte(m.Type)})
	out = appendField(out, fieldCreatedAt, beInt64(m.CreatedAt))
	if m.Deleting {
		out = appendField(out, fieldDeleting, []byte{1})
	}
	return out
}

func DecodeMetric(b []byte) (models.Metric, error) {
	var m models.Metric
	for len(b) > 0 {
		if len(b) < 5 {
			return m, fmt.Errorf("kvcodec: truncated descriptor field header")
		}
		id := b[0]
		n := binary.BigEndian.Uint32(b[1:5])
		b = b[5:]
		if uint32(len(b)) < n {
			return m, fmt.Errorf("kvcodec: descriptor field %d overruns record", id)
		}
		payload := b[:n]
		b = b[n:]
		switch id {
		case fieldName:
			m.Name = string(payload)
		case fieldTags:
			tags, err := decodeTags(payload)
			if err != nil {
				return m, err
			}
			m.Tags = tags
		case fieldStep:
			if len(payload) != 4 {
				return m, fmt.Errorf("kvcodec: bad step field")
			}
			m.Step = binary.BigEndian.Uint32(payload)
		case fieldSlots:
			if len(payload) != 4 {
				return m, fmt.Errorf("kvcodec: bad slots field")
			}
			m.Slots = binary.BigEndian.Uint32(payload)
		case fieldType:
			if len(payload) != 1 {
				return m, fmt.Errorf("kvcodec: bad type field")
			}
			m.Type = models.MetricType(payload[0])
		case fieldCreatedAt:
			if len(payload) != 8 {
				return m, fmt.Errorf("kvcodec: bad created_at field")
			}
			m.CreatedAt = int64(binary.BigEndian.Uint64(payload))
		case fieldDeleting:
			m.Deleting = len(payload) == 1 && payload[0] == 1
		}
	}
	if m.Step == 0 || m.Slots == 0 {
		return m, fmt.Errorf("kvcodec: descriptor missing ring geometry")
	}
	return m, nil
}

// MetricID sequence values are little-endian u64, matching the layout the
// original allocator used for its counter cell.
func EncodeMetricID(id uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], id)
	return b[:]
}

func DecodeMetricID(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("kvcodec: metric id cell is %d bytes, want 8", len(b))
	}
	return binary.LittleEndian.Uint64(b), nil
}

func appendField(out []byte, id byte, payload []byte) []byte {
	out = append(out, id)
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(payload)))
	out = append(out, n[:]...)
	return append(out, payload...)
}

// Tags encode as u16 pair count, then key/value strings each with a u16
// big-endian length prefix, sorted by key so equal tag sets encode equally.
func encodeTags(tags map[string]string) []byte {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []byte
	var n [2]byte
	binary.BigEndian.PutUint16(n[:], uint16(len(keys)))
	out = append(out, n[:]...)
	for _, k := range keys {
		out = appendString16(out, k)
		out = appendString16(out, tags[k])
	}
	return out
}

func decodeTags(b []byte) (map[string]string, error) {
	if len(b) < 2 {
		return nil, fmt.Errorf("kvcodec: truncated tag map")
	}
	count := binary.BigEndian.Uint16(b[:2])
	b = b[2:]
	tags := make(map[string]string, count)
	for i := uint16(0); i < count; i++ {
		k, rest, err := readString16(b)
		if err != nil {
			return nil, err
		}
		v, rest, err := readString16(rest)
		if err != nil {
			return nil, err
		}
		tags[k] = v
		b = rest
	}
	return tags, nil
}

func appendString16(out []byte, s string) []byte {
	var n [2]byte
	binary.BigEndian.PutUint16(n[:], uint16(len(s)))
	out = append(out, n[:]...)
	return append(out, s...)
}

func readString16(b []byte) (string, []byte, error) {
	if len(b) < 2 {
		return "", nil, fmt.Errorf("kvcodec: truncated string")
	}
	n := binary.BigEndian.Uint16(b[:2])
	b = b[2:]
	if len(b) < int(n) {
		return "", nil, fmt.Errorf("kvcodec: truncated string payload")
	}
	return string(b[:n]), b[n:], nil
}

func beUint32(v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return b[:]
}

func beInt64(v int64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	return b[:]
}
