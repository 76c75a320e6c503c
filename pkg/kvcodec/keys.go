package kvcodec

// Key families. The first tuple element names the family; values 1..6 are a
// stable on-disk contract, family 0 holds module metadata such as the id
// sequence.
const (
	FamilyMeta      uint64 = 0
	FamilySample    uint64 = 1
	FamilyMetric    uint64 = 2
	FamilyCounter   uint64 = 3
	FamilyNameIndex uint64 = 4
	FamilyTagIndex  uint64 = 5
	FamilyDashboard uint64 = 6
)

const metricIDSeq = "metric_id_seq"

func MetricIDSeqKey() []byte {
	return EncodeTuple(FamilyMeta, metricIDSeq)
}

func SampleKey(metricID uint64, slot uint32) []byte {
	return EncodeTuple(FamilySample, metricID, uint64(slot))
}

// SampleRange covers slots [fromSlot, toSlot] of one metric.
func SampleRange(metricID uint64, fromSlot, toSlot uint32) (begin, end []byte) {
	begin = SampleKey(metricID, fromSlot)
	end = SampleKey(metricID, toSlot+1)
	return begin, end
}

// SampleRangeAll covers the whole ring of one metric.
func SampleRangeAll(metricID uint64) (begin, end []byte) {
	return PrefixRange(EncodeTuple(FamilySample, metricID))
}

func DescriptorKey(metricID uint64) []byte {
	return EncodeTuple(FamilyMetric, metricID)
}

// DescriptorRangeAll covers every descriptor, in metric_id order.
func DescriptorRangeAll() (begin, end []byte) {
	return PrefixRange(EncodeTuple(FamilyMetric))
}

func CounterKey(metricID uint64) []byte {
	return EncodeTuple(FamilyCounter, metricID)
}

// Name and tag index entries are keyed memberships with empty values: the set
// of ids under a prefix is the index set. This keeps index maintenance a
// constant-size write instead of a read-modify-write of a growing blob.
func NameIndexKey(name string, metricID uint64) []byte {
	return EncodeTuple(FamilyNameIndex, name, metricID)
}

func NameIndexRange(name string) (begin, end []byte) {
	return PrefixRange(EncodeTuple(FamilyNameIndex, name))
}

func NameIndexRangeAll() (begin, end []byte) {
	return PrefixRange(EncodeTuple(FamilyNameIndex))
}

func TagIndexKey(name, tagKey, tagValue string, metricID uint64) []byte {
	return EncodeTuple(FamilyTagIndex, name, tagKey, tagValue, metricID)
}

func TagIndexRange(name, tagKey, tagValue string) (begin, end []byte) {
	return PrefixRange(EncodeTuple(FamilyTagIndex, name, tagKey, tagValue))
}

func DashboardKey(slug string) []byte {
	return EncodeTuple(FamilyDashboard, slug)
}

func DashboardRangeAll() (begin, end []byte) {
	return PrefixRange(EncodeTuple(FamilyDashboard))
}

// MetricIDFromIndexKey pulls the trailing metric_id element out of a name or
// tag index key.
func MetricIDFromIndexKey(key []byte) (uint64, error) {
	elems, err := DecodeTuple(key)
	if err != nil {
		return 0, err
	}
	if len(elems) < 2 {
		return 0, errTruncatedKey
	}
	id, ok := elems[len(elems)-1].(uint64)
	if !ok {
		return 0, errTruncatedKey
	}
	return id, nil
}

// SlugFromDashboardKey pulls the slug element out of a dashboard key.
func SlugFromDashboardKey(key []byte) (string, error) {
	elems, err := DecodeTuple(key)
	if err != nil {
		return "", err
	}
	if len(elems) != 2 {
		return "", errTruncatedKey
	}
	slug, ok := elems[1].(string)
	if !ok {
		return "", errTruncatedKey
	}
	return slug, nil
}

// MetricIDFromDescriptorKey pulls the id element out of a descriptor key.
func MetricIDFromDescriptorKey(key []byte) (uint64, error) {
	elems, err := DecodeTuple(key)
	if err != nil {
		return 0, err
	}
	if len(elems) != 2 {
		return 0, errTruncatedKey
	}
	id, ok := elems[1].(uint64)
	if !ok {
		return 0, errTruncatedKey
	}
	return id, nil
}

// SlotFromSampleKey pulls the slot element out of a sample key.
func SlotFromSampleKey(key []byte) (uint32, error) {
	elems, err := DecodeTuple(key)
	if err != nil {
		return 0, err
	}
	if len(elems) != 3 {
		return 0, errTruncatedKey
	}
	slot, ok := elems[2].(uint64)
	if !ok {
		return 0, errTruncatedKey
	}
	return uint32(slot), nil
}
