package amf

// OrderedProperty is a single key/value pair within an OrderedObject.
type OrderedProperty struct {
	Key   string
	Value interface{}
}

// OrderedObject is an insertion-ordered alternative to the plain
// map[string]interface{} used by Object. onMetaData producers (and most
// consumers) expect a stable, author-chosen property order rather than the
// lexicographic order EncodeObject/EncodeEcmaArray impose on maps; callers
// that care about order build one of these instead of a map.
//
// OrderedObject always encodes on the wire as an AMF0 ECMA Array (marker
// 0x08), since onMetaData is the only call site that needs ordering and
// onMetaData is conventionally carried as an ECMA Array.
type OrderedObject []OrderedProperty

// Set appends a key/value pair, returning the extended slice. It does not
// deduplicate existing keys; callers assemble metadata property lists with a
// fixed, known set of keys and do not need overwrite semantics.
func (o OrderedObject) Set(key string, value interface{}) OrderedObject {
	return append(o, OrderedProperty{Key: key, Value: value})
}
