package schema

import "hash/fnv"

// FieldHash returns the schema key of class.field as used by the game's
// schema system: the 32-bit FNV-1a of the class name in the high half
// and of the field name in the low half.
func FieldHash(class, field string) uint64 {
	return uint64(fnv32a(class))<<32 | uint64(fnv32a(field))
}

func fnv32a(s string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return h.Sum32()
}
