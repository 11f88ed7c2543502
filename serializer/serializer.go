// Package serializer defines the format-tagged encode/decode boundary
// between a typed payload and the []byte a Message carries. Concrete,
// non-JSON codecs (Avro, protobuf) are pluggable but not specified here —
// only this interface and the mandatory JSON codec are.
package serializer

// Serializer is the contract every codec implements.
type Serializer interface {
	// Format names the codec ("json", "avro", ...).
	Format() string
	Serialize(v any) ([]byte, error)
	Deserialize(data []byte, v any) error
}
