package psbtypes

// Tree is a decoded PSB container: the header fields that are not offsets, the
// three lookup tables as read, and the entries tree with every reference
// already resolved.
//
// Names, Strings and Chunks reflect the source container. They are informative
// only: the encoder rebuilds all three from Root and never reuses old indices.
type Tree struct {
	Type     uint32
	Unknown1 uint32

	Names   []string
	Strings []string
	Chunks  [][]byte

	Root Value
}
