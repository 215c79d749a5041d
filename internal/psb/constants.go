package psb

// Magic identifies a decoded PSB container ("PSB\0").
var Magic = [4]byte{'P', 'S', 'B', 0}

// MdfSignature marks a block that is zlib-compressed and XOR-obfuscated ("mdf\0").
// Any other signature means the block is stored as-is.
var MdfSignature = [4]byte{'m', 'd', 'f', 0}

const (
	// HeaderSize is the size in bytes of the fixed container header.
	HeaderSize = 40

	// BlockHeaderSize is the size in bytes of the mdf header preceding every
	// independently compressed unit.
	BlockHeaderSize = 8

	// KeyLength is the length of the XOR keystream in bytes.
	KeyLength = 0x50

	// DefaultAlign is the alignment of every sub-resource inside the companion blob.
	DefaultAlign = 0x800

	// DefaultCompressionLevel is the zlib level used when injecting resources.
	DefaultCompressionLevel = 9

	// MaxDepth is the deepest nesting of arrays and maps the decoder accepts.
	MaxDepth = 512
)

// FixedSeed is prepended to the lowercased resource basename before hashing.
// Reference: m2engage.elf
var FixedSeed = []byte("MX8wgGEJ2+M47")

// Value tag bytes. The ranges are inclusive.
//
// IntArray tags 13-20 carry count widths up to 8, so VarArray width tags are
// accepted up to maxVarWidth for counts and elements alike.
const (
	TagNullMin      = 1
	TagNullMax      = 3
	TagIntMin       = 4
	TagIntMax       = 12
	TagIntArrayMin  = 13
	TagIntArrayMax  = 20
	TagStringMin    = 21
	TagStringMax    = 24
	TagChunkMin     = 25
	TagChunkMax     = 28
	TagFloatZero    = 29
	TagFloat32      = 30
	TagFloat64      = 31
	TagArray        = 32
	TagMap          = 33
	varWidthBias    = 12
	maxVarWidth     = 8
	MaxRefWidth     = 4
	maxIntWidth     = 8
)

// FileInfoKey is the root map key whose value maps resource names to
// [offset, length] pairs inside the companion blob.
const FileInfoKey = "file_info"
