package common

// MsgKind identifies the semantic kind of a telemetry record
type MsgKind uint8

const (
	// KindSetStoreInfo describes a store (recording or blueprint) and must
	// precede any data logged into it
	KindSetStoreInfo MsgKind = iota
	// KindArrow carries one logged data chunk (image, log line, tensor)
	KindArrow
	// KindBlueprintActivation tells viewers to activate a blueprint store
	KindBlueprintActivation
)

// String returns a human-readable kind name
func (k MsgKind) String() string {
	switch k {
	case KindSetStoreInfo:
		return "set_store_info"
	case KindArrow:
		return "arrow"
	case KindBlueprintActivation:
		return "blueprint_activation"
	default:
		return "unknown"
	}
}

// StoreKind distinguishes recording data from viewer layout data
type StoreKind uint8

const (
	StoreRecording StoreKind = iota
	StoreBlueprint
)

// Msg is a single telemetry record as produced by a recording stream and
// as stored in blueprint files.
type Msg struct {
	Kind          MsgKind   `msgpack:"kind"`
	StoreID       string    `msgpack:"store"`            // Store the record belongs to
	StoreKind     StoreKind `msgpack:"store_kind"`       // Recording or blueprint
	ApplicationID string    `msgpack:"app,omitempty"`    // Set on store info records
	EntityPath    string    `msgpack:"entity,omitempty"` // e.g. "world/camera/rgb"
	RowID         string    `msgpack:"row,omitempty"`    // ULID, unique per record
	LogTime       int64     `msgpack:"log_time"`         // Unix nanoseconds
	LogTick       uint64    `msgpack:"log_tick"`         // Monotonic per producer
	MakeDefault   bool      `msgpack:"make_default,omitempty"`
	MakeActive    bool      `msgpack:"make_active,omitempty"`
	Payload       []byte    `msgpack:"payload,omitempty"` // Opaque data chunk
}

// IsActivation reports whether the record is a blueprint activation directive
func (m Msg) IsActivation() bool {
	return m.Kind == KindBlueprintActivation
}
