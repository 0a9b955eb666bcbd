package binprot

// OpCode identifies a binary protocol command.
type OpCode uint8

// Status is the response status code carried in bytes 6..8 of a response header.
type Status uint16

// Frame layout
const (
	// HeaderLen is the fixed size of every request and response header.
	HeaderLen = 24

	// MaxKeyLength is the longest key memcached accepts.
	MaxKeyLength = 250

	// MaxExtraLength is bounded by the 1-byte extra length field.
	MaxExtraLength = 0xff
)

// Magic bytes
const (
	MagicRequest  uint8 = 0x80
	MagicResponse uint8 = 0x81
)

// Header field offsets (all multi-byte fields are big-endian).
const (
	offMagic     = 0
	offOpCode    = 1
	offKeyLen    = 2
	offExtraLen  = 4
	offDataType  = 5
	offStatus    = 6
	offBodyLen   = 8
	offOpaque    = 12
	offCAS       = 16
	minHeaderLen = offOpaque // enough to read the body length
)

// Command opcodes.
//
// Only the commands used by the client are defined. Arithmetic, append,
// flush and stat commands are intentionally not supported.
const (
	// OpGet retrieves a value. Response extra holds the 4-byte flags word.
	OpGet OpCode = 0x00

	// OpSet stores a value. Request extra holds flags (4 bytes) and expiry (4 bytes).
	OpSet OpCode = 0x01

	// OpDelete removes a key.
	OpDelete OpCode = 0x04

	// OpNoop is an empty round trip, used for idle connection health checks.
	OpNoop OpCode = 0x0a

	// OpSASLAuth authenticates the connection. Key is the mechanism name.
	OpSASLAuth OpCode = 0x21
)

// SASLMechanismPlain is the only authentication mechanism the client speaks.
const SASLMechanismPlain = "PLAIN"

// Response statuses
const (
	StatusOK               Status = 0x0000
	StatusKeyNotFound      Status = 0x0001
	StatusKeyExists        Status = 0x0002
	StatusValueTooLarge    Status = 0x0003
	StatusInvalidArguments Status = 0x0004
	StatusItemNotStored    Status = 0x0005
	StatusNonNumericValue  Status = 0x0006
	StatusAuthError        Status = 0x0020
	StatusAuthContinue     Status = 0x0021
	StatusUnknownCommand   Status = 0x0081
	StatusOutOfMemory      Status = 0x0082
	StatusNotSupported     Status = 0x0083
	StatusInternalError    Status = 0x0084
	StatusBusy             Status = 0x0085
	StatusTemporaryFailure Status = 0x0086
)

var statusNames = map[Status]string{
	StatusOK:               "no error",
	StatusKeyNotFound:      "key not found",
	StatusKeyExists:        "key exists",
	StatusValueTooLarge:    "value too large",
	StatusInvalidArguments: "invalid arguments",
	StatusItemNotStored:    "item not stored",
	StatusNonNumericValue:  "incr/decr on non-numeric value",
	StatusAuthError:        "authentication error",
	StatusAuthContinue:     "authentication continue",
	StatusUnknownCommand:   "unknown command",
	StatusOutOfMemory:      "out of memory",
	StatusNotSupported:     "not supported",
	StatusInternalError:    "internal error",
	StatusBusy:             "busy",
	StatusTemporaryFailure: "temporary failure",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "unknown status"
}

var opNames = map[OpCode]string{
	OpGet:      "get",
	OpSet:      "set",
	OpDelete:   "delete",
	OpNoop:     "noop",
	OpSASLAuth: "sasl-auth",
}

func (o OpCode) String() string {
	if name, ok := opNames[o]; ok {
		return name
	}
	return "op-unknown"
}
