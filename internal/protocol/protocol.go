package protocol

// Verb identifies a decoded client operation.
type Verb int

const (
	VerbUnknown Verb = iota
	VerbRealpath
	VerbOpendir
	VerbReaddir
	VerbOpen
	VerbRead
	VerbWrite
	VerbClose
)

func (v Verb) String() string {
	switch v {
	case VerbRealpath:
		return "REALPATH"
	case VerbOpendir:
		return "OPENDIR"
	case VerbReaddir:
		return "READDIR"
	case VerbOpen:
		return "OPEN"
	case VerbRead:
		return "READ"
	case VerbWrite:
		return "WRITE"
	case VerbClose:
		return "CLOSE"
	default:
		return "UNKNOWN"
	}
}

// Status is the only success/error vocabulary sent to clients.
type Status int

const (
	StatusOK Status = iota
	StatusEOF
	StatusFailure
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusEOF:
		return "END_OF_FILE"
	default:
		return "FAILURE"
	}
}

// OpenMode is the access mode of an open file. Read-write is not offered.
type OpenMode int

const (
	ModeRead OpenMode = iota
	ModeWrite
)

func (m OpenMode) String() string {
	if m == ModeWrite {
		return "write"
	}
	return "read"
}

// Open flags as sent by SFTP clients (pflags).
const (
	FlagRead   uint32 = 0x01
	FlagWrite  uint32 = 0x02
	FlagAppend uint32 = 0x04
	FlagCreate uint32 = 0x08
	FlagTrunc  uint32 = 0x10
	FlagExcl   uint32 = 0x20
)

// ModeFromFlags maps client open flags onto a mode. Any request to write
// opens write-only; everything else opens read-only.
func ModeFromFlags(flags uint32) OpenMode {
	if flags&FlagWrite != 0 {
		return ModeWrite
	}
	return ModeRead
}

// Request is one decoded client operation. Only the fields relevant to Verb are set.
type Request struct {
	ID     uint32
	Verb   Verb
	Op     string // wire name, kept for logging unsupported operations
	Path   string
	Handle string
	Offset uint64
	Length uint32
	Data   []byte
	Flags  uint32
}

// Kind selects which Response fields carry the result.
type Kind int

const (
	KindStatus Kind = iota
	KindHandle
	KindData
	KindName
)

// Response answers exactly one Request, identified by ID.
type Response struct {
	ID      uint32
	Kind    Kind
	Status  Status
	Message string
	Handle  string
	Data    []byte
	Entries []string
}

// StatusResponse builds a status-only response.
func StatusResponse(id uint32, status Status, msg string) Response {
	return Response{ID: id, Kind: KindStatus, Status: status, Message: msg}
}

// HandleResponse builds a response carrying a newly issued handle.
func HandleResponse(id uint32, handle string) Response {
	return Response{ID: id, Kind: KindHandle, Handle: handle}
}

// DataResponse builds a response carrying file bytes.
func DataResponse(id uint32, data []byte) Response {
	return Response{ID: id, Kind: KindData, Data: data}
}

// NameResponse builds a response carrying entry names.
func NameResponse(id uint32, entries []string) Response {
	return Response{ID: id, Kind: KindName, Entries: entries}
}

// Failed reports whether the response is a FAILURE status.
func (r Response) Failed() bool {
	return r.Kind == KindStatus && r.Status == StatusFailure
}

// StatusLabel names the outcome of a response for logs and metrics.
func (r Response) StatusLabel() string {
	switch r.Kind {
	case KindHandle:
		return "HANDLE"
	case KindData:
		return "DATA"
	case KindName:
		return "NAME"
	default:
		return r.Status.String()
	}
}
