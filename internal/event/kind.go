package event

import "encoding/json"

// Kind is the tagged union of event payloads described in spec §3. Each
// variant implements Variant() so that the wire encoder/decoder can map
// between the single-key JSON object form `{"<Variant>": {...}}` and a
// concrete Go type, favoring an exhaustive sum type over a class
// hierarchy per spec §9.
type Kind interface {
	Variant() string
}

// AccessType enumerates the ways a variable can be touched by a
// StateChange event.
type AccessType string

const (
	AccessRead        AccessType = "Read"
	AccessWrite       AccessType = "Write"
	AccessAtomicRead  AccessType = "AtomicRead"
	AccessAtomicWrite AccessType = "AtomicWrite"
	AccessAtomicRMW   AccessType = "AtomicRMW"
)

// IsWrite reports whether the access type mutates the variable.
func (a AccessType) IsWrite() bool {
	switch a {
	case AccessWrite, AccessAtomicWrite, AccessAtomicRMW:
		return true
	default:
		return false
	}
}

// IsAtomic reports whether the access type is one of the Atomic* variants.
func (a AccessType) IsAtomic() bool {
	switch a {
	case AccessAtomicRead, AccessAtomicWrite, AccessAtomicRMW:
		return true
	default:
		return false
	}
}

// LockType enumerates the synchronization primitives an event's
// LockAcquire/LockRelease kind may describe.
type LockType string

const (
	LockMutex       LockType = "Mutex"
	LockRwLockRead  LockType = "RwLockRead"
	LockRwLockWrite LockType = "RwLockWrite"
	LockSemaphore   LockType = "Semaphore"
)

// FunctionCall records a function or method invocation.
type FunctionCall struct {
	Name   string          `json:"name"`
	Module string          `json:"module"`
	Args   json.RawMessage `json:"args,omitempty"`
	File   string          `json:"file,omitempty"`
	Line   int             `json:"line,omitempty"`
}

func (FunctionCall) Variant() string { return "FunctionCall" }

// StateChange records a read or write of a named variable.
type StateChange struct {
	Variable   string          `json:"variable"`
	OldValue   json.RawMessage `json:"old_value,omitempty"`
	NewValue   json.RawMessage `json:"new_value,omitempty"`
	Location   string          `json:"location,omitempty"`
	AccessType AccessType      `json:"access_type"`
}

func (StateChange) Variant() string { return "StateChange" }

// HttpRequest records an outbound or inbound HTTP request.
type HttpRequest struct {
	Method  string          `json:"method"`
	URL     string          `json:"url"`
	Headers json.RawMessage `json:"headers,omitempty"`
	Body    json.RawMessage `json:"body,omitempty"`
}

func (HttpRequest) Variant() string { return "HttpRequest" }

// HttpResponse records the response half of an HTTP round trip.
type HttpResponse struct {
	Status     int             `json:"status"`
	Headers    json.RawMessage `json:"headers,omitempty"`
	Body       json.RawMessage `json:"body,omitempty"`
	DurationMs float64         `json:"duration_ms,omitempty"`
}

func (HttpResponse) Variant() string { return "HttpResponse" }

// LockAcquire records acquisition of a lock.
type LockAcquire struct {
	LockID   string   `json:"lock_id"`
	LockType LockType `json:"lock_type"`
}

func (LockAcquire) Variant() string { return "LockAcquire" }

// LockRelease records release of a lock.
type LockRelease struct {
	LockID   string   `json:"lock_id"`
	LockType LockType `json:"lock_type"`
}

func (LockRelease) Variant() string { return "LockRelease" }

// AsyncSpawn records the start of an asynchronous task.
type AsyncSpawn struct {
	TaskID   string `json:"task_id"`
	Name     string `json:"name"`
	Location string `json:"location,omitempty"`
}

func (AsyncSpawn) Variant() string { return "AsyncSpawn" }

// AsyncAwait records a suspension point awaiting a future/task.
type AsyncAwait struct {
	FutureID string `json:"future_id"`
	Location string `json:"location,omitempty"`
}

func (AsyncAwait) Variant() string { return "AsyncAwait" }

// Error records an exception or error surfaced by the instrumented code.
type Error struct {
	ErrorType  string `json:"error_type"`
	Message    string `json:"message"`
	StackTrace string `json:"stack_trace,omitempty"`
}

func (Error) Variant() string { return "Error" }

// Custom records an application-defined event not covered by the other
// variants.
type Custom struct {
	Name string          `json:"name"`
	Data json.RawMessage `json:"data,omitempty"`
}

func (Custom) Variant() string { return "Custom" }
