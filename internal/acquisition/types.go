package acquisition

// State is the acquisition lifecycle state.
type State string

const (
	StateNotStarted        State = "not_started"
	StateCheckingBundled   State = "checking_bundled"
	StateCheckingDelivered State = "checking_delivered"
	StateDownloading       State = "downloading"
	StateLoading           State = "loading"
	StateReady             State = "ready"
	StateFailed            State = "failed"
)

// rank orders states within one attempt. Transitions never go backwards.
func (s State) rank() int {
	switch s {
	case StateNotStarted:
		return 0
	case StateCheckingBundled:
		return 1
	case StateCheckingDelivered:
		return 2
	case StateDownloading:
		return 3
	case StateLoading:
		return 4
	case StateReady, StateFailed:
		return 5
	}
	return -1
}

// Terminal reports whether no further transition may happen in the attempt.
func (s State) Terminal() bool { return s == StateReady || s == StateFailed }

// SourceKind says where the active model file resides.
type SourceKind string

const (
	SourceBundled       SourceKind = "bundled"
	SourceCacheCopy     SourceKind = "cache_copy"
	SourceDeliveredPack SourceKind = "delivered_pack"
)

// ModelSource is set once acquisition succeeds and never changes afterwards.
type ModelSource struct {
	Kind SourceKind
	Path string
}

// Snapshot is a read-only projection of the controller state.
type Snapshot struct {
	State     State
	AttemptID string
	Progress  int
	Source    *ModelSource
	Err       string
}

// Callbacks receive the outcome of Init. Any field may be nil.
// OnProgress fires for download progress only; it never signals an error.
type Callbacks struct {
	OnReady    func()
	OnError    func(error)
	OnProgress func(percent int)
}

func (cb Callbacks) ready() {
	if cb.OnReady != nil {
		cb.OnReady()
	}
}

func (cb Callbacks) error(err error) {
	if cb.OnError != nil {
		cb.OnError(err)
	}
}
