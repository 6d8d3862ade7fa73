// Package delivery models an asset-pack delivery service: named bundles of
// files that are installed on demand, with status updates streamed to
// registered listeners while they download.
package delivery

import "strconv"

// Status is the delivery status of a pack.
type Status string

const (
	StatusDownloading Status = "downloading"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
)

// ErrorCode qualifies a StatusFailed update.
type ErrorCode int

const (
	ErrCodeNone            ErrorCode = 0
	ErrCodePackUnavailable ErrorCode = -1
	ErrCodeNetwork         ErrorCode = -2
	ErrCodeHTTPStatus      ErrorCode = -3
	ErrCodeStorage         ErrorCode = -4
	ErrCodeCanceled        ErrorCode = -5
)

func (c ErrorCode) String() string {
	switch c {
	case ErrCodeNone:
		return "none"
	case ErrCodePackUnavailable:
		return "pack_unavailable"
	case ErrCodeNetwork:
		return "network_error"
	case ErrCodeHTTPStatus:
		return "http_status"
	case ErrCodeStorage:
		return "storage_error"
	case ErrCodeCanceled:
		return "canceled"
	default:
		return "code_" + strconv.Itoa(int(c))
	}
}

// PackState is one status update for a pack.
type PackState struct {
	Name                 string
	Status               Status
	BytesDownloaded      int64
	TotalBytesToDownload int64
	ErrorCode            ErrorCode
}

// Percent returns the integer download percentage of the update.
func (s PackState) Percent() int { return Percent(s.BytesDownloaded, s.TotalBytesToDownload) }

// Percent computes floor(downloaded*100/total), or 0 when total is unknown.
func Percent(downloaded, total int64) int {
	if total <= 0 || downloaded <= 0 {
		return 0
	}
	if downloaded >= total {
		return 100
	}
	return int(downloaded * 100 / total)
}

// Location is where an installed pack's files live.
type Location struct {
	AssetsPath string
}

// Listener receives status updates. It runs on a service-owned goroutine
// and must not block.
type Listener func(PackState)

// Service is the delivery contract the acquisition controller depends on.
type Service interface {
	// PackLocation reports the install location of a pack, if installed.
	PackLocation(name string) (Location, bool)
	// RegisterListener subscribes to status updates for all packs. The
	// returned func unsubscribes.
	RegisterListener(l Listener) (unregister func())
	// Fetch requests a download of the named packs. Progress and the
	// terminal outcome are reported to listeners.
	Fetch(names []string) error
}
