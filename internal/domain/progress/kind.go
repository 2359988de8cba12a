package progress

import "fmt"

// ScanKind identifies which pipeline graph and event vocabulary apply to a
// scan session.
type ScanKind string

const (
	// ScanKindCloud is a cloud-account scan: asset discovery, routing, and
	// parallel active/log scanning.
	ScanKindCloud ScanKind = "cloud"

	// ScanKindRepo is a repository scan: clone followed by the sequential
	// scanner stages (secrets, sca, sast, license).
	ScanKindRepo ScanKind = "repo"
)

// String returns the string representation of the ScanKind.
func (k ScanKind) String() string { return string(k) }

// ParseScanKind converts a string to a ScanKind.
func ParseScanKind(s string) (ScanKind, error) {
	switch s {
	case "cloud":
		return ScanKindCloud, nil
	case "repo":
		return ScanKindRepo, nil
	default:
		return "", fmt.Errorf("unknown scan kind %q", s)
	}
}
