package domain

import "strings"

// AccountStatus is a bitset of account state flags.
type AccountStatus uint32

const (
	StatusPending AccountStatus = 1 << iota
	StatusActive
	StatusInactive
	StatusBlocked
	StatusSuspended
	StatusDeleted
	StatusUnderReview
	StatusExpired
	StatusLocked
	StatusEmailVerificationPending
	StatusPhoneVerificationPending
	StatusPasswordChangeRequired
	StatusMerged
)

var statusNames = []struct {
	flag AccountStatus
	name string
}{
	{StatusPending, "pending"},
	{StatusActive, "active"},
	{StatusInactive, "inactive"},
	{StatusBlocked, "blocked"},
	{StatusSuspended, "suspended"},
	{StatusDeleted, "deleted"},
	{StatusUnderReview, "under_review"},
	{StatusExpired, "expired"},
	{StatusLocked, "locked"},
	{StatusEmailVerificationPending, "email_verification_pending"},
	{StatusPhoneVerificationPending, "phone_verification_pending"},
	{StatusPasswordChangeRequired, "password_change_required"},
	{StatusMerged, "merged"},
}

const terminalStatuses = StatusDeleted | StatusMerged

// Has reports whether every flag in f is set.
func (s AccountStatus) Has(f AccountStatus) bool {
	return f != 0 && s&f == f
}

// With returns the status with f set.
func (s AccountStatus) With(f AccountStatus) AccountStatus {
	return s | f
}

// Without returns the status with f cleared.
func (s AccountStatus) Without(f AccountStatus) AccountStatus {
	return s &^ f
}

// IsTerminal reports whether the account is deleted or merged.
func (s AccountStatus) IsTerminal() bool {
	return s&terminalStatuses != 0
}

// Valid reports whether the flag combination is allowed.
func (s AccountStatus) Valid() bool {
	if s.Has(StatusPending) && s.Has(StatusActive) {
		return false
	}
	if s.Has(StatusDeleted) && s.Has(StatusMerged) {
		return false
	}
	return true
}

// Names lists the set flags in declaration order.
func (s AccountStatus) Names() []string {
	names := make([]string, 0, 4)
	for _, entry := range statusNames {
		if s&entry.flag != 0 {
			names = append(names, entry.name)
		}
	}
	return names
}

// String joins flag names with '|'.
func (s AccountStatus) String() string {
	if s == 0 {
		return "none"
	}
	return strings.Join(s.Names(), "|")
}

// ParseAccountStatus converts flag names back into a bitset.
func ParseAccountStatus(names []string) (AccountStatus, bool) {
	var status AccountStatus
	for _, raw := range names {
		name := strings.TrimSpace(strings.ToLower(raw))
		found := false
		for _, entry := range statusNames {
			if entry.name == name {
				status |= entry.flag
				found = true
				break
			}
		}
		if !found {
			return 0, false
		}
	}
	return status, true
}
