package election

import "errors"

var (
	// ErrInsufficientAllowance means the stake ledger refused the
	// transfer-in backing a lock.
	ErrInsufficientAllowance = errors.New("insufficient allowance")

	// ErrInsufficientStake means a free exceeds the voter's locked balance.
	ErrInsufficientStake = errors.New("insufficient stake")

	// ErrSlateTooLarge means a ballot names more candidates than allowed.
	ErrSlateTooLarge = errors.New("slate too large")

	// ErrInsufficientApproval means a lift challenge lost: the candidate
	// does not strictly exceed the incumbent leader's approval.
	ErrInsufficientApproval = errors.New("insufficient approval")

	// ErrUnknownSlate means a ballot referenced a slate id that was
	// never etched.
	ErrUnknownSlate = errors.New("unknown slate")
)
