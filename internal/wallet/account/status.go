package account

// TxStatus is the settlement state of a TransactionRecord.
type TxStatus string

const (
	StatusPending    TxStatus = "pending"
	StatusConfirming TxStatus = "confirming"
	StatusCompleted  TxStatus = "completed"
	StatusFailed     TxStatus = "failed"
	StatusCancelled  TxStatus = "cancelled"
)

var transitions = map[TxStatus][]TxStatus{
	StatusPending:    {StatusConfirming, StatusCompleted, StatusFailed, StatusCancelled},
	StatusConfirming: {StatusCompleted, StatusFailed, StatusCancelled},
}

// Valid reports whether s is a known status.
func (s TxStatus) Valid() bool {
	switch s {
	case StatusPending, StatusConfirming, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal reports whether no transition leaves s.
func (s TxStatus) Terminal() bool {
	return len(transitions[s]) == 0
}

// CanTransition reports whether a record may move from one status to another.
// Transitions are one-directional; nothing returns to pending.
func CanTransition(from TxStatus, to TxStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}

	return false
}

// SourcesOf returns every status that may transition into to.
func SourcesOf(to TxStatus) []TxStatus {
	res := []TxStatus{}
	for _, from := range []TxStatus{StatusPending, StatusConfirming, StatusCompleted, StatusFailed, StatusCancelled} {
		if CanTransition(from, to) {
			res = append(res, from)
		}
	}

	return res
}
