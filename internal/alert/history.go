package alert

// HistoryLimit caps the per-notification history ring.
const HistoryLimit = 20

// AppendHistory appends e and drops the oldest entries beyond HistoryLimit.
func AppendHistory(history []HistoryEntry, e HistoryEntry) []HistoryEntry {
	history = append(history, e)
	if over := len(history) - HistoryLimit; over > 0 {
		history = append([]HistoryEntry(nil), history[over:]...)
	}
	return history
}
