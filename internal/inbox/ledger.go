package inbox

// ledger maps message ids to the sequence numbers of stored entries that
// carry them. An id can map to several entries when the provider reuses it
// for different content. Not safe for concurrent use; Store guards it.
type ledger struct {
	index map[string][]uint64
}

func newLedger() *ledger {
	return &ledger{index: make(map[string][]uint64)}
}

func (l *ledger) lookup(messageID string) []uint64 {
	return l.index[messageID]
}

func (l *ledger) record(messageID string, seq uint64) {
	l.index[messageID] = append(l.index[messageID], seq)
}

// forget drops one sequence number, removing the id once nothing refers to it.
func (l *ledger) forget(messageID string, seq uint64) {
	seqs := l.index[messageID]
	for i, s := range seqs {
		if s == seq {
			seqs = append(seqs[:i], seqs[i+1:]...)
			break
		}
	}
	if len(seqs) == 0 {
		delete(l.index, messageID)
		return
	}
	l.index[messageID] = seqs
}

func (l *ledger) len() int {
	return len(l.index)
}
