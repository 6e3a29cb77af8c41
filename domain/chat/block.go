package chat

import "time"

// BlockRelation is the directed edge blocker -> blocked.
type BlockRelation struct {
	Blocker   string
	Blocked   string
	CreatedAt time.Time
}

// BlockState is the effective relation between two participants:
// blocked if either one blocks the other. Since is the creation time
// of the oldest active edge.
type BlockState struct {
	Blocked bool
	Since   time.Time
}

// Merge combines the two directed edges of a pair into the effective state.
func Merge(ab, ba *BlockRelation) BlockState {
	switch {
	case ab != nil && ba != nil:
		since := ab.CreatedAt
		if ba.CreatedAt.Before(since) {
			since = ba.CreatedAt
		}
		return BlockState{Blocked: true, Since: since}
	case ab != nil:
		return BlockState{Blocked: true, Since: ab.CreatedAt}
	case ba != nil:
		return BlockState{Blocked: true, Since: ba.CreatedAt}
	}
	return BlockState{}
}
