package timeslots

// ring keeps the most recent diff entries. A limit <= 0 keeps everything.
type ring struct {
	limit   int
	entries []DiffEntry
	next    int
}

func newRing(limit int) *ring {
	return &ring{limit: limit}
}

func (r *ring) push(e DiffEntry) {
	if r.limit <= 0 || len(r.entries) < r.limit {
		r.entries = append(r.entries, e)
		return
	}
	r.entries[r.next] = e
	r.next = (r.next + 1) % r.limit
}

func (r *ring) len() int {
	return len(r.entries)
}

// snapshot returns the entries oldest first.
func (r *ring) snapshot() []DiffEntry {
	out := make([]DiffEntry, 0, len(r.entries))
	out = append(out, r.entries[r.next:]...)
	out = append(out, r.entries[:r.next]...)
	for i := range out {
		out[i] = out[i].clone()
	}
	return out
}
