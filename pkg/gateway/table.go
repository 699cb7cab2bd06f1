package gateway

// tableGrowth is how many slots the fd table adds when an accepted fd lands
// past the current capacity.
const tableGrowth = 256

// connTable is a dense fd-indexed table of live connections. File
// descriptors are small reused integers, so direct indexing beats a map;
// slots are nulled on teardown before the OS can hand the fd out again.
type connTable struct {
	conns []*conn
}

// get returns the connection for fd, or nil.
func (t *connTable) get(fd int) *conn {
	if fd < 0 || fd >= len(t.conns) {
		return nil
	}
	return t.conns[fd]
}

// put stores c under its fd, growing the table as needed.
func (t *connTable) put(c *conn) {
	for c.fd >= len(t.conns) {
		t.conns = append(t.conns, make([]*conn, tableGrowth)...)
	}
	t.conns[c.fd] = c
}

// remove nulls the slot for fd and returns what it held.
func (t *connTable) remove(fd int) *conn {
	if fd < 0 || fd >= len(t.conns) {
		return nil
	}
	c := t.conns[fd]
	t.conns[fd] = nil
	return c
}

// each calls f for every live connection.
func (t *connTable) each(f func(*conn)) {
	for _, c := range t.conns {
		if c != nil {
			f(c)
		}
	}
}
