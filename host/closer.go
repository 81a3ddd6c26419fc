package host

import (
	"io"
	"sync"

	"github.com/cockroachdb/errors"
)

// closeStack releases resources in reverse acquisition order.
type closeStack struct {
	lock    sync.Mutex
	closers []namedCloser
}

type namedCloser struct {
	name string
	io.Closer
}

func (s *closeStack) push(name string, c io.Closer) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.closers = append(s.closers, namedCloser{name: name, Closer: c})
}

func (s *closeStack) len() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.closers)
}

// closeAll pops and closes every entry, combining the errors.
// Entries are removed before they are closed, so each is closed once.
func (s *closeStack) closeAll() error {
	s.lock.Lock()
	closers := s.closers
	s.closers = nil
	s.lock.Unlock()

	var err error
	for i := len(closers) - 1; i >= 0; i-- {
		c := closers[i]
		if cerr := c.Close(); cerr != nil {
			err = errors.CombineErrors(err, errors.Wrapf(cerr, "failed to close %q", c.name))
		}
	}
	return err
}
