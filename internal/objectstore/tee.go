package objectstore

import (
	"errors"
	"io"
)

const teeChunkSize = 32 * 1024

var errAbandoned = errors.New("branch abandoned")

// Fanout duplicates one source stream into several branches. Each chunk is
// handed to every live branch before the next chunk is read, so no branch
// runs more than one chunk ahead of the slowest. A branch whose reader is
// abandoned stops receiving data without stalling the others.
type Fanout struct {
	src      io.Reader
	branches []*Branch
	done     chan struct{}
	err      error
}

// Branch is one consumer side of a Fanout.
type Branch struct {
	pr   *io.PipeReader
	pw   *io.PipeWriter
	dead bool
}

func (b *Branch) Read(p []byte) (int, error) { return b.pr.Read(p) }

// Abandon detaches the branch. The fanout stops writing to it. It is safe
// to call after the branch was fully read.
func (b *Branch) Abandon() {
	_ = b.pr.CloseWithError(errAbandoned)
}

// NewFanout starts pumping src into n branches.
func NewFanout(src io.Reader, n int) *Fanout {
	f := &Fanout{src: src, done: make(chan struct{})}
	for range n {
		pr, pw := io.Pipe()
		f.branches = append(f.branches, &Branch{pr: pr, pw: pw})
	}
	go f.pump()
	return f
}

// Branch returns the i-th branch.
func (f *Fanout) Branch(i int) *Branch { return f.branches[i] }

func (f *Fanout) pump() {
	defer close(f.done)
	buf := make([]byte, teeChunkSize)
	for {
		n, err := f.src.Read(buf)
		if n > 0 {
			alive := 0
			for _, b := range f.branches {
				if b.dead {
					continue
				}
				if _, werr := b.pw.Write(buf[:n]); werr != nil {
					b.dead = true
					continue
				}
				alive++
			}
			if alive == 0 {
				return
			}
		}
		if err == io.EOF {
			for _, b := range f.branches {
				_ = b.pw.Close()
			}
			return
		}
		if err != nil {
			f.err = err
			for _, b := range f.branches {
				_ = b.pw.CloseWithError(err)
			}
			return
		}
	}
}

// Wait blocks until the pump stops and returns the source read error, if
// any. It must only be called after every branch is consumed or abandoned.
func (f *Fanout) Wait() error {
	<-f.done
	return f.err
}
