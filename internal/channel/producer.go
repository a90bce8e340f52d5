package channel

import "io"

// Producer yields successive byte chunks until EOF (spec §3's Channel
// "producer_queue" and §9's "listing iterator" design note: the
// contract is a finite lazy sequence, consumer must tolerate either a
// generator or a fully materialized list and must never force the whole
// sequence into memory up front).
//
// Next returns the next chunk to write. A zero-length chunk with a nil
// error is a valid "nothing ready yet" response and must not be treated
// as EOF. EOF is signalled by io.EOF.
type Producer interface {
	Next() (chunk []byte, err error)
	// Close releases any resources (open file, listing cursor). Called
	// exactly once, whether the producer drained normally, the channel
	// closed early, or an error occurred.
	Close() error
}

// SliceProducer adapts a single pre-built byte slice (e.g. a FEAT/HELP
// multi-line reply, or a fully-materialized small listing) to Producer.
type SliceProducer struct {
	data []byte
	sent bool
}

// NewSliceProducer wraps data as a one-shot Producer.
func NewSliceProducer(data []byte) *SliceProducer { return &SliceProducer{data: data} }

func (p *SliceProducer) Next() ([]byte, error) {
	if p.sent {
		return nil, io.EOF
	}
	p.sent = true
	return p.data, nil
}

func (p *SliceProducer) Close() error { return nil }

// ReaderProducer adapts an io.Reader (an open file, typically) to
// Producer using a fixed-size block, matching the data handler's
// default 65536-byte block size from spec §4.8.
type ReaderProducer struct {
	r         io.Reader
	closer    io.Closer
	blockSize int
}

// NewReaderProducer wraps r, reading blockSize chunks at a time. If r
// also implements io.Closer it is closed when the producer is closed.
func NewReaderProducer(r io.Reader, blockSize int) *ReaderProducer {
	if blockSize <= 0 {
		blockSize = 65536
	}
	rp := &ReaderProducer{r: r, blockSize: blockSize}
	if c, ok := r.(io.Closer); ok {
		rp.closer = c
	}
	return rp
}

func (p *ReaderProducer) Next() ([]byte, error) {
	buf := make([]byte, p.blockSize)
	n, err := p.r.Read(buf)
	if n > 0 {
		return buf[:n], nil
	}
	if err == nil {
		err = io.EOF
	}
	return nil, err
}

func (p *ReaderProducer) Close() error {
	if p.closer != nil {
		return p.closer.Close()
	}
	return nil
}

// FuncProducer adapts a plain function (e.g. a lazy directory-listing
// cursor) to Producer.
type FuncProducer struct {
	NextFn  func() ([]byte, error)
	CloseFn func() error
}

func (p *FuncProducer) Next() ([]byte, error) { return p.NextFn() }
func (p *FuncProducer) Close() error {
	if p.CloseFn != nil {
		return p.CloseFn()
	}
	return nil
}
