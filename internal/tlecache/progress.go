package tlecache

import "io"

// ProgressSink receives the completion percentage of a body transfer.
type ProgressSink func(percent int)

// progressReader wraps the response body, counts bytes and reports percent
// complete. Nothing is reported when the total length is unknown. Reported
// values never decrease and never exceed 100.
type progressReader struct {
	reader    io.Reader
	total     int64
	read      int64
	last      int
	err       error
	onPercent ProgressSink
	onBytes   func(read, total int64)
}

func newProgressReader(r io.Reader, total int64, onPercent ProgressSink, onBytes func(read, total int64)) *progressReader {
	return &progressReader{
		reader:    r,
		total:     total,
		last:      -1,
		onPercent: onPercent,
		onBytes:   onBytes,
	}
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.reader.Read(p)
	if n > 0 {
		pr.read += int64(n)

		if pr.onBytes != nil {
			pr.onBytes(pr.read, pr.total)
		}

		pr.report()
	}

	if err != nil && err != io.EOF {
		pr.err = err
	}

	return n, err
}

// BytesRead returns the bytes seen so far.
func (pr *progressReader) BytesRead() int64 {
	return pr.read
}

// Err returns the first non-EOF error returned by the wrapped reader.
func (pr *progressReader) Err() error {
	return pr.err
}

func (pr *progressReader) report() {
	if pr.total <= 0 || pr.onPercent == nil {
		return
	}

	percent := int(pr.read * 100 / pr.total)
	if percent > 100 {
		percent = 100
	}

	if percent <= pr.last {
		return
	}

	pr.last = percent
	pr.onPercent(percent)
}
