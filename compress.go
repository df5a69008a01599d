package nanohttp

import (
	"io"
	"strings"
	"sync"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
)

// Supported compression levels.
const (
	CompressNoCompression      = flate.NoCompression
	CompressBestSpeed          = flate.BestSpeed
	CompressBestCompression    = flate.BestCompression
	CompressDefaultCompression = -1 // flate.DefaultCompression
	CompressHuffmanOnly        = -2 // flate.HuffmanOnly
)

var gzipWriterPoolMap = newCompressWriterPoolMap()

func acquireGzipWriter(w io.Writer, level int) *gzip.Writer {
	p := gzipWriterPoolMap[normalizeCompressLevel(level)]
	v := p.Get()
	if v == nil {
		zw, err := gzip.NewWriterLevel(w, level)
		if err != nil {
			// level was normalized, a failure here is a bug.
			panic("BUG: gzip.NewWriterLevel failed: " + err.Error())
		}
		return zw
	}
	zw := v.(*gzip.Writer)
	zw.Reset(w)
	return zw
}

func releaseGzipWriter(zw *gzip.Writer, level int) {
	zw.Reset(io.Discard)
	gzipWriterPoolMap[normalizeCompressLevel(level)].Put(zw)
}

func newCompressWriterPoolMap() []*sync.Pool {
	var m = make([]*sync.Pool, 12)
	for i := 0; i < 12; i++ {
		m[i] = &sync.Pool{}
	}
	return m
}

// normalizes compression level into [0..11], so it could be used as an index
// in *PoolMap.
func normalizeCompressLevel(level int) int {
	// -2 is the lowest compression level - CompressHuffmanOnly
	// 9 is the highest compression level - CompressBestCompression
	if level < -2 || level > 9 {
		level = CompressDefaultCompression
	}
	return level + 2
}

// clampCompressLevel maps out of range levels to the default level.
func clampCompressLevel(level int) int {
	return normalizeCompressLevel(level) - 2
}

// GzipEligibleFunc decides from a MIME type whether a response body may be
// gzip encoded.
type GzipEligibleFunc func(mimeType string) bool

// DefaultGzipEligible accepts every text/* type.
func DefaultGzipEligible(mimeType string) bool {
	return len(mimeType) >= 5 && strings.EqualFold(mimeType[:5], "text/")
}

func acceptsGzip(h *Header) bool {
	for _, v := range h.Values("accept-encoding") {
		for _, part := range strings.Split(v, ",") {
			coding, params, _ := strings.Cut(strings.TrimSpace(part), ";")
			if !strings.EqualFold(strings.TrimSpace(coding), "gzip") {
				continue
			}
			if q := strings.ReplaceAll(params, " ", ""); q == "q=0" || q == "q=0.0" || q == "q=0.00" || q == "q=0.000" {
				return false
			}
			return true
		}
	}
	return false
}
