package socket

import "sync"

// Datagram buffers are pooled by size class. A default-MSS segment fits the
// first class; the last one holds any UDP payload. Only buffers whose
// capacity is exactly a class size go back to a pool.

const (
    pktSmall = 2048
    pktMed   = 4096
    pktLarge = 8192
    pktXL    = 65536
)

type sizeClass struct {
    size int
    pool *sync.Pool
}

var pktClasses = func() []sizeClass {
    sizes := []int{pktSmall, pktMed, pktLarge, pktXL}
    out := make([]sizeClass, len(sizes))
    for i, sz := range sizes {
        sz := sz
        out[i] = sizeClass{size: sz, pool: &sync.Pool{New: func() any {
            b := make([]byte, sz)
            return &b
        }}}
    }
    return out
}()

// pktGet returns a buffer of length n, pooled when n fits a class.
func pktGet(n int) []byte {
    for _, c := range pktClasses {
        if n <= c.size {
            return (*c.pool.Get().(*[]byte))[:n]
        }
    }
    return make([]byte, n)
}

func pktPut(b []byte) {
    for _, c := range pktClasses {
        if cap(b) == c.size {
            full := b[:c.size]
            c.pool.Put(&full)
            return
        }
    }
}

// pktCopy returns a pooled copy of b.
func pktCopy(b []byte) []byte {
    buf := pktGet(len(b))
    copy(buf, b)
    return buf
}
