package transport

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

// Identity is the hardware identity a transport may report.  Any field
// may be empty.
type Identity struct {
	SerialNumber string
	VendorID     string
	ProductID    string
}

var lastStamp atomic.Int64

// DeriveAddress turns an identity into a stable device address and an
// optional label.  Priority: serial number, then vendor/product pair,
// then a timestamp from now that never repeats within the process.
func DeriveAddress(id Identity, now func() time.Time) (address, label string) {
	sn := strings.TrimSpace(id.SerialNumber)
	vid := strings.ToLower(strings.TrimSpace(id.VendorID))
	pid := strings.ToLower(strings.TrimSpace(id.ProductID))

	switch {
	case sn != "":
		return "serial:" + sn, sn
	case vid != "" && pid != "":
		return fmt.Sprintf("usb:%s:%s", vid, pid), fmt.Sprintf("USB %s:%s", vid, pid)
	}
	if now == nil {
		now = time.Now
	}
	return fmt.Sprintf("serial-port-%d", monotonicStamp(now().UnixMilli())), ""
}

// monotonicStamp returns ts, or one more than the last stamp handed out
// if the clock has not advanced.
func monotonicStamp(ts int64) int64 {
	for {
		last := lastStamp.Load()
		next := ts
		if next <= last {
			next = last + 1
		}
		if lastStamp.CompareAndSwap(last, next) {
			return next
		}
	}
}
