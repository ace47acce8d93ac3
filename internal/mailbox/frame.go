package mailbox

import "time"

// Frame is a captured BGR image, Height*Width*3 bytes in row-major order.
//
// Once published the frame is shared by reference: neither the producer nor the
// consumer may modify Data afterwards.
type Frame struct {
	Data      []byte
	Width     int
	Height    int
	Timestamp time.Time

	// Seq is assigned by the Mailbox on Publish and increases strictly.
	Seq uint64
}

// Empty reports whether the frame carries no pixels.
func (f Frame) Empty() bool {
	return len(f.Data) == 0 || f.Width <= 0 || f.Height <= 0
}
