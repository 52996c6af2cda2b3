package dfu

import (
	"context"
	"fmt"
	"time"
)

const (
	// chunkSize matches the minimum guaranteed write-without-response
	// payload (ATT_MTU 23 minus the 3-byte header).
	chunkSize = 20

	defaultReceiptTimeout = 5 * time.Second

	// progressEveryChunks sets the progress reporting cadence.
	progressEveryChunks = 100
)

// Streamer transmits the firmware image in fixed-size chunks on the data
// channel, pausing for packet receipt notifications when flow control is
// configured.
type Streamer struct {
	link Link
	corr *Correlator
	obs  Observer

	// ReceiptTimeout bounds each flow-control wait. Zero means the
	// default 5s. A receipt timeout is logged and ignored; the device is
	// assumed to have fallen behind on notifications, not on data.
	ReceiptTimeout time.Duration
}

func NewStreamer(link Link, corr *Correlator, obs Observer) *Streamer {
	return &Streamer{link: link, corr: corr, obs: obs}
}

// Stream writes the whole image in order. Any write error aborts
// immediately; retrying is the orchestrator's job, not the streamer's.
func (s *Streamer) Stream(ctx context.Context, sess *Session) error {
	img := sess.Package.Image
	total := len(img)
	receiptTimeout := s.ReceiptTimeout
	if receiptTimeout <= 0 {
		receiptTimeout = defaultReceiptTimeout
	}

	s.obs.Infof("Uploading %d bytes...", total)

	sinceReceipt := 0
	for off, idx := 0, 0; off < total; off, idx = off+chunkSize, idx+1 {
		if err := ctx.Err(); err != nil {
			return procTimeout(err)
		}

		end := off + chunkSize
		if end > total {
			end = total
		}
		if err := s.link.WritePacket(img[off:end]); err != nil {
			return fmt.Errorf("%w: write at offset %d: %v", ErrTransport, off, err)
		}
		sess.BytesSent += end - off
		sinceReceipt++

		if idx%progressEveryChunks == 0 {
			s.obs.progress(sess.BytesSent * 100 / total)
		}

		if sess.PRN > 0 && sinceReceipt >= int(sess.PRN) {
			s.corr.ClearReceipt()
			if err := s.corr.AwaitReceipt(ctx, receiptTimeout); err != nil {
				if ctx.Err() != nil {
					return procTimeout(ctx.Err())
				}
				s.obs.Warnf("PRN timeout, continuing anyway...")
			}
			sinceReceipt = 0
		}
	}

	s.obs.progress(100)
	return nil
}
