package audio

import "context"

// Fork duplicates a segment stream to n outputs so sibling sinks can consume
// the same audio independently. Segments are shared, not copied; consumers
// must treat PCM as read-only. A slow branch stalls the fork, which is the
// intended backpressure when every branch must see every segment.
func Fork(ctx context.Context, in <-chan *Segment, n int, buffer int) []<-chan *Segment {
	outs := make([]chan *Segment, n)
	ro := make([]<-chan *Segment, n)
	for i := range outs {
		outs[i] = make(chan *Segment, buffer)
		ro[i] = outs[i]
	}

	go func() {
		defer func() {
			for _, out := range outs {
				close(out)
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case seg, ok := <-in:
				if !ok {
					return
				}
				for _, out := range outs {
					select {
					case out <- seg:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return ro
}
