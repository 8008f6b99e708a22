package dispatcher

import (
	"bufio"
	"bytes"
	"io"
	"strings"
	"time"

	"github.com/plexusgw/plexus/internal/transform"
	"github.com/plexusgw/plexus/internal/unified"
	"go.uber.org/zap"
)

// streamOutcome is what the relay pump reports back once the upstream
// stream has fully drained (or failed). snapshot is populated only when err
// is nil; it is safe to read only after done is closed.
type streamOutcome struct {
	snapshot    *unified.UnifiedResponse
	firstByteAt time.Time
	err         error
}

// relayStream pumps an upstream SSE body through a dialect's
// StreamTransformer, one frame at a time, writing translated bytes into an
// io.Pipe. The pipe gives the relay the same backpressure property as the
// teacher's bounded-channel stream multiplexer (llm/streaming/backpressure.go):
// Write blocks until the caller's reader drains it, so a slow client
// naturally pauses the upstream read instead of the pump buffering
// unboundedly.
//
// firstByte reports, exactly once, whether the stream produced output (or a
// clean empty EOF) before any translation error occurred. The dispatcher
// blocks on firstByte to decide between committing to this candidate's
// stream and failing over to the next one (spec §4.6: "network error before
// first byte ... is a retryable failure; if any byte has been forwarded,
// failover is no longer possible").
//
// Cancellation is not handled explicitly here: body was obtained from a
// response to a context-scoped *http.Request, so a caller cancelling that
// context already unblocks the in-flight Read with an error, which this
// pump then surfaces as a stream error (or a retryable pre-first-byte
// failure) the same way any other read error is.
func relayStream(
	body io.ReadCloser,
	st transform.StreamTransformer,
	clientAPIType, providerAPIType transform.APIType,
	passthrough bool,
	logger *zap.Logger,
) (stream io.Reader, firstByte <-chan error, outcome *streamOutcome, done <-chan struct{}) {
	pr, pw := io.Pipe()
	acc := transform.NewStreamAccumulator()
	result := &streamOutcome{}
	firstByteCh := make(chan error, 1)
	doneCh := make(chan struct{})

	signalled := false
	signal := func(err error) {
		if signalled {
			return
		}
		signalled = true
		firstByteCh <- err
	}

	go func() {
		defer close(doneCh)
		defer body.Close()
		defer pw.Close()

		reader := bufio.NewReader(body)
		var frame bytes.Buffer

		flush := func() error {
			if frame.Len() == 0 {
				return nil
			}
			chunk := append([]byte(nil), frame.Bytes()...)
			frame.Reset()

			out := chunk
			var err error
			if !passthrough && st != nil {
				out, err = st.TransformStream(chunk, clientAPIType, providerAPIType, acc)
				if err != nil {
					return err
				}
			}
			if len(out) == 0 {
				return nil
			}
			if result.firstByteAt.IsZero() {
				result.firstByteAt = time.Now()
			}
			signal(nil)
			_, werr := pw.Write(out)
			return werr
		}

		for {
			line, readErr := reader.ReadString('\n')
			frame.WriteString(line)
			if strings.TrimRight(line, "\r\n") == "" && frame.Len() > 0 {
				if ferr := flush(); ferr != nil {
					result.err = ferr
					signal(ferr)
					_ = pw.CloseWithError(ferr)
					return
				}
			}
			if readErr != nil {
				if readErr == io.EOF {
					if ferr := flush(); ferr != nil {
						result.err = ferr
						signal(ferr)
						_ = pw.CloseWithError(ferr)
						return
					}
					signal(nil)
					result.snapshot = acc.Snapshot()
					return
				}
				logger.Warn("dispatcher: upstream stream read failed", zap.Error(readErr))
				result.err = readErr
				signal(readErr)
				_ = pw.CloseWithError(readErr)
				return
			}
		}
	}()

	return pr, firstByteCh, result, doneCh
}
