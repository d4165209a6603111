package handshake

import "github.com/kovaden/tempesta/internal/alert"

// Advance is the single entry point a connection loop calls with
// whatever bytes just arrived off the socket (any chunk size, down to
// one byte) plus the RecordSink to write any resulting flight to. It
// dispatches to the right parse stage for the current Step and writes
// the server's response flight as soon as enough client bytes have
// arrived to produce one: incremental parse in, batched write out, in
// one call instead of requiring the caller to know which of
// Feed/BuildResponse/FeedClientKeyExchange/BuildWrapup to call next.
func (s *State) Advance(chunk []byte, sink RecordSink) (Status, error) {
	if s.Step == StepHandshakeOver {
		if len(chunk) > 0 {
			return 0, s.fatal(alert.NoRenegotiation, ErrRenegotiation)
		}
		return StatusOK, nil
	}

	switch s.Step {
	case StepClientHello:
		status, err := s.Feed(chunk)
		if err != nil || status == StatusNeedMoreBytes {
			return status, err
		}
		if err := s.BuildResponse(sink); err != nil {
			return 0, err
		}
		if s.Resume {
			return StatusOK, nil
		}
		if len(s.ckePending) == 0 {
			return StatusOK, nil
		}
		return s.FeedClientKeyExchange(nil)

	case StepClientChangeCipherSpec, StepClientFinished, StepClientCertificate,
		StepClientKeyExchange, StepCertificateVerify:
		status, err := s.FeedClientKeyExchange(chunk)
		if err != nil || status == StatusNeedMoreBytes {
			return status, err
		}
		if s.Step == StepServerChangeCipherSpec {
			if err := s.BuildWrapup(sink); err != nil {
				return 0, err
			}
		}
		return StatusOK, nil

	default:
		return StatusOK, nil
	}
}
