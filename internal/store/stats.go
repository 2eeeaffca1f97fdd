package store

import "github.com/angel122382/rpcdevtools/internal/tracker"

// Stats summarises the current history. It is computed on demand and always
// matches the records held at the time of the call.
type Stats struct {
	Total   int `json:"total"`
	Pending int `json:"pending"`
	Success int `json:"success"`
	Errors  int `json:"errors"`
	// AvgDuration is the mean over responses with a non-zero duration,
	// regardless of status; 0 when there are none.
	AvgDuration float64 `json:"avgDuration"`
}

// Stats computes the aggregate counts over the current history.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st Stats
	var sum float64
	var timed int
	s.history.Newest(func(rec *RequestRecord) bool {
		st.Total++
		resp := rec.Response
		switch {
		case resp == nil:
			st.Pending++
			return true
		case resp.Status == tracker.StatusSuccess:
			st.Success++
		case resp.Status == tracker.StatusError:
			st.Errors++
		}
		if resp.Duration != 0 {
			sum += resp.Duration
			timed++
		}
		return true
	})
	if timed > 0 {
		st.AvgDuration = sum / float64(timed)
	}
	return st
}
