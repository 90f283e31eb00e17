package tail

// SelfLogSet records the agent's own log file paths so the follower factory
// can apply the self-log throttle (spec.md §4.3 phase 6) without a
// process-wide mutable singleton: it is built once at startup and passed
// into each follower through its constructor.
type SelfLogSet struct {
	paths map[string]struct{}
}

// NewSelfLogSet builds a SelfLogSet from the agent's own log file paths, if
// any (an agent run without --log has none).
func NewSelfLogSet(paths ...string) *SelfLogSet {
	s := &SelfLogSet{paths: make(map[string]struct{}, len(paths))}
	for _, p := range paths {
		if p != "" {
			s.paths[p] = struct{}{}
		}
	}
	return s
}

// Contains reports whether path is one of the agent's own log files.
func (s *SelfLogSet) Contains(path string) bool {
	if s == nil {
		return false
	}
	_, ok := s.paths[path]
	return ok
}
