package tool

// Filter applies allow/deny rules to tool names.
type Filter struct {
	allowedTools map[string]bool // if non-empty, only these tools are allowed
	deniedTools  map[string]bool // these tools are always denied
}

// NewFilter creates a tool filter from allow/deny lists.
// If allowed is non-empty, only those tools are permitted.
// Denied tools are always blocked regardless of the allow list.
func NewFilter(allowed, denied []string) *Filter {
	f := &Filter{
		allowedTools: make(map[string]bool),
		deniedTools:  make(map[string]bool),
	}
	for _, t := range allowed {
		f.allowedTools[t] = true
	}
	for _, t := range denied {
		f.deniedTools[t] = true
	}
	return f
}

// IsAllowed returns true if the tool name passes the filter. A nil filter allows everything.
func (f *Filter) IsAllowed(name string) bool {
	if f == nil {
		return true
	}
	// Deny list always wins.
	if f.deniedTools[name] {
		return false
	}
	if len(f.allowedTools) > 0 {
		return f.allowedTools[name]
	}
	return true
}

func (f *Filter) IsEmpty() bool {
	return f == nil || (len(f.allowedTools) == 0 && len(f.deniedTools) == 0)
}
