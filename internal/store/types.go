package store

// Boot is one kernel run.
type Boot struct {
	ID         string
	ConfigHash string
	Config     string // canonical JSON
	StartedAt  int64  // unix nanoseconds
	Version    string
}

// Syscall is one completed system call of a run.
type Syscall struct {
	ID      string
	RunID   string
	Seq     int64
	Tick    uint64
	Hart    int
	PID     int
	Op      string
	Args    []uint64
	Status  string // empty when Blocked
	Results []uint64
	Blocked bool
}
