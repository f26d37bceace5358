package poolnet

import "time"

// Job is a unit of work issued by a pool. Blob, Target and SeedHash are
// owned by the issuing client; consumers only read them.
type Job struct {
	ClientID  int
	ID        string
	Algorithm Algorithm
	Diff      uint64
	Height    uint64 // 0 when the pool does not report it
	TxCount   uint32
	Blob      string
	Target    string
	SeedHash  string
}

// IsValid reports whether the job carries enough to be worked on.
func (j Job) IsValid() bool {
	return j.ID != "" && j.Blob != "" && j.Diff > 0
}

// JobResult is a candidate share produced by a compute backend.
type JobResult struct {
	Backend   string
	ClientID  int
	JobID     string
	Nonce     string
	Result    string
	Algorithm Algorithm
	Diff      uint64
}

// SubmitResult is the pool's answer to a submitted share.
type SubmitResult struct {
	Seq        int64
	Backend    string
	Diff       uint64
	ActualDiff uint64
	Elapsed    time.Duration
}

// ResultListener receives job results from compute backends.
type ResultListener interface {
	OnJobResult(result JobResult)
}
