package speech

import "time"

// RetryPolicy controls recovery of a failed upstream call: a fixed
// delay between attempts, no backoff. MaxAttempts counts the initial
// attempt, so {MaxAttempts: 2} means one retry.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

// Run invokes op. When op fails with an error recoverable reports true,
// reset is called to rebuild whatever op depends on, the policy delay
// elapses, and op runs again, up to MaxAttempts total attempts. The
// first non-recoverable error, reset failure, or exhausted-attempts
// error is returned as-is.
func (p RetryPolicy) Run(op func() error, recoverable func(error) bool, reset func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			if rerr := reset(); rerr != nil {
				return rerr
			}
			time.Sleep(p.Delay)
		}
		if err = op(); err == nil {
			return nil
		}
		if !recoverable(err) {
			return err
		}
	}
	return err
}
