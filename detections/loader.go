package detections

import "sync"

// Loader builds the process-wide Detector on first use and returns the same
// instance on every later call. A failed load is remembered too.
type Loader struct {
	cfg  Config
	open func(Config) (*Detector, error)

	once     sync.Once
	mu       sync.Mutex
	detector *Detector
	err      error
}

func NewLoader(cfg Config) *Loader {
	return &Loader{cfg: cfg, open: NewDetector}
}

func (l *Loader) Get() (*Detector, error) {
	l.once.Do(func() {
		detector, err := l.open(l.cfg)
		l.mu.Lock()
		l.detector, l.err = detector, err
		l.mu.Unlock()
	})

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.detector, l.err
}

// Close releases the detector's sessions if it was ever loaded. Get returns
// ErrPoolClosed afterwards unless the load itself had failed.
func (l *Loader) Close() {
	// Must run outside mu: a concurrent first Get takes mu inside once.
	l.once.Do(func() {})

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.detector != nil {
		l.detector.Destroy()
		l.detector = nil
	}
	if l.err == nil {
		l.err = ErrPoolClosed
	}
}
