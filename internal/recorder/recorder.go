package recorder

// Notification is one committed ledger event, flattened for observers
// (indexers, payout daemons, dashboards) that tail the log out-of-band.
type Notification struct {
	Height   int64
	TimeUnix int64
	Type     string
	Attrs    map[string]string
}

// Recorder persists committed events. Implementations must tolerate being
// called once per event per block; failures are the observer's problem,
// never the ledger's.
type Recorder interface {
	Record(n *Notification) error
	Close() error
}

// NoopRecorder discards everything. Used when no event log is configured.
type NoopRecorder struct{}

func NewNoopRecorder() *NoopRecorder { return &NoopRecorder{} }

func (r *NoopRecorder) Record(_ *Notification) error { return nil }
func (r *NoopRecorder) Close() error                 { return nil }
