package syncer

// State is the per-table position in the sync state machine.
type State string

const (
	StatePending         State = "pending"
	StateSchemaEnsured   State = "schema_ensured"
	StatePopulated       State = "populated"
	StateDone            State = "done"
	StateSkippedNoSource State = "skipped_no_source"
	StateFailed          State = "failed"
)

// NoticeKind classifies a non-fatal condition recorded during a run.
type NoticeKind string

const (
	NoticeNoManifests NoticeKind = "no_manifests"
	NoticeSchemaDrift NoticeKind = "schema_drift"
)

// Notice is a non-fatal condition attached to a table. Notices replace
// side-channel warnings so callers can inspect them on the report.
type Notice struct {
	Kind    NoticeKind
	Table   string
	Message string
}

// RunReport is the outcome of one build or update pass: the order the tables
// were processed in, the final state of each, and the accumulated notices.
// Tables after a failure stay Pending.
type RunReport struct {
	Order   []string
	States  map[string]State
	Notices []Notice
}

func newRunReport(order []string) *RunReport {
	states := make(map[string]State, len(order))
	for _, name := range order {
		states[name] = StatePending
	}
	return &RunReport{
		Order:  append([]string{}, order...),
		States: states,
	}
}

func (r *RunReport) setState(table string, state State) {
	r.States[table] = state
}

// State returns the recorded state for a table, StatePending if unknown.
func (r *RunReport) State(table string) State {
	if s, ok := r.States[table]; ok {
		return s
	}
	return StatePending
}

func (r *RunReport) addNotice(kind NoticeKind, table, message string) {
	r.Notices = append(r.Notices, Notice{Kind: kind, Table: table, Message: message})
}

// NoticesFor returns the notices recorded for one table.
func (r *RunReport) NoticesFor(table string) []Notice {
	var out []Notice
	for _, n := range r.Notices {
		if n.Table == table {
			out = append(out, n)
		}
	}
	return out
}
