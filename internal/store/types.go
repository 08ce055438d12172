package store

import "time"

// SymbolKind enumerates the declared-entity kinds a Symbol row can carry.
type SymbolKind string

const (
	KindClass     SymbolKind = "class"
	KindInterface SymbolKind = "interface"
	KindEnum      SymbolKind = "enum"
	KindMethod    SymbolKind = "method"
	KindField     SymbolKind = "field"
)

// Symbol is one declared class/interface/enum/method/field, keyed by its
// fully qualified name. Attrs carries the open Spring/AOP/MyBatis/Quartz
// attribute bag described in spec §3; values are JSON-encodable scalars.
type Symbol struct {
	FQN         string
	Kind        SymbolKind
	Name        string
	FilePath    string
	LineNumber  int
	Modifiers   []string
	Signature   string
	ParentFQN   string // empty means no parent
	Annotations []string
	Attrs       map[string]any
}

// Relation enumerates the directed-edge relation kinds.
type Relation string

const (
	RelationCalls       Relation = "calls"
	RelationExtends     Relation = "extends"
	RelationImplements  Relation = "implements"
	RelationMemberOf    Relation = "member_of"
	RelationAutowired   Relation = "autowired"
	RelationLambda      Relation = "lambda"
	RelationInvokeDyn   Relation = "invokedynamic"
)

// Edge is a directed relation between two symbols, unique on
// (FromFQN, ToFQN, Relation, Kind).
type Edge struct {
	FromFQN  string
	ToFQN    string
	Relation Relation
	Kind     string // e.g. invokevirtual, constructor:autowired, class:autowired
	Metadata map[string]any
}

// SummaryLevel enumerates the granularity a Summary was generated at.
type SummaryLevel string

const (
	LevelMethod  SummaryLevel = "method"
	LevelClass   SummaryLevel = "class"
	LevelPackage SummaryLevel = "package"
	LevelModule  SummaryLevel = "module"
)

// Summary is at most one per (TargetFQN, Level).
type Summary struct {
	TargetFQN string
	Level     SummaryLevel
	Text      string
	VectorID  string // empty when no embedding is bound
	IsStale   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// GlossaryEntry maps a code-level term to its business meaning.
type GlossaryEntry struct {
	CodeTerm        string
	BusinessMeaning string
	Synonyms        []string
	SourceFQN       string // nullable, SET NULL on delete of source
	VectorID        string
	CreatedAt       time.Time
}

// Severity enumerates Constraint/AntiPattern severities.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Constraint is a business rule or invariant surfaced from the graph.
type Constraint struct {
	Name           string
	ConstraintType string
	Description    string
	SourceFQN      string // nullable, SET NULL on delete
	Severity       Severity
	VectorID       string
}

// EntryType enumerates how an EntryPoint is reachable from outside the JVM.
type EntryType string

const (
	EntryHTTP            EntryType = "http"
	EntryScheduled       EntryType = "scheduled"
	EntryQuartzJob       EntryType = "quartz_job"
	EntryQuartzJobSpring EntryType = "quartz_job_spring"
	EntryMQ              EntryType = "mq"
	EntryJobInterface    EntryType = "job_interface"
)

// EntryPoint marks a symbol as reachable from outside the process.
type EntryPoint struct {
	SymbolFQN      string // unique, CASCADE
	EntryType      EntryType
	HTTPMethod     string
	HTTPPath       string
	CronExpression string
	MQQueue        string
}

// AntiPattern is a detected violation of a pure predicate over the graph.
type AntiPattern struct {
	RuleID     string
	FromFQN    string // FK CASCADE
	ToFQN      string // nullable, SET NULL
	Severity   Severity
	Message    string
	DetectedAt time.Time
}

// JobStatus enumerates the lifecycle of a durable rebuild Job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Job is a durable record of a background rebuild task.
type Job struct {
	JobID      string
	Status     JobStatus
	CreatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
	Payload    []byte
	Error      string
}

// PendingVector is an orphan tracking row: a vector_id whose relational
// counterpart failed to commit (or whose delete failed), recorded via a
// fresh connection after the owning transaction aborted.
type PendingVector struct {
	VectorID  string
	TargetFQN string
	Reason    string
	CreatedAt time.Time
}
