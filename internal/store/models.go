package store

import (
	"strings"
	"time"
)

// TaskStatus represents the lifecycle of a task within its current stage.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskSkipped    TaskStatus = "skipped"
)

// Stage identifies the pipeline stage a task sits in.
type Stage string

const (
	StageL1     Stage = "L1"
	StageReview Stage = "Review"
	StageDone   Stage = "Done"
)

// RequestStatus represents the lifecycle of a claim request.
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestRejected RequestStatus = "rejected"
)

// ActivityStatus represents the lifecycle of a workflow node instance.
type ActivityStatus string

const (
	ActivityPending    ActivityStatus = "pending"
	ActivityInProgress ActivityStatus = "in_progress"
	ActivityCompleted  ActivityStatus = "completed"
	ActivitySkipped    ActivityStatus = "skipped"
	ActivityCancelled  ActivityStatus = "cancelled"
)

// IsTerminal reports whether a node instance can no longer transition.
func (s ActivityStatus) IsTerminal() bool {
	switch s {
	case ActivityCompleted, ActivitySkipped, ActivityCancelled:
		return true
	default:
		return false
	}
}

// NodeType classifies an activity spec.
type NodeType string

const (
	NodeStart   NodeType = "start"
	NodeEnd     NodeType = "end"
	NodeNormal  NodeType = "normal"
	NodeSkipped NodeType = "skipped"
	NodeGroup   NodeType = "group"
	NodeManual  NodeType = "manual"
)

// ProjectStatus tracks the project lifecycle the core signals into.
type ProjectStatus string

const (
	ProjectDraft          ProjectStatus = "draft"
	ProjectActive         ProjectStatus = "active"
	ProjectReadyForExport ProjectStatus = "ready_for_export"
	ProjectClosed         ProjectStatus = "closed"
)

var taskStatuses = []TaskStatus{TaskPending, TaskInProgress, TaskCompleted, TaskSkipped}

var taskStatusSet = func() map[TaskStatus]struct{} {
	set := make(map[TaskStatus]struct{}, len(taskStatuses))
	for _, status := range taskStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// ParseTaskStatus converts a string into a known TaskStatus.
func ParseTaskStatus(value string) (TaskStatus, bool) {
	normalized := TaskStatus(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := taskStatusSet[normalized]
	return normalized, ok
}

// ParseStage converts a string into a known Stage.
func ParseStage(value string) (Stage, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "l1":
		return StageL1, true
	case "review":
		return StageReview, true
	case "done":
		return StageDone, true
	default:
		return "", false
	}
}

// Project carries the roster and status fields the core consumes. Full
// project CRUD lives with an external collaborator.
type Project struct {
	ID           int64
	Name         string
	Description  string
	Status       ProjectStatus
	AnnotatorIDs []int64
	ReviewerIDs  []int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasAnnotator reports roster membership. An empty roster admits nobody;
// ops-tier callers bypass this check entirely.
func (p *Project) HasAnnotator(userID int64) bool {
	for _, id := range p.AnnotatorIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// HasReviewer reports reviewer roster membership.
func (p *Project) HasReviewer(userID int64) bool {
	for _, id := range p.ReviewerIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Batch is a named group of tasks under one project.
type Batch struct {
	ID        int64
	ProjectID int64
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Task is a unit of labeling work flowing through the pipeline.
//
// Invariant: ClaimedBy is non-nil only while Stage == StageL1 and
// Status is in_progress or skipped; every transition out of L1 detaches
// the owner in the same write.
type Task struct {
	ID               int64
	BatchID          int64
	Status           TaskStatus
	Stage            Stage
	Content          map[string]any
	ClaimedBy        *int64
	ClaimedAt        *time.Time
	AssignedReviewer *int64
	DueAt            *time.Time
	ReworkCount      int
	DraftResponse    map[string]any
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Annotation is an immutable submitted response for a task.
type Annotation struct {
	ID        int64
	TaskID    int64
	UserID    int64
	Response  map[string]any
	Stage     Stage
	CreatedAt time.Time
}

// ClaimRequest is a pending transfer-of-ownership proposal.
type ClaimRequest struct {
	ID              int64
	TaskID          int64
	RequestedBy     int64
	CurrentAssignee *int64
	Status          RequestStatus
	ApprovedBy      *int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ActivitySpec is the static catalogue entry for a workflow node kind.
type ActivitySpec struct {
	ID          int64
	SpecKey     string
	Name        string
	Description string
	APIEndpoint string
	NodeType    NodeType
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ActivityInstance is one concrete workflow node belonging to a project run.
// NextInstanceIDs is advisory metadata; the engine never auto-invokes
// successors.
type ActivityInstance struct {
	ID              int64
	InstanceUID     string
	ProjectID       int64
	SpecID          int64
	Status          ActivityStatus
	NodeType        NodeType
	NextInstanceIDs []string
	OwnerID         *int64
	Payload         map[string]any
	StartDate       *time.Time
	EndDate         *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
