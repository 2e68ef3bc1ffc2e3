// ABOUTME: Response payload shapes carried inside gateway messages
// ABOUTME: One struct per response type, plus the failure payload used for room-wide errors

package protocol

import (
	"time"

	"github.com/2389/board-gateway/internal/store"
)

// BoardSnapshot answers join and get-board. Seq is the last sequence number
// multicast to the board when the snapshot was read; later multicasts
// continue from Seq+1.
type BoardSnapshot struct {
	BoardKey   string            `json:"board_key"`
	Seq        uint64            `json:"seq"`
	Containers []store.Container `json:"containers"`
	Tasks      []store.Task      `json:"tasks"`
}

// ContainerCreated is multicast after a column is persisted.
type ContainerCreated struct {
	ContainerUUID string `json:"container_uuid"`
	Name          string `json:"name"`
	Order         int    `json:"order"`
}

// ContainersReordered is multicast after a bulk reorder commits. Failures
// carry the attempted order so every client can revert in lockstep.
type ContainersReordered struct {
	OK       bool                   `json:"ok"`
	NewOrder []store.ContainerOrder `json:"new_order"`
}

// ContainerDeleted is multicast after a column and its tasks are removed.
type ContainerDeleted struct {
	ContainerUUID string `json:"container_uuid"`
	DeletedTasks  int    `json:"deleted_tasks"`
}

// TaskCreated is multicast after a task is persisted. Task holds the full row
// so mirrors can insert it without a refetch.
type TaskCreated struct {
	ContainerUUID string           `json:"container_uuid"`
	TaskUUID      string           `json:"task_uuid"`
	Name          string           `json:"name"`
	Importance    store.Importance `json:"importance"`
	DueDate       time.Time        `json:"due_date"`
	Task          store.Task       `json:"task"`
}

// TaskReordered is multicast after a task changes column.
type TaskReordered struct {
	ContainerUUID string     `json:"container_uuid"`
	TaskUUID      string     `json:"task_uuid"`
	Task          store.Task `json:"task"`
}

// TaskDetail answers get-task-detail.
type TaskDetail struct {
	Task store.TaskDetail `json:"task"`
}

// Failure identifies what a failed request targeted. It rides along on
// error messages so non-initiating clients can tell which entity to revert.
type Failure struct {
	ContainerUUID string                 `json:"container_uuid,omitempty"`
	TaskUUID      string                 `json:"task_uuid,omitempty"`
	NewOrder      []store.ContainerOrder `json:"new_order,omitempty"`
}
