// ABOUTME: Client-side mirror of one board's containers and tasks
// ABOUTME: Tracks a touch stamp per entity so reverts never clobber newer state

package reconciler

import (
	"sort"

	"github.com/2389/board-gateway/internal/store"
)

// mirror is the local copy of a board. It is not safe for concurrent use;
// the Reconciler guards it.
type mirror struct {
	containers     map[string]store.Container
	tasks          map[string]store.Task
	containerTouch map[string]uint64
	taskTouch      map[string]uint64
}

func newMirror() *mirror {
	return &mirror{
		containers:     make(map[string]store.Container),
		tasks:          make(map[string]store.Task),
		containerTouch: make(map[string]uint64),
		taskTouch:      make(map[string]uint64),
	}
}

func (m *mirror) load(containers []store.Container, tasks []store.Task) {
	*m = *newMirror()
	for _, c := range containers {
		m.containers[c.UUID] = c
	}
	for _, t := range tasks {
		m.tasks[t.UUID] = t
	}
}

// setContainer stores c, or removes the container when c is nil, and stamps it.
func (m *mirror) setContainer(id string, c *store.Container, stamp uint64) {
	if c == nil {
		delete(m.containers, id)
	} else {
		m.containers[id] = *c
	}
	m.containerTouch[id] = stamp
}

func (m *mirror) setTask(id string, t *store.Task, stamp uint64) {
	if t == nil {
		delete(m.tasks, id)
	} else {
		m.tasks[id] = copyTask(*t)
	}
	m.taskTouch[id] = stamp
}

func (m *mirror) container(id string) *store.Container {
	c, ok := m.containers[id]
	if !ok {
		return nil
	}
	return &c
}

func (m *mirror) task(id string) *store.Task {
	t, ok := m.tasks[id]
	if !ok {
		return nil
	}
	cp := copyTask(t)
	return &cp
}

// tasksIn returns the ids of every task in the container.
func (m *mirror) tasksIn(containerUUID string) []string {
	var ids []string
	for id, t := range m.tasks {
		if t.ContainerUUID == containerUUID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (m *mirror) maxOrder() int {
	highest := 0
	for _, c := range m.containers {
		if c.Order > highest {
			highest = c.Order
		}
	}
	return highest
}

// sortedContainers returns containers by order.
func (m *mirror) sortedContainers() []store.Container {
	out := make([]store.Container, 0, len(m.containers))
	for _, c := range m.containers {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].UUID < out[j].UUID
	})
	return out
}

// sortedTasks orders tasks the same way board snapshots do: by container
// order, then due date, creation time and uuid.
func (m *mirror) sortedTasks() []store.Task {
	out := make([]store.Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, copyTask(t))
	}
	orderOf := func(id string) int {
		return m.containers[id].Order
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if oa, ob := orderOf(a.ContainerUUID), orderOf(b.ContainerUUID); oa != ob {
			return oa < ob
		}
		if !a.DueDate.Equal(b.DueDate) {
			return a.DueDate.Before(b.DueDate)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.UUID < b.UUID
	})
	return out
}

func copyTask(t store.Task) store.Task {
	if t.Labels != nil {
		t.Labels = append(make([]string, 0, len(t.Labels)), t.Labels...)
	}
	if t.Dependencies != nil {
		t.Dependencies = append(make([]string, 0, len(t.Dependencies)), t.Dependencies...)
	}
	if t.CustomFields != nil {
		fields := make(map[string]any, len(t.CustomFields))
		for k, v := range t.CustomFields {
			fields[k] = v
		}
		t.CustomFields = fields
	}
	return t
}
