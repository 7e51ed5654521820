// Copyright 2026 © The Praxis Authors
// SPDX-License-Identifier: Apache-2.0

// Package subprocess maintains the parent/child process hierarchy,
// propagates variables across instance boundaries, and provides an
// awaitable completion primitive driven by orchestrator lifecycle events.
package subprocess

import (
	"context"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/praxisflow/praxis/pkg/core"
	"github.com/praxisflow/praxis/pkg/errors"
	"github.com/praxisflow/praxis/pkg/expr"
)

// Manager owns the process hierarchy maps. Both maps are guarded by a
// single mutex; no other component mutates them.
type Manager struct {
	orchestrator core.Orchestrator
	storage      core.Storage
	logger       *slog.Logger
	tracer       trace.Tracer

	mu            sync.Mutex
	hierarchy     map[string][]string // parent -> ordered child ids
	childToParent map[string]string   // inverse index
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager creates a sub-process manager. The orchestrator is required:
// hierarchy operations are meaningless without an event source.
func NewManager(orchestrator core.Orchestrator, storage core.Storage, opts ...Option) (*Manager, error) {
	if orchestrator == nil {
		return nil, errors.New(errors.CodeDependencyMissing, "process orchestrator is required", nil)
	}
	m := &Manager{
		orchestrator:  orchestrator,
		storage:       storage,
		logger:        slog.Default(),
		tracer:        otel.Tracer("praxis/subprocess"),
		hierarchy:     make(map[string][]string),
		childToParent: make(map[string]string),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// MapInputVariables resolves a child process's input variables from its
// parent's. An empty mapping passes all parent variables through. String
// values of the form "${<varName>}" resolve against the parent variables
// (dotted paths included); other values are static.
func (m *Manager) MapInputVariables(parentVars map[string]any, inputMapping map[string]any) map[string]any {
	if len(inputMapping) == 0 {
		return parentVars
	}
	vars := make(map[string]any, len(inputMapping))
	for key, value := range inputMapping {
		if str, ok := value.(string); ok {
			if inner, ok := expr.Placeholder(str); ok {
				vars[key] = expr.Resolve(inner, parentVars)
				continue
			}
		}
		vars[key] = value
	}
	return vars
}

// RegisterParentChild records childID under parentID. A parent may
// accumulate multiple children; a child belongs to at most one parent, so
// re-registering a child under a new parent moves it.
func (m *Manager) RegisterParentChild(parentID, childID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.childToParent[childID]; ok {
		if prev == parentID {
			return
		}
		m.hierarchy[prev] = remove(m.hierarchy[prev], childID)
	}
	m.hierarchy[parentID] = append(m.hierarchy[parentID], childID)
	m.childToParent[childID] = parentID
}

// ChildProcesses returns the child ids registered under parentID, in
// registration order. Unknown parents yield an empty list.
func (m *Manager) ChildProcesses(parentID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.hierarchy[parentID]...)
}

// ParentProcess returns the registered parent of childID. The second
// return value reports whether the child has a parent; an unknown child is
// not an error.
func (m *Manager) ParentProcess(childID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	parent, ok := m.childToParent[childID]
	return parent, ok
}

// HierarchyNode is one node of the tree built by ProcessHierarchy.
type HierarchyNode struct {
	InstanceID string           `json:"instanceId"`
	Children   []*HierarchyNode `json:"children"`
}

// ProcessHierarchy builds the hierarchy tree rooted at rootID by
// depth-first traversal. Traversal terminates on malformed hierarchies: a
// node already on the path is not descended into again.
func (m *Manager) ProcessHierarchy(rootID string) *HierarchyNode {
	m.mu.Lock()
	defer m.mu.Unlock()
	visited := make(map[string]bool)
	return m.buildNode(rootID, visited)
}

// buildNode must be called under lock.
func (m *Manager) buildNode(id string, visited map[string]bool) *HierarchyNode {
	node := &HierarchyNode{InstanceID: id, Children: []*HierarchyNode{}}
	if visited[id] {
		return node
	}
	visited[id] = true
	for _, child := range m.hierarchy[id] {
		node.Children = append(node.Children, m.buildNode(child, visited))
	}
	return node
}

// CleanupHierarchy empties instanceID's own child set (keeping the key)
// and removes instanceID from the inverse index. The direct children's
// parent links are dropped so the two maps stay mirrored, but the cleanup
// does not cascade further down, and instanceID is deliberately left in
// its own parent's child set; callers wanting symmetric removal use
// RemoveSubProcess.
func (m *Manager) CleanupHierarchy(instanceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, child := range m.hierarchy[instanceID] {
		delete(m.childToParent, child)
	}
	m.hierarchy[instanceID] = nil
	delete(m.childToParent, instanceID)
}

// RemoveSubProcess is the strict variant of CleanupHierarchy: it also
// detaches instanceID from its parent's child set.
func (m *Manager) RemoveSubProcess(instanceID string) {
	m.mu.Lock()
	parent, hadParent := m.childToParent[instanceID]
	m.mu.Unlock()

	m.CleanupHierarchy(instanceID)

	if hadParent {
		m.mu.Lock()
		m.hierarchy[parent] = remove(m.hierarchy[parent], instanceID)
		m.mu.Unlock()
	}
}

// StartSubProcess maps the parent's variables through inputMapping,
// delegates to the orchestrator, and registers the new instance as a
// child of parentID. Returns the child instance id.
func (m *Manager) StartSubProcess(ctx context.Context, parentID, definitionID string, parentVars, inputMapping map[string]any) (string, error) {
	ctx, span := m.tracer.Start(ctx, "SubProcess.Start", trace.WithAttributes(
		attribute.String("parent.instance_id", parentID),
		attribute.String("definition.id", definitionID),
	))
	defer span.End()

	vars := m.MapInputVariables(parentVars, inputMapping)
	childID, err := m.orchestrator.StartProcess(ctx, definitionID, vars)
	if err != nil {
		return "", errors.New(errors.CodeSubprocessFailed, "start subprocess", err).
			WithContext("parent_instance_id", parentID).
			WithContext("definition_id", definitionID)
	}
	m.RegisterParentChild(parentID, childID)

	m.logger.Info("subprocess.started",
		slog.String("parent_instance_id", parentID),
		slog.String("child_instance_id", childID),
		slog.String("definition_id", definitionID),
	)
	return childID, nil
}

// SubProcessTasks returns the task projections recorded in storage for a
// child instance, in no particular order. Requires the storage reference.
func (m *Manager) SubProcessTasks(ctx context.Context, instanceID string) ([]core.Task, error) {
	if m.storage == nil {
		return nil, errors.New(errors.CodeDependencyMissing, "storage not available", nil)
	}
	bindings, err := m.storage.GetAllRoleBindings(ctx)
	if err != nil {
		return nil, errors.New(errors.CodeStorage, "list role bindings", err).
			WithContext("instance_id", instanceID)
	}
	taskRole := m.orchestrator.RoleIDs()[core.RoleTaskInstance]
	var tasks []core.Task
	for _, b := range bindings {
		if b.RoleID == taskRole && b.Witness.ProcessInstanceID == instanceID {
			tasks = append(tasks, core.TaskFromBinding(b))
		}
	}
	return tasks, nil
}

func remove(ids []string, id string) []string {
	for i, candidate := range ids {
		if candidate == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
