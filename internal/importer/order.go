package importer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/willibrandon/eventimport/internal/models"
)

// ErrCircularDependency is returned when the tables cannot be ordered.
var ErrCircularDependency = errors.New("circular foreign key dependency detected")

const foreignKeyDependenciesQuery = `
	select c.owner, c.table_name, p.owner, p.table_name
	  from all_constraints c
	  join all_constraints p
	    on p.owner = c.r_owner
	   and p.constraint_name = c.r_constraint_name
	 where c.constraint_type = 'R'
	   and c.owner = :1
	 order by c.owner, c.table_name, p.owner, p.table_name`

// FKDependency is a foreign key from Child to Parent.
type FKDependency struct {
	Child  models.TableRef
	Parent models.TableRef
}

// OrderViolation is a child table configured before its parent.
type OrderViolation struct {
	Child       models.TableRef
	Parent      models.TableRef
	ChildIndex  int
	ParentIndex int
}

func (v OrderViolation) String() string {
	return fmt.Sprintf("%s (#%d) is copied before its parent %s (#%d)", v.Child, v.ChildIndex+1, v.Parent, v.ParentIndex+1)
}

// FKDependencies reads the foreign keys owned by schemas from the target's
// catalog. Run it after the metadata import so the catalog is populated.
func FKDependencies(ctx context.Context, conn Conn, schemas []string) ([]FKDependency, error) {
	var deps []FKDependency
	for _, schema := range schemas {
		rows, err := conn.Query(ctx, foreignKeyDependenciesQuery, strings.ToUpper(schema))
		if err != nil {
			return nil, fmt.Errorf("get FK dependencies for %s: %w", schema, err)
		}
		for rows.Next() {
			var dep FKDependency
			if err := rows.Scan(&dep.Child.Schema, &dep.Child.Table, &dep.Parent.Schema, &dep.Parent.Table); err != nil {
				rows.Close()
				return nil, err
			}
			deps = append(deps, dep)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return deps, nil
}

// TopologicalSort orders tables so parents come before children.
// Dependencies on tables outside the set and self references are ignored.
func TopologicalSort(tables []models.TableRef, deps []FKDependency) ([]models.TableRef, error) {
	// Edge: parent -> child
	graph := make(map[string][]string)
	inDegree := make(map[string]int)
	byKey := make(map[string]models.TableRef, len(tables))

	for _, t := range tables {
		key := t.Key()
		byKey[key] = t
		if _, ok := graph[key]; !ok {
			graph[key] = []string{}
		}
		inDegree[key] = 0
	}

	for _, dep := range deps {
		parent, child := dep.Parent.Key(), dep.Child.Key()
		if parent == child {
			continue
		}
		if _, ok := inDegree[parent]; !ok {
			continue
		}
		if _, ok := inDegree[child]; !ok {
			continue
		}
		graph[parent] = append(graph[parent], child)
		inDegree[child]++
	}

	var queue []string
	for key, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, key)
		}
	}
	sort.Strings(queue)

	sorted := make([]models.TableRef, 0, len(tables))
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		sorted = append(sorted, byKey[current])

		neighbors := graph[current]
		sort.Strings(neighbors)
		for _, neighbor := range neighbors {
			inDegree[neighbor]--
			if inDegree[neighbor] == 0 {
				queue = append(queue, neighbor)
				sort.Strings(queue)
			}
		}
	}

	if len(sorted) != len(inDegree) {
		return nil, ErrCircularDependency
	}
	return sorted, nil
}

// OrderViolations returns every dependency whose child is configured before
// its parent. The result follows the child's position in tables.
func OrderViolations(tables []models.TableRef, deps []FKDependency) []OrderViolation {
	position := make(map[string]int, len(tables))
	for i, t := range tables {
		position[t.Key()] = i
	}

	var violations []OrderViolation
	for _, dep := range deps {
		ci, ok := position[dep.Child.Key()]
		if !ok {
			continue
		}
		pi, ok := position[dep.Parent.Key()]
		if !ok || ci == pi {
			continue
		}
		if ci < pi {
			violations = append(violations, OrderViolation{Child: dep.Child, Parent: dep.Parent, ChildIndex: ci, ParentIndex: pi})
		}
	}

	sort.SliceStable(violations, func(i, j int) bool {
		if violations[i].ChildIndex != violations[j].ChildIndex {
			return violations[i].ChildIndex < violations[j].ChildIndex
		}
		return violations[i].ParentIndex < violations[j].ParentIndex
	})
	return violations
}

// CheckOrder reads foreign keys for the plan's schemas and logs every table
// configured before a parent. Filters on the child usually read the parent
// locally, so a violation is worth a look even with constraints suspended.
func CheckOrder(ctx context.Context, conn Conn, plan *Plan, logger *Logger) ([]OrderViolation, error) {
	if logger == nil {
		logger = NewLogger(nil)
	}
	deps, err := FKDependencies(ctx, conn, plan.Schemas)
	if err != nil {
		return nil, err
	}
	violations := OrderViolations(plan.TableRefs(), deps)
	for _, v := range violations {
		logger.Log(RunEvent{
			Level:  "warn",
			Event:  EventOrderViolation,
			Table:  v.Child.String(),
			Object: v.Parent.String(),
		})
	}
	return violations, nil
}
