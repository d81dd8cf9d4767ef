package importer

import (
	"fmt"
	"maps"
	"regexp"
	"strings"

	"github.com/willibrandon/eventimport/internal/models"
)

// TablespaceRemap moves objects stored in From on the source into To on the
// target during the metadata import.
type TablespaceRemap struct {
	From string `json:"from" yaml:"from"`
	To   string `json:"to" yaml:"to"`
}

// TableCopyEntry is one table to copy, optionally limited by a filter
// template appended to the copy statement.
type TableCopyEntry struct {
	models.TableRef `yaml:",inline"`
	Filter          string `json:"filter,omitempty" yaml:"filter,omitempty"`
}

// Plan describes one import run. It is assembled before the run starts and is
// not modified by the runner.
type Plan struct {
	Link             string            `json:"link" yaml:"link"`
	Schemas          []string          `json:"schemas" yaml:"schemas"`
	TablespaceRemaps []TablespaceRemap `json:"tablespace_remaps,omitempty" yaml:"tablespace_remaps,omitempty"`
	Tables           []TableCopyEntry  `json:"tables" yaml:"tables"`
	PreRun           []string          `json:"pre_run,omitempty" yaml:"pre_run,omitempty"`
	PostRun          []string          `json:"post_run,omitempty" yaml:"post_run,omitempty"`
	Params           map[string]string `json:"params,omitempty" yaml:"params,omitempty"`
	DropSchemas      bool              `json:"drop_schemas" yaml:"drop_schemas"`

	index map[string]int
}

// NewPlan creates an empty plan.
func NewPlan() *Plan {
	return &Plan{
		Params: make(map[string]string),
		index:  make(map[string]int),
	}
}

// ImportFrom sets the database link to the source and registers it as both
// the pinned and the current source alias.
func (p *Plan) ImportFrom(link string) *Plan {
	p.Link = link
	p.FilterParam(SourceAliasParam, link)
	p.FilterParam(SourceCurrentParam, link)
	return p
}

// ImportSchema adds a schema to recreate on the target.
func (p *Plan) ImportSchema(schema string) *Plan {
	p.Schemas = append(p.Schemas, schema)
	return p
}

// RemapTablespace adds a tablespace remap for the metadata import.
func (p *Plan) RemapTablespace(from, to string) *Plan {
	p.TablespaceRemaps = append(p.TablespaceRemaps, TablespaceRemap{From: from, To: to})
	return p
}

// FilterParam registers a named value substituted for :name in filters and hooks.
func (p *Plan) FilterParam(name, value string) *Plan {
	if p.Params == nil {
		p.Params = make(map[string]string)
	}
	p.Params[name] = value
	return p
}

// ImportTable registers a table to copy. Registering the same schema and
// table twice is rejected.
func (p *Plan) ImportTable(schema, table, filter string) error {
	entry := TableCopyEntry{TableRef: models.TableRef{Schema: schema, Table: table}, Filter: filter}
	if err := entry.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPlan, err)
	}
	p.ensureIndex()
	key := entry.Key()
	if _, ok := p.index[key]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTable, entry.TableRef)
	}
	p.index[key] = len(p.Tables)
	p.Tables = append(p.Tables, entry)
	return nil
}

// AddPreRun appends a hook executed after the snapshot is captured.
func (p *Plan) AddPreRun(sql string) *Plan {
	p.PreRun = append(p.PreRun, sql)
	return p
}

// AddPostRun appends a hook executed after all tables are copied.
func (p *Plan) AddPostRun(sql string) *Plan {
	p.PostRun = append(p.PostRun, sql)
	return p
}

// SetDropSchemas controls whether target schemas are dropped first.
func (p *Plan) SetDropSchemas(drop bool) *Plan {
	p.DropSchemas = drop
	return p
}

// TableRefs returns the tables of the plan in configured order.
func (p *Plan) TableRefs() []models.TableRef {
	refs := make([]models.TableRef, len(p.Tables))
	for i, t := range p.Tables {
		refs[i] = t.TableRef
	}
	return refs
}

// RunParams returns a copy of the plan parameters with the run's SCN added.
func (p *Plan) RunParams(token models.ConsistencyToken) map[string]string {
	params := maps.Clone(p.Params)
	if params == nil {
		params = make(map[string]string)
	}
	params[SCNParam] = token.String()
	return params
}

func (p *Plan) ensureIndex() {
	if p.index != nil && len(p.index) == len(p.Tables) {
		return
	}
	p.index = make(map[string]int, len(p.Tables))
	for i, t := range p.Tables {
		p.index[t.Key()] = i
	}
}

// localTableRef matches schema.table not followed by a database link.
var localTableRef = regexp.MustCompile(`\b([A-Za-z_][A-Za-z0-9_$#]*)\.([A-Za-z_][A-Za-z0-9_$#]*)\b(\s*@)?`)

// literalOrComment matches string literals and comments, which never name
// tables.
var literalOrComment = regexp.MustCompile(`'(?:[^']|'')*'|--[^\n]*|/\*[\s\S]*?\*/`)

// Validate checks the plan before any database work is done. Filters that
// read a plan schema locally on the target must only reference tables copied
// earlier in the plan.
func (p *Plan) Validate() error {
	if strings.TrimSpace(p.Link) == "" {
		return fmt.Errorf("%w: source link is required", ErrInvalidPlan)
	}
	if len(p.Schemas) == 0 {
		return fmt.Errorf("%w: at least one schema is required", ErrInvalidPlan)
	}

	schemas := make(map[string]bool, len(p.Schemas))
	for _, s := range p.Schemas {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%w: empty schema name", ErrInvalidPlan)
		}
		schemas[strings.ToUpper(s)] = true
	}
	for _, r := range p.TablespaceRemaps {
		if r.From == "" || r.To == "" {
			return fmt.Errorf("%w: tablespace remap %q -> %q is incomplete", ErrInvalidPlan, r.From, r.To)
		}
	}

	seen := make(map[string]bool, len(p.Tables))
	for _, t := range p.Tables {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPlan, err)
		}
		key := t.Key()
		if seen[key] {
			return fmt.Errorf("%w: %s", ErrDuplicateTable, t.TableRef)
		}
		if !schemas[strings.ToUpper(t.Schema)] {
			return fmt.Errorf("%w: table %s is not in an imported schema", ErrInvalidPlan, t.TableRef)
		}
		for _, ref := range localReferences(t.Filter, schemas) {
			if !seen[ref.Key()] {
				return fmt.Errorf("%w: %s filter reads %s", ErrForwardReference, t.TableRef, ref)
			}
		}
		seen[key] = true
	}
	return nil
}

// localReferences returns the plan-schema tables a filter reads on the target.
func localReferences(filter string, schemas map[string]bool) []models.TableRef {
	if filter == "" {
		return nil
	}
	var refs []models.TableRef
	code := literalOrComment.ReplaceAllString(filter, " ")
	for _, m := range localTableRef.FindAllStringSubmatch(code, -1) {
		if m[3] != "" || !schemas[strings.ToUpper(m[1])] {
			continue
		}
		refs = append(refs, models.TableRef{Schema: m[1], Table: m[2]})
	}
	return refs
}
