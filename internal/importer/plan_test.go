package importer

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/willibrandon/eventimport/internal/models"
)

func basePlan() *Plan {
	return NewPlan().
		ImportFrom("JADE_PROD").
		ImportSchema("JADE").
		ImportSchema("JADE_REPORTS").
		RemapTablespace("WJ_DATA", "USERS").
		FilterParam("eventid", "100")
}

func TestPlan_ImportFromRegistersAliases(t *testing.T) {
	p := basePlan()
	assert.Equal(t, "JADE_PROD", p.Params[SourceAliasParam])
	assert.Equal(t, "JADE_PROD", p.Params[SourceCurrentParam])
}

func TestPlan_DuplicateTableRejected(t *testing.T) {
	p := basePlan()
	require.NoError(t, p.ImportTable("JADE", "EVENT", ""))

	err := p.ImportTable("jade", "event", "where 1 = 1")
	require.ErrorIs(t, err, ErrDuplicateTable)
	assert.Len(t, p.Tables, 1)
	assert.Empty(t, p.Tables[0].Filter, "first registration must be kept")
}

func TestPlan_ImportTableRequiresNames(t *testing.T) {
	p := basePlan()
	err := p.ImportTable("", "EVENT", "")
	require.ErrorIs(t, err, ErrInvalidPlan)
}

func TestPlan_Validate(t *testing.T) {
	tests := []struct {
		name    string
		build   func() *Plan
		wantErr error
	}{
		{
			name: "valid",
			build: func() *Plan {
				p := basePlan()
				_ = p.ImportTable("JADE", "EVENT", "where eventid in (:eventid)")
				_ = p.ImportTable("JADE", "CLIENT", `where exists (select * from jade.event@:sourcedb e
				                                      where e.clientid = x.clientid)`)
				return p
			},
		},
		{
			name:    "missing link",
			build:   func() *Plan { return NewPlan().ImportSchema("JADE") },
			wantErr: ErrInvalidPlan,
		},
		{
			name:    "missing schemas",
			build:   func() *Plan { return NewPlan().ImportFrom("L") },
			wantErr: ErrInvalidPlan,
		},
		{
			name: "table outside imported schemas",
			build: func() *Plan {
				p := basePlan()
				_ = p.ImportTable("OTHER", "T", "")
				return p
			},
			wantErr: ErrInvalidPlan,
		},
		{
			name: "incomplete remap",
			build: func() *Plan {
				return basePlan().RemapTablespace("WJ_LOB", "")
			},
			wantErr: ErrInvalidPlan,
		},
		{
			name: "local reference to earlier table",
			build: func() *Plan {
				p := basePlan()
				_ = p.ImportTable("JADE", "PERSON", "")
				_ = p.ImportTable("JADE", "PERSONUDFVALUE",
					"where exists (select * from jade.person p where p.personid = x.personid)")
				return p
			},
		},
		{
			name: "local reference to later table",
			build: func() *Plan {
				p := basePlan()
				_ = p.ImportTable("JADE", "PERSONUDFVALUE",
					"where exists (select * from jade.person p where p.personid = x.personid)")
				_ = p.ImportTable("JADE", "PERSON", "")
				return p
			},
			wantErr: ErrForwardReference,
		},
		{
			name: "local reference to unconfigured table",
			build: func() *Plan {
				p := basePlan()
				_ = p.ImportTable("JADE", "PERSON",
					"where exists (select * from jade.person_temp_list t where t.personid = x.personid)")
				return p
			},
			wantErr: ErrForwardReference,
		},
		{
			name: "schema-like text in literals and comments",
			build: func() *Plan {
				p := basePlan()
				_ = p.ImportTable("JADE", "AORN_PLUGINCONFIG", `where x.aorn_soap_url like 'http://jade.example.org/%'
				   and x.note <> 'it''s jade.person' -- not jade.person either
				   /* nor jade.client */`)
				return p
			},
		},
		{
			name: "reference after a literal is still checked",
			build: func() *Plan {
				p := basePlan()
				_ = p.ImportTable("JADE", "AORN_PLUGINCONFIG",
					"where x.url like 'http://jade.example.org/%' and exists (select 1 from jade.person p)")
				return p
			},
			wantErr: ErrForwardReference,
		},
		{
			name: "remote reference with whitespace before link",
			build: func() *Plan {
				p := basePlan()
				_ = p.ImportTable("JADE", "PERSON",
					"where exists (select * from jade.person_temp_list @:sourcedb_current t)")
				return p
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.build().Validate()
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Validate() = %v; want %v", err, tt.wantErr)
			}
		})
	}
}

func TestPlan_RunParamsDoesNotMutatePlan(t *testing.T) {
	p := basePlan()
	params := p.RunParams(models.ConsistencyToken(555))

	assert.Equal(t, "555", params[SCNParam])
	_, ok := p.Params[SCNParam]
	assert.False(t, ok, "plan params must not gain the scn")
	assert.Equal(t, "100", params["eventid"])
}

func TestPlan_TableRefsPreserveOrder(t *testing.T) {
	p := basePlan()
	require.NoError(t, p.ImportTable("JADE", "B", ""))
	require.NoError(t, p.ImportTable("JADE", "A", ""))
	require.NoError(t, p.ImportTable("JADE_REPORTS", "C", ""))

	refs := p.TableRefs()
	require.Len(t, refs, 3)
	assert.Equal(t, "JADE.B", refs[0].Key())
	assert.Equal(t, "JADE.A", refs[1].Key())
	assert.Equal(t, "JADE_REPORTS.C", refs[2].Key())
}
