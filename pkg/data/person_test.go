package data

import (
	"strings"
	"testing"

	"github.com/mchmarny/sctl/pkg/screen"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCSV = `person_id,eligible,ps_01,ps_02,dv_01,dv_02
p1,true,1,0,1,1
p2,false,0,1,,0
p3,true,1,x,1,1
`

func TestImportResponsesCSV(t *testing.T) {
	db := setupTestDB(t)

	res, err := ImportResponsesCSV(db, strings.NewReader(testCSV))
	require.NoError(t, err)
	assert.Equal(t, 3, res.Persons)
	assert.Equal(t, 4, res.Items)
	assert.Equal(t, 10, res.Responses)
	assert.Equal(t, 1, res.Skipped)
}

func TestImportResponsesCSV_BadHeader(t *testing.T) {
	db := setupTestDB(t)

	_, err := ImportResponsesCSV(db, strings.NewReader("id,name\np1,x\n"))
	assert.Error(t, err)

	_, err = ImportResponsesCSV(db, strings.NewReader("person_id,eligible,q1\np1,true,1\n"))
	assert.Error(t, err, "item column without domain prefix")

	_, err = ImportResponsesCSV(db, strings.NewReader("person_id,eligible,ps_01,ps_01\np1,true,1,0\n"))
	assert.Error(t, err, "duplicate item column")
}

func TestImportResponsesCSV_Reimport(t *testing.T) {
	db := setupTestDB(t)

	_, err := ImportResponsesCSV(db, strings.NewReader(testCSV))
	require.NoError(t, err)
	_, err = ImportResponsesCSV(db, strings.NewReader(testCSV))
	require.NoError(t, err)

	var persons, responses int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM person").Scan(&persons))
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM response").Scan(&responses))
	assert.Equal(t, 3, persons)
	assert.Equal(t, 10, responses)
}

func TestGetMatrix(t *testing.T) {
	db := setupTestDB(t)

	_, err := ImportResponsesCSV(db, strings.NewReader(testCSV))
	require.NoError(t, err)

	m, err := GetMatrix(db)
	require.NoError(t, err)
	require.Len(t, m.Items, 4)
	require.Len(t, m.Persons, 3)

	assert.Equal(t, "dv_01", m.Items[0].ID)
	assert.Equal(t, screen.DomainDevelopmental, m.Items[0].Domain)
	assert.True(t, m.Items[0].Active)
	assert.Equal(t, screen.DomainPsychosocial, m.Items[2].Domain)

	assert.Equal(t, "p1", m.Persons[0].ID)
	assert.True(t, m.Persons[0].PriorEligible)
	assert.False(t, m.Persons[1].PriorEligible)
	assert.Len(t, m.Persons[0].Responses, 4)
	assert.Len(t, m.Persons[1].Responses, 3)
	assert.Len(t, m.Persons[2].Responses, 3)

	assert.NoError(t, m.Validate())
}

func TestGetMatrix_Empty(t *testing.T) {
	db := setupTestDB(t)

	m, err := GetMatrix(db)
	require.NoError(t, err)
	assert.Empty(t, m.Items)
	assert.Empty(t, m.Persons)
}
