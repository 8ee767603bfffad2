package option

import (
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type customer struct {
	ID   int64
	Name string
}

func TestRenderEscapesLikeWildcards(t *testing.T) {
	sql, arg, ok := render(Condition{Field: "customer_name", Operator: ILIKE, Value: "50%_Off!"})
	require.True(t, ok)
	assert.Equal(t, "LOWER(customer_name) LIKE ? ESCAPE '!'", sql)
	assert.Equal(t, "%50!%!_off!!%", arg)
}

func TestILikeMatchesWildcardsLiterally(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:option_like?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&customer{}))
	require.NoError(t, db.Create([]customer{
		{ID: 1, Name: "Acme 50% Traders"},
		{ID: 2, Name: "Acme 500 Traders"},
		{ID: 3, Name: "Beta_Corp"},
		{ID: 4, Name: "BetaXCorp"},
	}).Error)

	find := func(text string) []int64 {
		var rows []customer
		q := ApplyOperator(Condition{Field: "name", Operator: ILIKE, Value: text}).Apply(db.Model(&customer{}))
		require.NoError(t, q.Order("id").Find(&rows).Error)
		ids := make([]int64, 0, len(rows))
		for _, r := range rows {
			ids = append(ids, r.ID)
		}
		return ids
	}

	assert.Equal(t, []int64{1}, find("50%"))
	assert.Equal(t, []int64{3}, find("beta_"))
	assert.Equal(t, []int64{1, 2}, find("ACME"))
}
