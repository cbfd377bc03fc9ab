package db

import (
	"fmt"
	"strings"

	sharedDomain "github.com/davicafu/sagalab/shared/domain"
	sharedQuery "github.com/davicafu/sagalab/shared/platform/query"
	sharedUtils "github.com/davicafu/sagalab/shared/utils"
)

// Placeholder genera el marcador del argumento n (1-based) de cada motor.
type Placeholder func(n int) string

func QuestionMark(int) string { return "?" }

func Dollar(n int) string { return fmt.Sprintf("$%d", n) }

// ApplyCriteria traduce criterios a una cláusula WHERE (sin la palabra clave).
// firstArg es la posición del primer argumento, para encadenar con otros parámetros.
func ApplyCriteria(criteria sharedDomain.Criteria, ph Placeholder, firstArg int) (string, []interface{}) {
	if criteria == nil {
		return "", nil
	}
	conds := criteria.ToConditions()
	if len(conds) == 0 {
		return "", nil
	}

	clauses := make([]string, 0, len(conds))
	args := make([]interface{}, 0, len(conds))
	for i, c := range conds {
		clauses = append(clauses, fmt.Sprintf("%s %s %s", c.Field, c.Op, ph(firstArg+i)))
		args = append(args, c.Value)
	}
	return strings.Join(clauses, " AND "), args
}

// OrderBy devuelve "ORDER BY campo DIR". El campo ya debe venir validado con SafeSort.
func OrderBy(s sharedQuery.Sort, tieBreaker string) string {
	dir := sharedUtils.Ternary(s.Desc, "DESC", "ASC")
	order := fmt.Sprintf(" ORDER BY %s %s", s.Field, dir)
	if tieBreaker != "" && tieBreaker != s.Field {
		order += fmt.Sprintf(", %s %s", tieBreaker, dir)
	}
	return order
}
