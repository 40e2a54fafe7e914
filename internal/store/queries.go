package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/assadlabs/ansflow/internal/schema"
)

// OperatorPage is one page of a filtered operator listing.
type OperatorPage struct {
	Operators []schema.Operator
	Total     int64
	Page      int
	PageSize  int
}

// TotalPages returns the number of pages the full match set spans.
func (p OperatorPage) TotalPages() int64 {
	if p.PageSize <= 0 {
		return 0
	}
	return (p.Total + int64(p.PageSize) - 1) / int64(p.PageSize)
}

// ExpenseEntry is one expense row in an operator's history.
type ExpenseEntry struct {
	ID          int64
	Amount      decimal.Decimal
	Quarter     string
	Year        int
	Description string
}

// GrowthEntry is one row of the growth ranking.
type GrowthEntry struct {
	RegistroANS string
	LegalName   string
	FirstTotal  decimal.Decimal
	LastTotal   decimal.Decimal
	GrowthPct   decimal.Decimal
}

// StateDistribution aggregates expenses for one federative unit.
type StateDistribution struct {
	UF                 string
	Total              decimal.Decimal
	Operators          int64
	AveragePerOperator decimal.Decimal
}

// AboveAverageEntry counts the quarters in which one operator's total
// exceeded the market-wide per-operator average for that quarter.
type AboveAverageEntry struct {
	RegistroANS   string
	LegalName     string
	QuartersAbove int64
}

// ListOperators returns one page of operators, optionally filtered by a
// case-insensitive substring of the legal name, ordered by registro_ans
// for deterministic pagination. Pages past the end come back empty.
func (s *Store) ListOperators(ctx context.Context, page, pageSize int, search string) (*OperatorPage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}
	if pageSize > s.maxPageSize {
		pageSize = s.maxPageSize
	}

	result := &OperatorPage{Page: page, PageSize: pageSize, Operators: []schema.Operator{}}

	err := s.withSharedLock(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		where := ""
		args := []any{}
		if search != "" {
			where = " WHERE legal_name ILIKE '%' || $1 || '%'"
			args = append(args, escapeLike(search))
		}

		countQuery := "SELECT COUNT(*) FROM operators" + where
		if err := conn.QueryRow(ctx, countQuery, args...).Scan(&result.Total); err != nil {
			return fmt.Errorf("count operators: %w", err)
		}

		argIndex := len(args) + 1
		query := fmt.Sprintf(
			`SELECT registro_ans, cnpj, legal_name, modality, uf
			 FROM operators%s
			 ORDER BY registro_ans
			 LIMIT $%d OFFSET $%d`,
			where, argIndex, argIndex+1)
		args = append(args, pageSize, (page-1)*pageSize)

		rows, err := conn.Query(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("list operators: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var op schema.Operator
			if err := rows.Scan(&op.RegistroANS, &op.CNPJ, &op.LegalName, &op.Modality, &op.UF); err != nil {
				return fmt.Errorf("scan operator: %w", err)
			}
			result.Operators = append(result.Operators, op)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// escapeLike neutralizes LIKE metacharacters in a user-supplied filter so
// the search stays a literal substring match.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}

// GetOperator returns the full registry record for one identifier, or
// ErrNotFound.
func (s *Store) GetOperator(ctx context.Context, registroANS string) (*schema.Operator, error) {
	var op schema.Operator
	err := s.withSharedLock(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		err := conn.QueryRow(ctx,
			`SELECT registro_ans, cnpj, legal_name, modality, uf
			 FROM operators WHERE registro_ans = $1`,
			schema.CleanIdentifier(registroANS),
		).Scan(&op.RegistroANS, &op.CNPJ, &op.LegalName, &op.Modality, &op.UF)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &op, nil
}

// ListExpenses returns every expense row for one operator, ordered by
// year then quarter ascending.
func (s *Store) ListExpenses(ctx context.Context, registroANS string) ([]ExpenseEntry, error) {
	entries := []ExpenseEntry{}
	err := s.withSharedLock(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		rows, err := conn.Query(ctx,
			`SELECT id, amount, quarter, year, description
			 FROM expenses WHERE registro_ans = $1
			 ORDER BY year, quarter, id`,
			schema.CleanIdentifier(registroANS))
		if err != nil {
			return fmt.Errorf("list expenses: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var e ExpenseEntry
			var amount pgtype.Numeric
			if err := rows.Scan(&e.ID, &amount, &e.Quarter, &e.Year, &e.Description); err != nil {
				return fmt.Errorf("scan expense: %w", err)
			}
			e.Amount = DecimalFromNumeric(amount)
			entries = append(entries, e)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// TopGrowth ranks operators by percentage change between their earliest
// and latest fiscal period totals. Operators need at least two distinct
// periods; an earliest-period total of zero excludes the operator (the
// percentage would be undefined). Top 5 by descending growth.
func (s *Store) TopGrowth(ctx context.Context) ([]GrowthEntry, error) {
	const query = `
		WITH totals AS (
			SELECT registro_ans, year, quarter, SUM(amount) AS total
			FROM expenses
			GROUP BY registro_ans, year, quarter
		), ranked AS (
			SELECT registro_ans, total,
			       ROW_NUMBER() OVER (PARTITION BY registro_ans ORDER BY year, quarter) AS rn_first,
			       ROW_NUMBER() OVER (PARTITION BY registro_ans ORDER BY year DESC, quarter DESC) AS rn_last,
			       COUNT(*) OVER (PARTITION BY registro_ans) AS periods
			FROM totals
		)
		SELECT f.registro_ans, o.legal_name, f.total, l.total,
		       ROUND((l.total - f.total) * 100 / f.total, 2) AS growth_pct
		FROM ranked f
		JOIN ranked l USING (registro_ans)
		JOIN operators o USING (registro_ans)
		WHERE f.rn_first = 1 AND l.rn_last = 1
		  AND f.periods >= 2
		  AND f.total <> 0
		ORDER BY growth_pct DESC, f.registro_ans
		LIMIT 5`

	entries := []GrowthEntry{}
	err := s.withSharedLock(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		rows, err := conn.Query(ctx, query)
		if err != nil {
			return fmt.Errorf("growth ranking: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var e GrowthEntry
			var first, last, pct pgtype.Numeric
			if err := rows.Scan(&e.RegistroANS, &e.LegalName, &first, &last, &pct); err != nil {
				return fmt.Errorf("scan growth row: %w", err)
			}
			e.FirstTotal = DecimalFromNumeric(first)
			e.LastTotal = DecimalFromNumeric(last)
			e.GrowthPct = DecimalFromNumeric(pct)
			entries = append(entries, e)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// ExpensesByState aggregates totals per federative unit: total expense,
// number of distinct contributing operators, and the average of
// per-operator totals within the state. Top 5 by descending total.
func (s *Store) ExpensesByState(ctx context.Context) ([]StateDistribution, error) {
	const query = `
		WITH per_operator AS (
			SELECT o.uf, e.registro_ans, SUM(e.amount) AS total
			FROM expenses e
			JOIN operators o USING (registro_ans)
			GROUP BY o.uf, e.registro_ans
		)
		SELECT uf, SUM(total) AS total, COUNT(*) AS operators,
		       ROUND(AVG(total), 2) AS avg_per_operator
		FROM per_operator
		GROUP BY uf
		ORDER BY total DESC, uf
		LIMIT 5`

	entries := []StateDistribution{}
	err := s.withSharedLock(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		rows, err := conn.Query(ctx, query)
		if err != nil {
			return fmt.Errorf("state distribution: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var e StateDistribution
			var total, avg pgtype.Numeric
			if err := rows.Scan(&e.UF, &total, &e.Operators, &avg); err != nil {
				return fmt.Errorf("scan state row: %w", err)
			}
			e.Total = DecimalFromNumeric(total)
			e.AveragePerOperator = DecimalFromNumeric(avg)
			entries = append(entries, e)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// AboveAverageQuarters computes the market-wide average per-operator total
// for each (year, quarter), then counts per operator the quarters whose
// own total exceeded it. Only operators beating the average in at least
// two quarters are returned.
func (s *Store) AboveAverageQuarters(ctx context.Context) ([]AboveAverageEntry, error) {
	const query = `
		WITH per_operator_quarter AS (
			SELECT registro_ans, year, quarter, SUM(amount) AS total
			FROM expenses
			GROUP BY registro_ans, year, quarter
		), market AS (
			SELECT year, quarter, AVG(total) AS avg_total
			FROM per_operator_quarter
			GROUP BY year, quarter
		)
		SELECT p.registro_ans, o.legal_name, COUNT(*) AS quarters_above
		FROM per_operator_quarter p
		JOIN market m USING (year, quarter)
		JOIN operators o USING (registro_ans)
		WHERE p.total > m.avg_total
		GROUP BY p.registro_ans, o.legal_name
		HAVING COUNT(*) >= 2
		ORDER BY quarters_above DESC, p.registro_ans`

	entries := []AboveAverageEntry{}
	err := s.withSharedLock(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		rows, err := conn.Query(ctx, query)
		if err != nil {
			return fmt.Errorf("above-average quarters: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var e AboveAverageEntry
			if err := rows.Scan(&e.RegistroANS, &e.LegalName, &e.QuartersAbove); err != nil {
				return fmt.Errorf("scan above-average row: %w", err)
			}
			entries = append(entries, e)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}
