package warehouse

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"google.golang.org/api/bigquery/v2"
	"google.golang.org/api/googleapi"

	"github.com/actuallystonmai/purchase-recommender/internal/domain"
)

const (
	resultWaitMs      = 10_000
	pendingJobBackoff = 500 * time.Millisecond
)

// BigQuery runs standard-SQL jobs against project.dataset.table. User input is
// only ever passed as named query parameters.
type BigQuery struct {
	svc      *bigquery.Service
	project  string
	location string
	table    string
}

// NewBigQuery expects identifiers that were validated by config.Load.
func NewBigQuery(svc *bigquery.Service, project, location, dataset, table string) *BigQuery {
	return &BigQuery{
		svc:      svc,
		project:  project,
		location: location,
		table:    fmt.Sprintf("`%s.%s.%s`", project, dataset, table),
	}
}

func (b *BigQuery) PurchasedProductIDs(ctx context.Context, userID string) ([]string, error) {
	rs, err := b.run(ctx,
		fmt.Sprintf(`SELECT DISTINCT product_id
		FROM %s
		WHERE user_id = @user_id AND purchased = 1`, b.table),
		stringParam("user_id", userID),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "warehouse: query purchases for user %q", userID)
	}

	ids := make([]string, 0, len(rs.rows))
	for _, row := range rs.rows {
		ids = append(ids, rs.str(row, "product_id"))
	}
	return dedupe(ids), nil
}

func (b *BigQuery) Catalog(ctx context.Context) ([]domain.Product, error) {
	rs, err := b.run(ctx,
		fmt.Sprintf(`SELECT DISTINCT product_id, category, price, season
		FROM %s
		ORDER BY product_id, category, price, season`, b.table),
	)
	if err != nil {
		return nil, eris.Wrap(err, "warehouse: query catalog")
	}

	items := make([]domain.Product, 0, len(rs.rows))
	for _, row := range rs.rows {
		price, err := rs.float(row, "price")
		if err != nil {
			return nil, eris.Wrapf(err, "warehouse: parse price of %q", rs.str(row, "product_id"))
		}
		items = append(items, domain.Product{
			ID:       rs.str(row, "product_id"),
			Category: rs.str(row, "category"),
			Price:    price,
			Season:   rs.str(row, "season"),
		})
	}
	return items, nil
}

func stringParam(name, value string) *bigquery.QueryParameter {
	return &bigquery.QueryParameter{
		Name:           name,
		ParameterType:  &bigquery.QueryParameterType{Type: "STRING"},
		ParameterValue: &bigquery.QueryParameterValue{Value: value},
	}
}

type resultSet struct {
	columns map[string]int
	rows    []*bigquery.TableRow
}

// run executes a query and drains every result page.
func (b *BigQuery) run(ctx context.Context, sql string, params ...*bigquery.QueryParameter) (*resultSet, error) {
	req := &bigquery.QueryRequest{
		Query:           sql,
		UseLegacySql:    googleapi.Bool(false),
		Location:        b.location,
		TimeoutMs:       resultWaitMs,
		QueryParameters: params,
	}
	if len(params) > 0 {
		req.ParameterMode = "NAMED"
	}

	resp, err := b.svc.Jobs.Query(b.project, req).Context(ctx).Do()
	if err != nil {
		return nil, eris.Wrap(err, "bigquery: submit query")
	}

	rs := &resultSet{}
	rs.setSchema(resp.Schema)
	rs.rows = append(rs.rows, resp.Rows...)
	complete, token := resp.JobComplete, resp.PageToken

	for !complete || token != "" {
		if resp.JobReference == nil {
			return nil, eris.New("bigquery: response has no job reference")
		}
		location := resp.JobReference.Location
		if location == "" {
			location = b.location
		}
		call := b.svc.Jobs.GetQueryResults(b.project, resp.JobReference.JobId).
			Location(location).
			TimeoutMs(resultWaitMs).
			Context(ctx)
		if token != "" {
			call = call.PageToken(token)
		}

		page, err := call.Do()
		if err != nil {
			return nil, eris.Wrapf(err, "bigquery: fetch results of job %s", resp.JobReference.JobId)
		}
		if !page.JobComplete {
			zap.L().Debug("bigquery job still running",
				zap.String("component", "warehouse"),
				zap.String("job_id", resp.JobReference.JobId))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(pendingJobBackoff):
			}
			continue
		}
		if !complete {
			complete = true
			rs.setSchema(page.Schema)
		}
		rs.rows = append(rs.rows, page.Rows...)
		token = page.PageToken
	}

	return rs, nil
}

func (rs *resultSet) setSchema(schema *bigquery.TableSchema) {
	if schema == nil || rs.columns != nil {
		return
	}
	rs.columns = make(map[string]int, len(schema.Fields))
	for i, f := range schema.Fields {
		rs.columns[f.Name] = i
	}
}

func (rs *resultSet) value(row *bigquery.TableRow, column string) any {
	idx, ok := rs.columns[column]
	if !ok || row == nil || idx >= len(row.F) || row.F[idx] == nil {
		return nil
	}
	return row.F[idx].V
}

func (rs *resultSet) str(row *bigquery.TableRow, column string) string {
	v := rs.value(row, column)
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func (rs *resultSet) float(row *bigquery.TableRow, column string) (float64, error) {
	switch v := rs.value(row, column).(type) {
	case nil:
		return 0, nil
	case float64:
		return v, nil
	case string:
		return strconv.ParseFloat(v, 64)
	default:
		return strconv.ParseFloat(fmt.Sprint(v), 64)
	}
}

var _ Warehouse = (*BigQuery)(nil)
